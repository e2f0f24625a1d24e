package accessor

import (
	"context"
	"fmt"
	"sort"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// SettingIDField is the element key carrying the id of an array element's root
// row. Passing it back on update keeps the element's rows in place.
const SettingIDField = "wrd_settingid"

// arrayAccessor stores each element as a root row (ordering 1..n) with the
// rows of its members below it
type arrayAccessor struct {
	attrBase
	children []Accessor
}

func (a *arrayAccessor) child(tag string) Accessor {
	for _, c := range a.children {
		if c.Attribute().Tag == tag {
			return c
		}
	}
	return nil
}

func (a *arrayAccessor) childTags() []string {
	tags := make([]string, 0, len(a.children))
	for _, c := range a.children {
		tags = append(tags, c.Attribute().Tag)
	}
	return tags
}

func (a *arrayAccessor) DefaultValue() any { return []map[string]any(nil) }

func (a *arrayAccessor) IsSet(v any) bool {
	list, _ := v.([]map[string]any)
	return len(list) > 0
}

func (a *arrayAccessor) CheckFilter(c Condition) error {
	return checkPresence(a.attrBase, c)
}

func (a *arrayAccessor) MatchesValue(v any, c Condition) bool {
	return matchPresence(a.IsSet(v), c)
}

func (a *arrayAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return presencePushdown(a.attr.ID, c), nil
}

func (a *arrayAccessor) GetFromRecord(ctx context.Context, env *Env, rec *Record, start, limit int) (any, error) {
	roots := rowsIn(rec, start, limit)
	if len(roots) == 0 {
		return []map[string]any(nil), nil
	}
	out := make([]map[string]any, 0, len(roots))
	for _, root := range roots {
		elem := map[string]any{SettingIDField: root.ID}
		for _, c := range a.children {
			s, l := rec.Range(c.Attribute().ID, root.ID)
			v, err := c.GetFromRecord(ctx, env, rec, s, l)
			if err != nil {
				return nil, err
			}
			elem[c.Attribute().Tag] = v
		}
		out = append(out, elem)
	}
	return out, nil
}

// unknownMember rejects element keys that name no member
func (a *arrayAccessor) unknownMember(elem map[string]any) error {
	keys := make([]string, 0, len(elem))
	for k := range elem {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != SettingIDField && a.child(k) == nil {
			return UnknownField(a.attr.Tag+"."+k, k, a.childTags())
		}
	}
	return nil
}

func (a *arrayAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	list, ok := v.([]map[string]any)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	for i, elem := range list {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		if elem == nil {
			return a.invalid(elemPath, "array element is empty")
		}
		if err := a.unknownMember(elem); err != nil {
			return err
		}
		if id, present := elem[SettingIDField]; present {
			if _, ok := id.(int64); !ok {
				return a.invalid(elemPath+"."+SettingIDField, "setting id must be an integer")
			}
		}
		for _, c := range a.children {
			value, present := elem[c.Attribute().Tag]
			if !present {
				value = c.DefaultValue()
			}
			if err := c.ValidateInput(value, chk, elemPath+"."+c.Attribute().Tag); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *arrayAccessor) EncodeValue(v any) (*Encoded, error) {
	list, _ := v.([]map[string]any)
	enc := &Encoded{}
	for i, elem := range list {
		if err := a.unknownMember(elem); err != nil {
			return nil, err
		}
		root := entities.SettingRow{Attribute: a.attr.ID, Ordering: int32(i + 1)}
		if id, ok := elem[SettingIDField].(int64); ok {
			root.ID = id
		}
		idx := enc.addRow(root, -1)
		for _, c := range a.children {
			value, present := elem[c.Attribute().Tag]
			if !present {
				continue
			}
			sub, err := c.EncodeValue(value)
			if err != nil {
				return nil, err
			}
			if len(sub.Columns) > 0 {
				return nil, entities.Internalf("array member %s encodes entity columns", c.Attribute().Tag)
			}
			enc.merge(sub, idx)
		}
	}
	return enc, nil
}

func (a *arrayAccessor) ImportValue(ctx context.Context, env *Env, wire any) (any, error) {
	items, err := wireList(wire)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, err := wireMap(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elem := make(map[string]any, len(m))
		for k, w := range m {
			if k == SettingIDField {
				id, err := wireInt64(w)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				elem[k] = id
				continue
			}
			c := a.child(k)
			if c == nil {
				return nil, UnknownField(a.attr.Tag+"."+k, k, a.childTags())
			}
			v, err := c.ImportValue(ctx, env, w)
			if err != nil {
				return nil, fmt.Errorf("element %d: %s: %w", i, k, err)
			}
			elem[k] = v
		}
		out = append(out, elem)
	}
	return out, nil
}

func (a *arrayAccessor) ExportValue(ctx context.Context, env *Env, v any) (any, error) {
	list, _ := v.([]map[string]any)
	out := make([]any, 0, len(list))
	for _, elem := range list {
		m := make(map[string]any, len(elem))
		for k, value := range elem {
			if k == SettingIDField {
				m[k] = value
				continue
			}
			c := a.child(k)
			if c == nil {
				continue
			}
			w, err := c.ExportValue(ctx, env, value)
			if err != nil {
				return nil, err
			}
			m[k] = w
		}
		out = append(out, m)
	}
	return out, nil
}
