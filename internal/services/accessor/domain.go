package accessor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// domainAccessor stores a reference to an entity of the domain type in the
// setting column
type domainAccessor struct {
	attrBase
	accepted []int64
}

func newDomain(schema *entities.Schema, attr *entities.Attribute) *domainAccessor {
	return &domainAccessor{attrBase: attrBase{attr: attr}, accepted: schema.TypeAndSubtypes(attr.DomainType)}
}

func (a *domainAccessor) DefaultValue() any { return int64(0) }

func (a *domainAccessor) IsSet(v any) bool {
	id, _ := v.(int64)
	return id != 0
}

func (a *domainAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, equalityMatches, isInt64)
}

func (a *domainAccessor) MatchesValue(v any, c Condition) bool {
	id, _ := v.(int64)
	return matchCompare(id, c, false)
}

func (a *domainAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	if c.Match == MatchNotEqual {
		return negate(a, c)
	}
	ids := nonZero(c.Value)
	if len(ids) == 0 {
		return finish(a, c, query.False{}, false), nil
	}
	return finish(a, c, hasRow(a.attr.ID, rowEquals(query.FieldSetting, ids, false)), false), nil
}

func (a *domainAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return int64(0), nil
	}
	return rows[0].Setting, nil
}

func (a *domainAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	id, ok := v.(int64)
	if !ok {
		return a.wrongType(path, v)
	}
	if id < 0 {
		return a.invalid(path, "%d is not an entity id", id)
	}
	if id == 0 {
		return nil
	}
	chk.AddReference(a.accepted, id, path)
	if a.attr.Unique {
		chk.AddUnique(a.attr, strconv.FormatInt(id, 10), path)
	}
	return nil
}

func (a *domainAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	if id, _ := v.(int64); id != 0 {
		enc.addRow(entities.SettingRow{Attribute: a.attr.ID, Setting: id}, -1)
	}
	return enc, nil
}

func (a *domainAccessor) ImportValue(ctx context.Context, env *Env, wire any) (any, error) {
	return importReference(ctx, env, a.attr.DomainType, wire)
}

func (a *domainAccessor) ExportValue(ctx context.Context, env *Env, v any) (any, error) {
	id, _ := v.(int64)
	return exportReference(ctx, env, id)
}

func (a *domainAccessor) UniqueKey(row *entities.SettingRow) string {
	return strconv.FormatInt(row.Setting, 10)
}

// domainArrayAccessor stores one row per referenced entity, ordered as given
type domainArrayAccessor struct {
	attrBase
	accepted []int64
}

func (a *domainArrayAccessor) DefaultValue() any { return []int64(nil) }

func (a *domainArrayAccessor) IsSet(v any) bool {
	ids, _ := v.([]int64)
	return len(ids) > 0
}

func (a *domainArrayAccessor) CheckFilter(c Condition) error {
	switch c.Match {
	case MatchMentions:
		if id, ok := c.Value.(int64); !ok || id == 0 {
			return fmt.Errorf("%w: %s mentions needs a non-zero entity id", ErrUnsupportedFilter, a.attr.Tag)
		}
		return nil
	case MatchMentionsAny:
		if len(nonZero(c.Value)) == 0 {
			return fmt.Errorf("%w: %s mentionsany needs a non-empty list of entity ids", ErrUnsupportedFilter, a.attr.Tag)
		}
		return nil
	case MatchEqual, MatchNotEqual:
		if _, ok := c.Value.([]int64); !ok && c.Value != nil {
			return fmt.Errorf("%w: %s %s needs a list of entity ids", ErrUnsupportedFilter, a.attr.Tag, c.Match)
		}
		return nil
	}
	return a.unsupported(c)
}

func (a *domainArrayAccessor) MatchesValue(v any, c Condition) bool {
	ids, _ := v.([]int64)
	switch c.Match {
	case MatchMentions:
		want, _ := c.Value.(int64)
		return slices.Contains(ids, want)
	case MatchMentionsAny:
		for _, want := range nonZero(c.Value) {
			if slices.Contains(ids, want.(int64)) {
				return true
			}
		}
		return false
	case MatchEqual, MatchNotEqual:
		want, _ := c.Value.([]int64)
		equal := slices.Equal(sortedIDs(ids), sortedIDs(want))
		return equal == (c.Match == MatchEqual)
	}
	return false
}

func (a *domainArrayAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	switch c.Match {
	case MatchMentions, MatchMentionsAny:
		return finish(a, c, hasRow(a.attr.ID, rowEquals(query.FieldSetting, nonZero(c.Value), false)), false), nil
	case MatchNotEqual:
		return negate(a, c)
	}
	want := sortedIDs(c.Value.([]int64))
	if len(want) == 0 {
		return finish(a, c, query.False{}, false), nil
	}
	// every wanted id must be present; extra ids are ruled out afterwards
	preds := make([]query.Predicate, 0, len(want))
	for _, id := range want {
		preds = append(preds, hasRow(a.attr.ID, query.RowCompare{Field: query.FieldSetting, Op: query.OpEqual, Value: id}))
	}
	return finish(a, c, query.AllOf(preds...), true), nil
}

func (a *domainArrayAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return []int64(nil), nil
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Setting)
	}
	return ids, nil
}

func (a *domainArrayAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	ids, ok := v.([]int64)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	for i, id := range ids {
		if id <= 0 {
			return a.invalid(fmt.Sprintf("%s[%d]", path, i), "%d is not an entity id", id)
		}
		chk.AddReference(a.accepted, id, fmt.Sprintf("%s[%d]", path, i))
	}
	return nil
}

func (a *domainArrayAccessor) EncodeValue(v any) (*Encoded, error) {
	ids, _ := v.([]int64)
	enc := &Encoded{}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		enc.addRow(entities.SettingRow{Attribute: a.attr.ID, Setting: id, Ordering: int32(len(enc.Rows) + 1)}, -1)
	}
	return enc, nil
}

func (a *domainArrayAccessor) ImportValue(ctx context.Context, env *Env, wire any) (any, error) {
	items, err := wireList(wire)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := importReference(ctx, env, a.attr.DomainType, item)
		if err != nil {
			return nil, err
		}
		out = append(out, id.(int64))
	}
	return out, nil
}

func (a *domainArrayAccessor) ExportValue(ctx context.Context, env *Env, v any) (any, error) {
	ids, _ := v.([]int64)
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		ref, err := exportReference(ctx, env, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

func isInt64(v any) bool {
	_, ok := v.(int64)
	return ok
}

// nonZero collects the non-zero ids of a single id or a list
func nonZero(v any) []any {
	var out []any
	switch val := v.(type) {
	case int64:
		if val != 0 {
			out = append(out, val)
		}
	case []any:
		for _, item := range val {
			if id, ok := item.(int64); ok && id != 0 {
				out = append(out, id)
			}
		}
	}
	return out
}

func sortedIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// importReference accepts a numeric id, or a guid or tag resolved within the
// domain type
func importReference(ctx context.Context, env *Env, domainType int64, wire any) (any, error) {
	if s, ok := wire.(string); ok {
		if s == "" {
			return int64(0), nil
		}
		if env == nil || env.Resolver == nil {
			return nil, entities.Internalf("no resolver for reference %q", s)
		}
		id, err := env.Resolver.Resolve(ctx, domainType, s)
		if err != nil {
			if errors.Is(err, entities.ErrNotResolvable) {
				return nil, fmt.Errorf("%w: %q", err, s)
			}
			return nil, fmt.Errorf("failed to resolve %q: %w", s, err)
		}
		return id, nil
	}
	id, err := wireInt64(wire)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// exportReference re-resolves an entity id to its guid
func exportReference(ctx context.Context, env *Env, id int64) (any, error) {
	if id == 0 {
		return nil, nil
	}
	if env == nil || env.Resolver == nil {
		return nil, entities.Internalf("no resolver for entity %d", id)
	}
	guid, err := env.Resolver.GUID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve guid of entity %d: %w", id, err)
	}
	return guid.String(), nil
}
