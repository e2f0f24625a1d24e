package accessor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// enumArrayAccessor stores a set of enum values in a single row as
// "\tA\tB\t", sorted, so that "mentions" becomes a LIKE on "\tA\t"
type enumArrayAccessor struct {
	attrBase
}

func (a *enumArrayAccessor) DefaultValue() any { return []string(nil) }

func (a *enumArrayAccessor) IsSet(v any) bool {
	list, _ := v.([]string)
	return len(list) > 0
}

// canonical sorts and deduplicates
func canonicalEnums(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func joinEnums(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return "\t" + strings.Join(values, "\t") + "\t"
}

func (a *enumArrayAccessor) CheckFilter(c Condition) error {
	switch c.Match {
	case MatchMentions:
		s, ok := c.Value.(string)
		if !ok || s == "" {
			return fmt.Errorf("%w: %s mentions needs a non-empty value", ErrUnsupportedFilter, a.attr.Tag)
		}
		return nil
	case MatchMentionsAny:
		values, ok := c.Value.([]any)
		if !ok || len(values) == 0 {
			return fmt.Errorf("%w: %s mentionsany needs a non-empty list", ErrUnsupportedFilter, a.attr.Tag)
		}
		for _, v := range values {
			if s, ok := v.(string); !ok || s == "" {
				return fmt.Errorf("%w: %s mentionsany cannot hold %v", ErrUnsupportedFilter, a.attr.Tag, v)
			}
		}
		return nil
	case MatchEqual, MatchNotEqual:
		if _, ok := c.Value.([]string); !ok && c.Value != nil {
			return fmt.Errorf("%w: %s %s needs a list of strings", ErrUnsupportedFilter, a.attr.Tag, c.Match)
		}
		return nil
	}
	return a.unsupported(c)
}

func (a *enumArrayAccessor) MatchesValue(v any, c Condition) bool {
	list, _ := v.([]string)
	mentions := func(want string) bool {
		for _, have := range list {
			if have == want || (c.IgnoreCase && entities.UpperText(have) == entities.UpperText(want)) {
				return true
			}
		}
		return false
	}
	switch c.Match {
	case MatchMentions:
		s, _ := c.Value.(string)
		return mentions(s)
	case MatchMentionsAny:
		values, _ := c.Value.([]any)
		for _, want := range values {
			if s, ok := want.(string); ok && mentions(s) {
				return true
			}
		}
		return false
	case MatchEqual, MatchNotEqual:
		want, _ := c.Value.([]string)
		equal := slices.Equal(canonicalEnums(list), canonicalEnums(want))
		return equal == (c.Match == MatchEqual)
	}
	return false
}

func (a *enumArrayAccessor) mentionsRow(s string, ignoreCase bool) query.RowPredicate {
	return query.RowLike{Pattern: "%\t" + query.EscapeLike(s) + "\t%", IgnoreCase: ignoreCase}
}

func (a *enumArrayAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	switch c.Match {
	case MatchMentions:
		return finish(a, c, hasRow(a.attr.ID, a.mentionsRow(c.Value.(string), c.IgnoreCase)), c.IgnoreCase), nil
	case MatchMentionsAny:
		var alts []query.RowPredicate
		for _, v := range c.Value.([]any) {
			alts = append(alts, a.mentionsRow(v.(string), c.IgnoreCase))
		}
		return finish(a, c, hasRow(a.attr.ID, anyRow(alts...)), c.IgnoreCase), nil
	case MatchNotEqual:
		return negate(a, c)
	}
	want, _ := c.Value.([]string)
	raw := joinEnums(canonicalEnums(want))
	if raw == "" {
		return finish(a, c, query.False{}, false), nil
	}
	return finish(a, c, hasRow(a.attr.ID, query.RowCompare{Field: query.FieldRawData, Op: query.OpEqual, Value: raw}), false), nil
}

func (a *enumArrayAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return []string(nil), nil
	}
	raw := strings.Trim(rows[0].RawData, "\t")
	if raw == "" {
		return []string(nil), nil
	}
	return strings.Split(raw, "\t"), nil
}

func (a *enumArrayAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	list, ok := v.([]string)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	for i, s := range list {
		if s == "" || strings.ContainsAny(s, "\t\n") {
			return a.invalid(fmt.Sprintf("%s[%d]", path, i), "%q is not a valid enum value", s)
		}
		if !a.attr.Allows(s) {
			return a.invalid(fmt.Sprintf("%s[%d]", path, i), "%q is not an allowed value", s)
		}
	}
	if raw := joinEnums(canonicalEnums(list)); len(raw) > entities.MaxInlineBytes {
		return entities.NewValidationError(path, entities.CodeTooLong, "too many values")
	}
	return nil
}

func (a *enumArrayAccessor) EncodeValue(v any) (*Encoded, error) {
	list, _ := v.([]string)
	enc := &Encoded{}
	if raw := joinEnums(canonicalEnums(list)); raw != "" {
		enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: raw}, -1)
	}
	return enc, nil
}

func (a *enumArrayAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	items, err := wireList(wire)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := wireString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *enumArrayAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	list, _ := v.([]string)
	out := make([]any, 0, len(list))
	for _, s := range list {
		out = append(out, s)
	}
	return out, nil
}
