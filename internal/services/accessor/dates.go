package accessor

import (
	"context"
	"fmt"
	"time"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// dateAccessor serves setting-backed date and datetime attributes. Both
// sentinels mean "no value": they are stored as no row and decode to the zero
// time.
type dateAccessor struct {
	attrBase
	dateOnly bool
}

func (a *dateAccessor) normalize(t time.Time) time.Time {
	if entities.IsDateSentinel(t) {
		return time.Time{}
	}
	if a.dateOnly {
		return entities.TruncateToDate(t)
	}
	return entities.TruncateToMillis(t)
}

func (a *dateAccessor) encode(t time.Time) string {
	if a.dateOnly {
		return entities.EncodeDate(t)
	}
	return entities.EncodeDateTime(t)
}

func (a *dateAccessor) DefaultValue() any { return time.Time{} }

func (a *dateAccessor) IsSet(v any) bool {
	t, ok := v.(time.Time)
	return ok && !a.normalize(t).IsZero()
}

func (a *dateAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, comparisonMatches, func(v any) bool {
		_, ok := v.(time.Time)
		return ok
	})
}

// normalizeCondition truncates condition values the way stored values are
func (a *dateAccessor) normalizeCondition(c Condition) Condition {
	if values, ok := c.Value.([]any); ok {
		out := make([]any, 0, len(values))
		for _, v := range values {
			if t, ok := v.(time.Time); ok {
				out = append(out, a.normalize(t))
			}
		}
		c.Value = out
		return c
	}
	if t, ok := c.Value.(time.Time); ok {
		c.Value = a.normalize(t)
	}
	return c
}

func (a *dateAccessor) MatchesValue(v any, c Condition) bool {
	t, _ := v.(time.Time)
	return matchCompare(a.normalize(t), a.normalizeCondition(c), false)
}

func (a *dateAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	if c.Match == MatchNotEqual {
		return negate(a, c)
	}
	nc := a.normalizeCondition(c)
	// the encoding sorts like the dates it holds, with the zero time lowest
	if c.Match == MatchIn {
		var encoded []any
		for _, v := range nc.Value.([]any) {
			if t := v.(time.Time); !t.IsZero() {
				encoded = append(encoded, a.encode(t))
			}
		}
		if len(encoded) == 0 {
			return finish(a, c, query.False{}, false), nil
		}
		return finish(a, c, hasRow(a.attr.ID, rowEquals(query.FieldRawData, encoded, false)), false), nil
	}
	op, _ := c.Match.op()
	where := query.RowCompare{Field: query.FieldRawData, Op: op, Value: a.encode(nc.Value.(time.Time))}
	return finish(a, c, hasRow(a.attr.ID, where), false), nil
}

func (a *dateAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	var (
		t   time.Time
		err error
	)
	if a.dateOnly {
		t, err = entities.DecodeDate(rows[0].RawData)
	} else {
		t, err = entities.DecodeDateTime(rows[0].RawData)
	}
	if err != nil {
		return nil, fmt.Errorf("setting %d: %w", rows[0].ID, err)
	}
	return t, nil
}

func (a *dateAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	t, ok := v.(time.Time)
	if !ok {
		return a.wrongType(path, v)
	}
	if a.attr.Unique && a.IsSet(t) {
		chk.AddUnique(a.attr, a.encode(a.normalize(t)), path)
	}
	return nil
}

func (a *dateAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	t, _ := v.(time.Time)
	if t = a.normalize(t); !t.IsZero() {
		enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: a.encode(t)}, -1)
	}
	return enc, nil
}

func (a *dateAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	t, err := wireTime(wire)
	if err != nil {
		return nil, err
	}
	return a.normalize(t), nil
}

func (a *dateAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	t, _ := v.(time.Time)
	return exportTime(a.normalize(t), a.dateOnly), nil
}
