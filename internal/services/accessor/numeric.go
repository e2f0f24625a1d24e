package accessor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// numberAccessor serves integer, integer64, float, money and time. Values are
// stored as plain decimal text so that storage can compare them numerically.
//
// Internal forms: int64 (integer kinds), float64, entities.Money and
// time.Duration (time of day).
type numberAccessor struct {
	attrBase
}

func (a *numberAccessor) DefaultValue() any {
	switch a.attr.Kind {
	case entities.KindFloat:
		return float64(0)
	case entities.KindMoney:
		return entities.Money(0)
	case entities.KindTime:
		return time.Duration(0)
	}
	return int64(0)
}

func (a *numberAccessor) IsSet(v any) bool {
	n, ok := a.numeric(v)
	if !ok {
		return false
	}
	r, _ := query.Compare(n, int64(0), false)
	return r != 0
}

// numeric converts an internal value into the int64 or float64 storage compares
// against
func (a *numberAccessor) numeric(v any) (any, bool) {
	switch val := v.(type) {
	case int64:
		return val, a.attr.Kind != entities.KindMoney && a.attr.Kind != entities.KindTime
	case int:
		return int64(val), a.attr.Kind == entities.KindInteger || a.attr.Kind == entities.KindInteger64
	case float64:
		return val, a.attr.Kind == entities.KindFloat
	case entities.Money:
		if int64(val)%100000 == 0 {
			return int64(val) / 100000, a.attr.Kind == entities.KindMoney
		}
		return float64(val) / 100000, a.attr.Kind == entities.KindMoney
	case time.Duration:
		return val.Milliseconds(), a.attr.Kind == entities.KindTime
	}
	return nil, false
}

func (a *numberAccessor) format(v any) string {
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case entities.Money:
		return val.String()
	case time.Duration:
		return strconv.FormatInt(val.Milliseconds(), 10)
	}
	return ""
}

func (a *numberAccessor) parse(raw string) (any, error) {
	switch a.attr.Kind {
	case entities.KindFloat:
		return strconv.ParseFloat(raw, 64)
	case entities.KindMoney:
		return entities.ParseMoney(raw)
	case entities.KindTime:
		ms, err := strconv.ParseInt(raw, 10, 64)
		return time.Duration(ms) * time.Millisecond, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (a *numberAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, comparisonMatches, func(v any) bool {
		_, ok := a.numeric(v)
		return ok
	})
}

func (a *numberAccessor) MatchesValue(v any, c Condition) bool {
	n, ok := a.numeric(v)
	if !ok {
		return false
	}
	return matchCompare(n, a.numericCondition(c), false)
}

// numericCondition converts the condition values into storage numbers
func (a *numberAccessor) numericCondition(c Condition) Condition {
	if values, ok := c.Value.([]any); ok {
		converted := make([]any, 0, len(values))
		for _, v := range values {
			if n, ok := a.numeric(v); ok {
				converted = append(converted, n)
			}
		}
		c.Value = converted
		return c
	}
	c.Value, _ = a.numeric(c.Value)
	return c
}

func (a *numberAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	if c.Match == MatchNotEqual {
		return negate(a, c)
	}
	nc := a.numericCondition(c)
	var where query.RowPredicate
	if c.Match == MatchIn {
		values := nc.Value.([]any)
		if len(values) == 0 {
			return nil, nil
		}
		where = query.RowIn{Field: query.FieldRawData, Values: values, Numeric: true}
	} else {
		op, _ := c.Match.op()
		where = query.RowCompare{Field: query.FieldRawData, Op: op, Value: nc.Value, Numeric: true}
	}
	// zero is never stored, so a row equal to zero cannot exist; the default
	// completeness covers the unset case
	return finish(a, c, hasRow(a.attr.ID, where), false), nil
}

func (a *numberAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return a.DefaultValue(), nil
	}
	v, err := a.parse(rows[0].RawData)
	if err != nil {
		return nil, fmt.Errorf("invalid stored %s in setting %d: %w", a.attr.Kind, rows[0].ID, err)
	}
	return v, nil
}

func (a *numberAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	if _, ok := a.numeric(v); !ok {
		return a.wrongType(path, v)
	}
	switch val := v.(type) {
	case int64:
		if a.attr.Kind == entities.KindInteger && (val < math.MinInt32 || val > math.MaxInt32) {
			return a.invalid(path, "%d does not fit a 32-bit integer", val)
		}
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return a.invalid(path, "%v is not a finite number", val)
		}
	case time.Duration:
		if val < 0 || val >= 24*time.Hour {
			return a.invalid(path, "%v is not a time of day", val)
		}
	}
	if a.attr.Unique && a.IsSet(v) {
		chk.AddUnique(a.attr, a.format(v), path)
	}
	return nil
}

func (a *numberAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	if !a.IsSet(v) {
		return enc, nil
	}
	enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: a.format(v)}, -1)
	return enc, nil
}

func (a *numberAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	switch a.attr.Kind {
	case entities.KindFloat:
		return wireFloat(wire)
	case entities.KindMoney:
		if s, ok := wire.(string); ok {
			return entities.ParseMoney(s)
		}
		f, err := wireFloat(wire)
		if err != nil {
			return nil, err
		}
		return entities.MoneyFromFloat(f), nil
	case entities.KindTime:
		ms, err := wireInt64(wire)
		return time.Duration(ms) * time.Millisecond, err
	}
	return wireInt64(wire)
}

func (a *numberAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	switch val := v.(type) {
	case entities.Money:
		// as text, so no precision is lost on the way to the client
		return val.String(), nil
	case time.Duration:
		return val.Milliseconds(), nil
	}
	return v, nil
}

// booleanAccessor stores true as "1" and false as no row
type booleanAccessor struct {
	attrBase
}

func (a *booleanAccessor) DefaultValue() any { return false }

func (a *booleanAccessor) IsSet(v any) bool {
	b, _ := v.(bool)
	return b
}

func (a *booleanAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, equalityMatches, func(v any) bool {
		_, ok := v.(bool)
		return ok
	})
}

func (a *booleanAccessor) MatchesValue(v any, c Condition) bool {
	b, _ := v.(bool)
	return matchCompare(b, c, false)
}

func (a *booleanAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	if c.Match == MatchNotEqual {
		return negate(a, c)
	}
	set := hasRow(a.attr.ID, query.RowCompare{Field: query.FieldRawData, Op: query.OpEqual, Value: "1"})
	wantTrue, wantFalse := false, false
	for _, v := range boolValues(c.Value) {
		if v {
			wantTrue = true
		} else {
			wantFalse = true
		}
	}
	switch {
	case wantTrue && wantFalse:
		return &Pushdown{Predicate: query.True{}}, nil
	case wantTrue:
		return &Pushdown{Predicate: set}, nil
	case wantFalse:
		return &Pushdown{Predicate: query.Not{Predicate: set}}, nil
	}
	return nil, nil
}

func boolValues(v any) []bool {
	switch val := v.(type) {
	case bool:
		return []bool{val}
	case []any:
		var out []bool
		for _, item := range val {
			if b, ok := item.(bool); ok {
				out = append(out, b)
			}
		}
		return out
	}
	return nil
}

func (a *booleanAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	return len(rows) > 0 && rows[0].RawData == "1", nil
}

func (a *booleanAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	if _, ok := v.(bool); !ok {
		return a.wrongType(path, v)
	}
	return nil
}

func (a *booleanAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	if a.IsSet(v) {
		enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: "1"}, -1)
	}
	return enc, nil
}

func (a *booleanAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	return wireBool(wire)
}

func (a *booleanAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	b, _ := v.(bool)
	return b, nil
}
