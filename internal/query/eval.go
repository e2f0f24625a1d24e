package query

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// Match evaluates p against an entity and its setting rows grouped by attribute
func Match(p Predicate, ent *entities.Entity, rows map[int64][]entities.SettingRow) bool {
	switch pred := p.(type) {
	case nil, True:
		return true
	case False:
		return false
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, ent, rows) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range pred.Predicates {
			if Match(sub, ent, rows) {
				return true
			}
		}
		return false
	case Not:
		return !Match(pred.Predicate, ent, rows)
	case HasSetting:
		for i := range rows[pred.Attribute] {
			if MatchRow(pred.Where, &rows[pred.Attribute][i]) {
				return true
			}
		}
		return false
	case NoSetting:
		return len(rows[pred.Attribute]) == 0
	case Column:
		v, err := ent.Get(pred.Column)
		if err != nil {
			return false
		}
		return compareWith(pred.Op, v, pred.Value, pred.IgnoreCase)
	case ColumnIn:
		v, err := ent.Get(pred.Column)
		if err != nil {
			return false
		}
		for _, candidate := range pred.Values {
			if compareWith(OpEqual, v, candidate, pred.IgnoreCase) {
				return true
			}
		}
		return false
	case ColumnLike:
		v, err := ent.Get(pred.Column)
		if err != nil {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		return likeWithCase(s, pred.Pattern, pred.IgnoreCase)
	}
	panic(fmt.Sprintf("query: unhandled predicate %T", p))
}

// MatchRow evaluates a row predicate against one setting row. A nil predicate
// accepts every row.
func MatchRow(p RowPredicate, row *entities.SettingRow) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case RowAnd:
		for _, sub := range pred.Predicates {
			if !MatchRow(sub, row) {
				return false
			}
		}
		return true
	case RowOr:
		for _, sub := range pred.Predicates {
			if MatchRow(sub, row) {
				return true
			}
		}
		return false
	case RowNot:
		return !MatchRow(pred.Predicate, row)
	case RowBlob:
		return row.Blob != nil
	case RowLike:
		return likeWithCase(row.RawData, pred.Pattern, pred.IgnoreCase)
	case RowCompare:
		return compareRow(pred.Field, pred.Op, row, pred.Value, pred.IgnoreCase, pred.Numeric)
	case RowIn:
		for _, v := range pred.Values {
			if compareRow(pred.Field, OpEqual, row, v, pred.IgnoreCase, pred.Numeric) {
				return true
			}
		}
		return false
	}
	panic(fmt.Sprintf("query: unhandled row predicate %T", p))
}

func likeWithCase(s, pattern string, ignoreCase bool) bool {
	if ignoreCase {
		return LikeMatch(entities.UpperText(s), entities.UpperText(pattern))
	}
	return LikeMatch(s, pattern)
}

func compareRow(field RowField, op Op, row *entities.SettingRow, value any, ignoreCase, numeric bool) bool {
	switch field {
	case FieldSetting:
		return compareWith(op, row.Setting, value, false)
	case FieldPrefix:
		return compareWith(op, row.SearchKey(), value, false)
	case FieldRawData:
		if numeric {
			n, ok := ParseDecimal(row.RawData)
			if !ok {
				return false
			}
			return compareWith(op, n, value, false)
		}
		return compareWith(op, row.RawData, value, ignoreCase)
	}
	return false
}

// ParseDecimal parses rawdata holding a plain decimal number. It accepts exactly
// what the SQL compiler's numeric guard accepts.
func ParseDecimal(raw string) (any, bool) {
	if !IsDecimal(raw) {
		return nil, false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

// IsDecimal reports whether s matches ^-?[0-9]+(\.[0-9]+)?$
func IsDecimal(s string) bool {
	s = strings.TrimPrefix(s, "-")
	whole, frac, hasFrac := strings.Cut(s, ".")
	if !allDigits(whole) {
		return false
	}
	return !hasFrac || allDigits(frac)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func compareWith(op Op, a, b any, ignoreCase bool) bool {
	c, ok := Compare(a, b, ignoreCase)
	if !ok {
		return false
	}
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// Compare orders two scalar values of compatible types. The second result is
// false when the values cannot be compared.
func Compare(a, b any, ignoreCase bool) (int, bool) {
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return cmpOrdered(ai, bi), true
		}
		if bf, ok := b.(float64); ok {
			return cmpOrdered(float64(ai), bf), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case float64:
		if bi, ok := toInt64(b); ok {
			return cmpOrdered(av, float64(bi)), true
		}
		if bf, ok := b.(float64); ok {
			return cmpOrdered(av, bf), true
		}
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		if ignoreCase {
			av, bs = entities.UpperText(av), entities.UpperText(bs)
		}
		return strings.Compare(av, bs), true
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			return av.Compare(bt), true
		}
	case uuid.UUID:
		if bu, ok := b.(uuid.UUID); ok {
			return bytes.Compare(av[:], bu[:]), true
		}
	case bool:
		if bb, ok := b.(bool); ok {
			if av == bb {
				return 0, true
			}
			if !av {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
