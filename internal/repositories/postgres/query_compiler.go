package postgres

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
)

// decimalPattern guards numeric casts; it accepts what query.IsDecimal accepts
const decimalPattern = `^-?[0-9]+(\.[0-9]+)?$`

// compiler renders query predicates as a WHERE clause over wrd_entities e
type compiler struct {
	args  []any
	depth int
}

func newCompiler() *compiler {
	return &compiler{}
}

// bind appends an argument and returns its placeholder
func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return "$" + strconv.Itoa(len(c.args))
}

func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return entities.GUIDBytes(val), nil
	case string, int64, int, int32, float64, bool, time.Time:
		return val, nil
	}
	return nil, fmt.Errorf("unsupported comparison value %T", v)
}

// entityColumn renders a column of e. For case-insensitive text compares it
// also returns the bare column, which widen needs.
func entityColumn(col string, ignoreCase bool) (expr, folded string, err error) {
	if !slices.Contains(entities.EntityColumns, col) {
		return "", "", fmt.Errorf("unknown entity column %q", col)
	}
	switch col {
	case entities.ColumnLeftEntity, entities.ColumnRightEntity:
		return "COALESCE(e." + col + ", 0)", "", nil
	case entities.ColumnTag, entities.ColumnInitials, entities.ColumnFirstName, entities.ColumnFirstNames,
		entities.ColumnInfix, entities.ColumnLastName, entities.ColumnTitles, entities.ColumnTitlesSuffix:
		if ignoreCase {
			return "UPPER(e." + col + `) COLLATE "C"`, "e." + col, nil
		}
		return "e." + col + ` COLLATE "C"`, "", nil
	}
	return "e." + col, "", nil
}

// widen turns a case-insensitive condition on col into a superset. UPPER under
// the C collation folds ASCII only, which agrees with UpperText on ASCII text;
// values holding any other character pass and are left to the after-check.
func widen(folded, cond string) string {
	if folded == "" {
		return cond
	}
	return "(" + cond + " OR octet_length(" + folded + ") <> char_length(" + folded + "))"
}

func sqlOp(op query.Op) (string, error) {
	switch op {
	case query.OpEqual, query.OpLess, query.OpLessEqual, query.OpGreater, query.OpGreaterEqual:
		return string(op), nil
	case query.OpNotEqual:
		return "<>", nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}

// textArg binds a string argument, upper-cased the way UpperText does when ignoreCase
func (c *compiler) textArg(v any, ignoreCase bool) (string, error) {
	if s, ok := v.(string); ok && ignoreCase {
		return c.bind(entities.UpperText(s)), nil
	}
	bound, err := bindValue(v)
	if err != nil {
		return "", err
	}
	return c.bind(bound), nil
}

func (c *compiler) predicate(p query.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil, query.True:
		return "TRUE", nil
	case query.False:
		return "FALSE", nil
	case query.And:
		return c.join(pred.Predicates, " AND ", "TRUE")
	case query.Or:
		return c.join(pred.Predicates, " OR ", "FALSE")
	case query.Not:
		inner, err := c.predicate(pred.Predicate)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case query.HasSetting:
		return c.exists(pred.Attribute, pred.Where, false)
	case query.NoSetting:
		return c.exists(pred.Attribute, nil, true)
	case query.Column:
		col, folded, err := entityColumn(pred.Column, pred.IgnoreCase)
		if err != nil {
			return "", err
		}
		op, err := sqlOp(pred.Op)
		if err != nil {
			return "", err
		}
		arg, err := c.textArg(pred.Value, pred.IgnoreCase)
		if err != nil {
			return "", err
		}
		return widen(folded, col+" "+op+" "+arg), nil
	case query.ColumnIn:
		if len(pred.Values) == 0 {
			return "FALSE", nil
		}
		col, folded, err := entityColumn(pred.Column, pred.IgnoreCase)
		if err != nil {
			return "", err
		}
		args := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			if args[i], err = c.textArg(v, pred.IgnoreCase); err != nil {
				return "", err
			}
		}
		return widen(folded, col+" IN ("+strings.Join(args, ", ")+")"), nil
	case query.ColumnLike:
		col, folded, err := entityColumn(pred.Column, pred.IgnoreCase)
		if err != nil {
			return "", err
		}
		return widen(folded, col+" LIKE "+c.likeArg(pred.Pattern, pred.IgnoreCase)+` ESCAPE '\'`), nil
	}
	return "", fmt.Errorf("unhandled predicate %T", p)
}

func (c *compiler) join(preds []query.Predicate, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, len(preds))
	for i, sub := range preds {
		s, err := c.predicate(sub)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + s + ")"
	}
	return strings.Join(parts, sep), nil
}

func (c *compiler) likeArg(pattern string, ignoreCase bool) string {
	if ignoreCase {
		return c.bind(entities.UpperText(pattern))
	}
	return c.bind(pattern)
}

// exists renders a correlated subquery over the rows of one attribute
func (c *compiler) exists(attribute int64, where query.RowPredicate, negate bool) (string, error) {
	c.depth++
	alias := "s" + strconv.Itoa(c.depth)
	cond := "TRUE"
	if where != nil {
		var err error
		if cond, err = c.row(alias, where); err != nil {
			return "", err
		}
	}
	kw := "EXISTS"
	if negate {
		kw = "NOT EXISTS"
	}
	return fmt.Sprintf("%s (SELECT 1 FROM wrd_settings %s WHERE %s.entity = e.id AND %s.attribute = %s AND (%s))",
		kw, alias, alias, alias, c.bind(attribute), cond), nil
}

func (c *compiler) row(alias string, p query.RowPredicate) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "TRUE", nil
	case query.RowAnd:
		return c.joinRows(alias, pred.Predicates, " AND ", "TRUE")
	case query.RowOr:
		return c.joinRows(alias, pred.Predicates, " OR ", "FALSE")
	case query.RowNot:
		inner, err := c.row(alias, pred.Predicate)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case query.RowBlob:
		return alias + ".blob_key IS NOT NULL", nil
	case query.RowLike:
		col, folded, _ := c.rowField(alias, query.FieldRawData, pred.IgnoreCase, false)
		return widen(folded, col+" LIKE "+c.likeArg(pred.Pattern, pred.IgnoreCase)+` ESCAPE '\'`), nil
	case query.RowCompare:
		col, folded, err := c.rowField(alias, pred.Field, pred.IgnoreCase, pred.Numeric)
		if err != nil {
			return "", err
		}
		op, err := sqlOp(pred.Op)
		if err != nil {
			return "", err
		}
		arg, err := c.rowArg(pred.Field, pred.Value, pred.IgnoreCase, pred.Numeric)
		if err != nil {
			return "", err
		}
		return widen(folded, col+" "+op+" "+arg), nil
	case query.RowIn:
		if len(pred.Values) == 0 {
			return "FALSE", nil
		}
		col, folded, err := c.rowField(alias, pred.Field, pred.IgnoreCase, pred.Numeric)
		if err != nil {
			return "", err
		}
		args := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			if args[i], err = c.rowArg(pred.Field, v, pred.IgnoreCase, pred.Numeric); err != nil {
				return "", err
			}
		}
		return widen(folded, col+" IN ("+strings.Join(args, ", ")+")"), nil
	}
	return "", fmt.Errorf("unhandled row predicate %T", p)
}

func (c *compiler) joinRows(alias string, preds []query.RowPredicate, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, len(preds))
	for i, sub := range preds {
		s, err := c.row(alias, sub)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + s + ")"
	}
	return strings.Join(parts, sep), nil
}

// rowField renders a setting column; folded is set like entityColumn does
func (c *compiler) rowField(alias string, field query.RowField, ignoreCase, numeric bool) (expr, folded string, err error) {
	switch field {
	case query.FieldSetting:
		return "COALESCE(" + alias + ".setting, 0)", "", nil
	case query.FieldPrefix:
		return alias + `.rawdata_prefix COLLATE "C"`, "", nil
	case query.FieldRawData:
		if numeric {
			return fmt.Sprintf("(CASE WHEN %s.rawdata ~ '%s' THEN %s.rawdata::numeric END)", alias, decimalPattern, alias), "", nil
		}
		if ignoreCase {
			return "UPPER(" + alias + `.rawdata) COLLATE "C"`, alias + ".rawdata", nil
		}
		return alias + `.rawdata COLLATE "C"`, "", nil
	}
	return "", "", fmt.Errorf("unknown setting field %q", field)
}

func (c *compiler) rowArg(field query.RowField, v any, ignoreCase, numeric bool) (string, error) {
	if field == query.FieldRawData && numeric {
		switch n := v.(type) {
		case int64, int, int32, float64:
			return c.bind(n) + "::numeric", nil
		}
		return "", fmt.Errorf("numeric comparison needs a number, got %T", v)
	}
	if field == query.FieldRawData {
		return c.textArg(v, ignoreCase)
	}
	return c.textArg(v, false)
}
