// Package accessor gives every attribute kind a uniform contract for default
// values, validation, filtering, query pushdown and row encode/decode.
//
// Values passed to an accessor are in internal form (int64 entity ids,
// time.Time dates, *entities.Resource files, ...). ImportValue and ExportValue
// convert between that form and the loosely typed wire form produced by JSON
// decoding.
package accessor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// ErrUnsupportedFilter is returned for conditions an attribute kind cannot evaluate
var ErrUnsupportedFilter = errors.New("wrd: filter not supported for attribute")

// Match is a filter operator
type Match string

const (
	MatchEqual        Match = "="
	MatchNotEqual     Match = "!="
	MatchLess         Match = "<"
	MatchLessEqual    Match = "<="
	MatchGreater      Match = ">"
	MatchGreaterEqual Match = ">="
	MatchIn           Match = "in"
	MatchLike         Match = "like"
	MatchMentions     Match = "mentions"
	MatchMentionsAny  Match = "mentionsany"
)

// op maps comparison matches onto query operators
func (m Match) op() (query.Op, bool) {
	op := query.Op(m)
	return op, op.Valid()
}

// Condition is one filter on an attribute. Value is in internal form; for "in"
// and "mentionsany" it is a slice.
type Condition struct {
	Field      string
	Match      Match
	Value      any
	IgnoreCase bool
}

// Pushdown is the storage predicate for a condition. With NeedAfterCheck set the
// predicate over-approximates and candidates must be re-verified with
// MatchesValue.
type Pushdown struct {
	Predicate      query.Predicate
	NeedAfterCheck bool
}

// Resolver maps wire references onto entity ids and back
type Resolver interface {
	// Resolve looks up an entity of domainType (or one of its subtypes) by guid or
	// tag, returning entities.ErrNotResolvable when nothing matches
	Resolve(ctx context.Context, domainType int64, ref string) (int64, error)

	// GUID returns the guid of an entity
	GUID(ctx context.Context, id int64) (uuid.UUID, error)
}

// Env carries the collaborators decoding and wire conversion need
type Env struct {
	Schema   *entities.Schema
	Resolver Resolver
	Blobs    repositories.BlobStore
	External repositories.ExternalStore
}

// Accessor is the per-kind contract
type Accessor interface {
	// Attribute returns the attribute the accessor serves
	Attribute() *entities.Attribute

	// DefaultValue returns the value implied by the absence of stored rows
	DefaultValue() any

	// IsSet reports whether v differs from the default value
	IsSet(v any) bool

	// CheckFilter rejects conditions that are malformed or can never be satisfied
	CheckFilter(c Condition) error

	// MatchesValue evaluates a condition against a decoded value
	MatchesValue(v any, c Condition) bool

	// AddToQuery translates a condition into a storage predicate. A nil result
	// means that no entity can match.
	AddToQuery(c Condition) (*Pushdown, error)

	// GetFromRecord decodes the value from rec.Settings[start:limit]. Base
	// attributes read rec.Entity and ignore the range.
	GetFromRecord(ctx context.Context, env *Env, rec *Record, start, limit int) (any, error)

	// ValidateInput checks a value, registering uniqueness and reference checks
	// with the batch instead of querying inline
	ValidateInput(v any, chk *checker.Batch, path string) error

	// EncodeValue computes the entity columns and setting rows holding v. Blob and
	// external payloads are returned as uploads, not stored.
	EncodeValue(v any) (*Encoded, error)

	// ImportValue converts a wire value into internal form
	ImportValue(ctx context.Context, env *Env, wire any) (any, error)

	// ExportValue converts an internal value into wire form
	ExportValue(ctx context.Context, env *Env, v any) (any, error)

	// UniqueKey returns the normalized key materialized for a row of a unique attribute
	UniqueKey(row *entities.SettingRow) string
}

// attrBase carries the attribute every accessor serves
type attrBase struct {
	attr *entities.Attribute
}

func (b attrBase) Attribute() *entities.Attribute {
	return b.attr
}

func (b attrBase) UniqueKey(row *entities.SettingRow) string {
	return row.RawData
}

func (b attrBase) unsupported(c Condition) error {
	return fmt.Errorf("%w: %s %s", ErrUnsupportedFilter, b.attr.Tag, c.Match)
}

func (b attrBase) invalid(path, format string, args ...any) error {
	return entities.NewValidationError(path, entities.CodeInvalidValue, format, args...)
}

func (b attrBase) wrongType(path string, v any) error {
	return entities.NewValidationError(path, entities.CodeInvalidValue,
		"%s cannot hold a value of type %T", b.attr.Kind, v)
}

// rows returns the setting rows in range
func rowsIn(rec *Record, start, limit int) []entities.SettingRow {
	if rec == nil || start < 0 || limit > len(rec.Settings) || start >= limit {
		return nil
	}
	return rec.Settings[start:limit]
}

// finish applies default-value completeness: when the default value satisfies
// the condition, entities without rows match too
func finish(a Accessor, c Condition, p query.Predicate, afterCheck bool) *Pushdown {
	if a.MatchesValue(a.DefaultValue(), c) {
		p = query.AnyOf(p, query.NoSetting{Attribute: a.Attribute().ID})
	}
	if _, empty := p.(query.False); empty {
		return nil
	}
	return &Pushdown{Predicate: p, NeedAfterCheck: afterCheck}
}

// negate derives "!=" from the "=" pushdown, which is exact unless it asks for
// an after-check
func negate(a Accessor, c Condition) (*Pushdown, error) {
	pos := c
	pos.Match = MatchEqual
	pd, err := a.AddToQuery(pos)
	if err != nil {
		return nil, err
	}
	if pd == nil {
		return &Pushdown{Predicate: query.True{}}, nil
	}
	if pd.NeedAfterCheck {
		return &Pushdown{Predicate: query.True{}, NeedAfterCheck: true}, nil
	}
	return &Pushdown{Predicate: query.Not{Predicate: pd.Predicate}}, nil
}

// hasRow matches entities holding a row of attr satisfying where
func hasRow(attr int64, where query.RowPredicate) query.Predicate {
	return query.HasSetting{Attribute: attr, Where: where}
}

func anyRow(preds ...query.RowPredicate) query.RowPredicate {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return query.RowOr{Predicates: preds}
}

// compareResult applies a comparison operator to the result of query.Compare
func compareResult(op query.Op, c int) bool {
	switch op {
	case query.OpEqual:
		return c == 0
	case query.OpNotEqual:
		return c != 0
	case query.OpLess:
		return c < 0
	case query.OpLessEqual:
		return c <= 0
	case query.OpGreater:
		return c > 0
	case query.OpGreaterEqual:
		return c >= 0
	}
	return false
}

// matchCompare evaluates a comparison or membership match on comparable values
func matchCompare(v any, c Condition, ignoreCase bool) bool {
	if c.Match == MatchIn {
		values, _ := c.Value.([]any)
		for _, candidate := range values {
			if r, ok := query.Compare(v, candidate, ignoreCase); ok && r == 0 {
				return true
			}
		}
		return false
	}
	op, ok := c.Match.op()
	if !ok {
		return false
	}
	r, ok := query.Compare(v, c.Value, ignoreCase)
	if !ok {
		return false
	}
	return compareResult(op, r)
}

// checkMatches validates the operator of c against the allowed set and the type
// of its value using valueOK
func checkMatches(b attrBase, c Condition, allowed []Match, valueOK func(any) bool) error {
	found := false
	for _, m := range allowed {
		if m == c.Match {
			found = true
			break
		}
	}
	if !found {
		return b.unsupported(c)
	}
	if c.Match == MatchIn || c.Match == MatchMentionsAny {
		values, ok := c.Value.([]any)
		if !ok {
			return fmt.Errorf("%w: %s %s needs a list of values", ErrUnsupportedFilter, b.attr.Tag, c.Match)
		}
		for _, v := range values {
			if !valueOK(v) {
				return fmt.Errorf("%w: %s %s cannot compare a %T", ErrUnsupportedFilter, b.attr.Tag, c.Match, v)
			}
		}
		return nil
	}
	if !valueOK(c.Value) {
		return fmt.Errorf("%w: %s %s cannot compare a %T", ErrUnsupportedFilter, b.attr.Tag, c.Match, c.Value)
	}
	return nil
}

var (
	comparisonMatches = []Match{MatchEqual, MatchNotEqual, MatchLess, MatchLessEqual, MatchGreater, MatchGreaterEqual, MatchIn}
	textMatches       = append(append([]Match(nil), comparisonMatches...), MatchLike)
	equalityMatches   = []Match{MatchEqual, MatchNotEqual, MatchIn}
	presenceMatches   = []Match{MatchEqual, MatchNotEqual}
)
