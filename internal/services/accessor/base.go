package accessor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// columnBase serves attributes stored in an entity column. Column predicates
// are exact, so no pushdown needs an after-check.
type columnBase struct {
	attrBase
}

func (b columnBase) column() string {
	return b.attr.BaseColumn
}

func (b columnBase) get(rec *Record) (any, error) {
	if rec == nil || rec.Entity == nil {
		return nil, entities.Internalf("no entity row to read %s", b.attr.Tag)
	}
	return rec.Entity.Get(b.column())
}

func (b columnBase) columns(v any) *Encoded {
	return &Encoded{Columns: map[string]any{b.column(): v}}
}

// columnPushdown compiles a comparison or membership match on the column.
// Case-insensitive matches need an after-check.
func (b columnBase) columnPushdown(c Condition, ignoreCase bool) *Pushdown {
	if c.Match == MatchIn {
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return nil
		}
		return &Pushdown{Predicate: query.ColumnIn{Column: b.column(), Values: values, IgnoreCase: ignoreCase}, NeedAfterCheck: ignoreCase}
	}
	op, _ := c.Match.op()
	return &Pushdown{Predicate: query.Column{Column: b.column(), Op: op, Value: c.Value, IgnoreCase: ignoreCase}, NeedAfterCheck: ignoreCase}
}

// baseTextAccessor serves wrd_tag and the person name columns
type baseTextAccessor struct {
	columnBase
}

func (a *baseTextAccessor) DefaultValue() any { return "" }

func (a *baseTextAccessor) IsSet(v any) bool {
	s, _ := v.(string)
	return s != ""
}

func (a *baseTextAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, textMatches, isString)
}

func (a *baseTextAccessor) MatchesValue(v any, c Condition) bool {
	s, _ := v.(string)
	return matchText(s, c, c.IgnoreCase)
}

func (a *baseTextAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	if c.Match == MatchLike {
		return &Pushdown{Predicate: query.ColumnLike{
			Column: a.column(), Pattern: query.WildcardToLike(c.Value.(string)), IgnoreCase: c.IgnoreCase,
		}, NeedAfterCheck: c.IgnoreCase}, nil
	}
	return a.columnPushdown(c, c.IgnoreCase), nil
}

func (a *baseTextAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, _, _ int) (any, error) {
	return a.get(rec)
}

func (a *baseTextAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	s, ok := v.(string)
	if !ok {
		return a.wrongType(path, v)
	}
	if !utf8.ValidString(s) {
		return a.invalid(path, "value is not valid UTF-8")
	}
	if a.attr.MaxLength > 0 && utf8.RuneCountInString(s) > a.attr.MaxLength {
		return entities.NewValidationError(path, entities.CodeTooLong,
			"value exceeds the maximum length of %d characters", a.attr.MaxLength)
	}
	return nil
}

func (a *baseTextAccessor) EncodeValue(v any) (*Encoded, error) {
	s, _ := v.(string)
	return a.columns(s), nil
}

func (a *baseTextAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	return wireString(wire)
}

func (a *baseTextAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	return v, nil
}

// baseDateAccessor serves the creation, limit, modification, birth and death
// dates. Decoded values keep their sentinels; only export turns them into null.
type baseDateAccessor struct {
	columnBase
	dateOnly bool
	// null is the value a null on the wire imports as
	null time.Time
}

func (a *baseDateAccessor) normalize(t time.Time) time.Time {
	switch {
	case entities.IsDefaultDateTime(t):
		return entities.DefaultDateTime
	case entities.IsMaxDateTime(t):
		return entities.MaxDateTime
	case a.dateOnly:
		return entities.TruncateToDate(t)
	}
	return entities.TruncateToMillis(t)
}

func (a *baseDateAccessor) DefaultValue() any { return a.null }

func (a *baseDateAccessor) IsSet(v any) bool {
	t, _ := v.(time.Time)
	return !entities.IsDateSentinel(t)
}

func (a *baseDateAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, comparisonMatches, func(v any) bool {
		_, ok := v.(time.Time)
		return ok
	})
}

func (a *baseDateAccessor) normalizeCondition(c Condition) Condition {
	if values, ok := c.Value.([]any); ok {
		out := make([]any, 0, len(values))
		for _, v := range values {
			if t, ok := v.(time.Time); ok {
				out = append(out, a.normalize(t))
			}
		}
		c.Value = out
	} else if t, ok := c.Value.(time.Time); ok {
		c.Value = a.normalize(t)
	}
	return c
}

func (a *baseDateAccessor) MatchesValue(v any, c Condition) bool {
	t, _ := v.(time.Time)
	return matchCompare(a.normalize(t), a.normalizeCondition(c), false)
}

func (a *baseDateAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return a.columnPushdown(a.normalizeCondition(c), false), nil
}

func (a *baseDateAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, _, _ int) (any, error) {
	return a.get(rec)
}

func (a *baseDateAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	t, ok := v.(time.Time)
	if !ok {
		return a.wrongType(path, v)
	}
	if !entities.IsDateSentinel(t) && t.Year() < 1 {
		return a.invalid(path, "%v is out of range", t)
	}
	return nil
}

func (a *baseDateAccessor) EncodeValue(v any) (*Encoded, error) {
	t, _ := v.(time.Time)
	return a.columns(a.normalize(t)), nil
}

func (a *baseDateAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	if wire == nil {
		return a.null, nil
	}
	t, err := wireTime(wire)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return a.null, nil
	}
	return a.normalize(t), nil
}

func (a *baseDateAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	t, _ := v.(time.Time)
	if entities.IsDateSentinel(t) {
		return nil, nil
	}
	return exportTime(t, a.dateOnly), nil
}

// baseRefAccessor serves wrd_leftentity and wrd_rightentity
type baseRefAccessor struct {
	columnBase
	accepted []int64
}

func (a *baseRefAccessor) DefaultValue() any { return int64(0) }

func (a *baseRefAccessor) IsSet(v any) bool {
	id, _ := v.(int64)
	return id != 0
}

func (a *baseRefAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, equalityMatches, isInt64)
}

func (a *baseRefAccessor) MatchesValue(v any, c Condition) bool {
	id, _ := v.(int64)
	return matchCompare(id, c, false)
}

func (a *baseRefAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return a.columnPushdown(c, false), nil
}

func (a *baseRefAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, _, _ int) (any, error) {
	return a.get(rec)
}

func (a *baseRefAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
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
	if chk.Entity != 0 && id == chk.Entity {
		return entities.NewValidationError(path, entities.CodeSelfReference, "an entity cannot refer to itself")
	}
	chk.AddReference(a.accepted, id, path)
	return nil
}

func (a *baseRefAccessor) EncodeValue(v any) (*Encoded, error) {
	id, _ := v.(int64)
	return a.columns(id), nil
}

func (a *baseRefAccessor) ImportValue(ctx context.Context, env *Env, wire any) (any, error) {
	return importReference(ctx, env, a.attr.DomainType, wire)
}

func (a *baseRefAccessor) ExportValue(ctx context.Context, env *Env, v any) (any, error) {
	id, _ := v.(int64)
	return exportReference(ctx, env, id)
}

// guidAccessor serves wrd_guid. The nil guid asks for a fresh one on create.
type guidAccessor struct {
	columnBase
}

func (a *guidAccessor) DefaultValue() any { return uuid.Nil }

func (a *guidAccessor) IsSet(v any) bool {
	id, _ := v.(uuid.UUID)
	return id != uuid.Nil
}

func (a *guidAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, equalityMatches, func(v any) bool {
		_, ok := v.(uuid.UUID)
		return ok
	})
}

func (a *guidAccessor) MatchesValue(v any, c Condition) bool {
	id, _ := v.(uuid.UUID)
	return matchCompare(id, c, false)
}

func (a *guidAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return a.columnPushdown(c, false), nil
}

func (a *guidAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, _, _ int) (any, error) {
	return a.get(rec)
}

func (a *guidAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	if _, ok := v.(uuid.UUID); !ok {
		return a.wrongType(path, v)
	}
	return nil
}

func (a *guidAccessor) EncodeValue(v any) (*Encoded, error) {
	id, _ := v.(uuid.UUID)
	return a.columns(id), nil
}

func (a *guidAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	s, err := wireString(wire)
	if err != nil || s == "" {
		return uuid.Nil, err
	}
	return entities.ParseGUID(s)
}

func (a *guidAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	id, _ := v.(uuid.UUID)
	return id.String(), nil
}

var genderNames = map[int]string{
	entities.GenderUnknown: "",
	entities.GenderMale:    "male",
	entities.GenderFemale:  "female",
	entities.GenderOther:   "other",
}

// genderAccessor serves wrd_gender
type genderAccessor struct {
	columnBase
}

func (a *genderAccessor) DefaultValue() any { return entities.GenderUnknown }

func (a *genderAccessor) IsSet(v any) bool {
	g, _ := v.(int)
	return g != entities.GenderUnknown
}

func (a *genderAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, equalityMatches, func(v any) bool {
		_, ok := v.(int)
		return ok
	})
}

func (a *genderAccessor) MatchesValue(v any, c Condition) bool {
	g, _ := v.(int)
	return matchCompare(g, c, false)
}

func (a *genderAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return a.columnPushdown(c, false), nil
}

func (a *genderAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, _, _ int) (any, error) {
	return a.get(rec)
}

func (a *genderAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	g, ok := v.(int)
	if !ok {
		return a.wrongType(path, v)
	}
	if _, known := genderNames[g]; !known {
		return a.invalid(path, "%d is not a gender", g)
	}
	return nil
}

func (a *genderAccessor) EncodeValue(v any) (*Encoded, error) {
	g, _ := v.(int)
	return a.columns(g), nil
}

func (a *genderAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	if s, ok := wire.(string); ok {
		for g, name := range genderNames {
			if strings.EqualFold(name, s) {
				return g, nil
			}
		}
		return nil, fmt.Errorf("unknown gender %q", s)
	}
	n, err := wireInt64(wire)
	return int(n), err
}

func (a *genderAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	g, _ := v.(int)
	return genderNames[g], nil
}

// idAccessor serves the read-only wrd_id and wrd_type columns
type idAccessor struct {
	columnBase
}

func (a *idAccessor) DefaultValue() any { return int64(0) }

func (a *idAccessor) IsSet(v any) bool {
	id, _ := v.(int64)
	return id != 0
}

func (a *idAccessor) CheckFilter(c Condition) error {
	return checkMatches(a.attrBase, c, comparisonMatches, isInt64)
}

func (a *idAccessor) MatchesValue(v any, c Condition) bool {
	id, _ := v.(int64)
	return matchCompare(id, c, false)
}

func (a *idAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return a.columnPushdown(c, false), nil
}

func (a *idAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, _, _ int) (any, error) {
	return a.get(rec)
}

func (a *idAccessor) ValidateInput(_ any, _ *checker.Batch, path string) error {
	return entities.NewValidationError(path, entities.CodeNotAllowed, "%s cannot be written", a.attr.Tag)
}

func (a *idAccessor) EncodeValue(any) (*Encoded, error) {
	return nil, entities.Internalf("%s cannot be encoded", a.attr.Tag)
}

func (a *idAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	return wireInt64(wire)
}

func (a *idAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	return v, nil
}
