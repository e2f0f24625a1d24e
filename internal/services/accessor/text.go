package accessor

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// textAccessor serves the setting-backed string kinds
type textAccessor struct {
	attrBase
	// overflow allows values above MaxInlineBytes to move to the blob store
	overflow bool
}

func newText(attr *entities.Attribute) *textAccessor {
	return &textAccessor{attrBase: attrBase{attr: attr}, overflow: attr.Kind == entities.KindFree}
}

func (a *textAccessor) DefaultValue() any { return "" }

func (a *textAccessor) IsSet(v any) bool {
	s, _ := v.(string)
	return s != ""
}

// ignoreCase reports whether a condition compares case-insensitively. Email
// addresses always do. Storage backends may only approximate Unicode case
// folding, so case-insensitive pushdowns ask for an after-check.
func (a *textAccessor) ignoreCase(c Condition) bool {
	return c.IgnoreCase || a.attr.Kind == entities.KindEmail
}

func (a *textAccessor) CheckFilter(c Condition) error {
	allowed := textMatches
	if a.attr.Kind == entities.KindPassword {
		allowed = presenceMatches
	}
	return checkMatches(a.attrBase, c, allowed, isString)
}

func (a *textAccessor) MatchesValue(v any, c Condition) bool {
	s, _ := v.(string)
	return matchText(s, c, a.ignoreCase(c))
}

func (a *textAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	ic := a.ignoreCase(c)
	switch c.Match {
	case MatchEqual, MatchIn:
		pred, after := equalText(a.attr.ID, stringValues(c.Value), ic, a.overflow)
		return finish(a, c, pred, after || ic), nil
	case MatchNotEqual:
		return negate(a, c)
	case MatchLike:
		where := query.RowPredicate(query.RowLike{Pattern: query.WildcardToLike(c.Value.(string)), IgnoreCase: ic})
		if a.overflow {
			where = anyRow(where, query.RowBlob{})
		}
		return finish(a, c, hasRow(a.attr.ID, where), a.overflow || ic), nil
	}
	op, _ := c.Match.op()
	where := query.RowPredicate(query.RowCompare{Field: query.FieldRawData, Op: op, Value: c.Value, IgnoreCase: ic})
	if a.overflow {
		where = anyRow(where, query.RowBlob{})
	}
	return finish(a, c, hasRow(a.attr.ID, where), a.overflow || ic), nil
}

func (a *textAccessor) GetFromRecord(ctx context.Context, env *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return "", nil
	}
	return decodeText(ctx, env, &rows[0])
}

func (a *textAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	s, ok := v.(string)
	if !ok {
		return a.wrongType(path, v)
	}
	if s == "" {
		return nil
	}
	if !utf8.ValidString(s) {
		return a.invalid(path, "value is not valid UTF-8")
	}
	if a.attr.MaxLength > 0 && utf8.RuneCountInString(s) > a.attr.MaxLength {
		return entities.NewValidationError(path, entities.CodeTooLong,
			"value exceeds the maximum length of %d characters", a.attr.MaxLength)
	}
	if len(s) > entities.MaxInlineBytes && (!a.overflow || a.attr.Unique) {
		return entities.NewValidationError(path, entities.CodeTooLong,
			"value exceeds %d bytes", entities.MaxInlineBytes)
	}
	if err := a.checkFormat(s, chk.Lenient, path); err != nil {
		return err
	}
	if a.attr.Unique {
		chk.AddUnique(a.attr, uniqueText(a.attr.Kind, s), path)
	}
	return nil
}

func (a *textAccessor) checkFormat(s string, lenient bool, path string) error {
	switch a.attr.Kind {
	case entities.KindEnum:
		if !a.attr.Allows(s) {
			return a.invalid(path, "%q is not an allowed value", s)
		}
	case entities.KindEmail:
		if lenient {
			return nil
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s || addr.Name != "" {
			return a.invalid(path, "%q is not a valid email address", s)
		}
	case entities.KindURL:
		if lenient {
			return nil
		}
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" {
			return a.invalid(path, "%q is not a valid URL", s)
		}
	case entities.KindTelephone:
		if lenient {
			return nil
		}
		if strings.Trim(s, "+0123456789 -()./") != "" {
			return a.invalid(path, "%q is not a valid telephone number", s)
		}
	case entities.KindWHFSRef:
		if strings.ContainsAny(s, "\t\n") {
			return a.invalid(path, "%q is not a valid file reference", s)
		}
	}
	return nil
}

func (a *textAccessor) EncodeValue(v any) (*Encoded, error) {
	s, _ := v.(string)
	enc := &Encoded{}
	if s == "" {
		return enc, nil
	}
	if err := encodeText(enc, a.attr.ID, s, a.overflow, -1); err != nil {
		return nil, err
	}
	if a.attr.Kind == entities.KindWHFSRef {
		enc.Rows[0].Link = &entities.LinkRow{Handle: s, Kind: entities.LinkFileRef}
	}
	return enc, nil
}

func (a *textAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	return wireString(wire)
}

func (a *textAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	s, _ := v.(string)
	return s, nil
}

func (a *textAccessor) UniqueKey(row *entities.SettingRow) string {
	return uniqueText(a.attr.Kind, row.RawData)
}

// uniqueText normalizes a unique key. Email keys are lower-cased.
func uniqueText(kind entities.AttributeKind, s string) string {
	if kind == entities.KindEmail {
		return strings.ToLower(s)
	}
	return s
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func stringValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// matchText evaluates a text condition in memory
func matchText(s string, c Condition, ignoreCase bool) bool {
	if c.Match == MatchLike {
		pattern, _ := c.Value.(string)
		pattern = query.WildcardToLike(pattern)
		if ignoreCase {
			return query.LikeMatch(entities.UpperText(s), entities.UpperText(pattern))
		}
		return query.LikeMatch(s, pattern)
	}
	return matchCompare(s, c, ignoreCase)
}

// equalText builds the pushdown for equality with any of values. Inline rows
// are matched exactly with the search prefix as pre-filter. Rows whose payload
// overflowed to a blob can only be narrowed down by prefix, so they require an
// after-check. The empty string is never stored and is left to default-value
// completeness.
func equalText(attr int64, values []string, ignoreCase, overflow bool) (query.Predicate, bool) {
	var inline, prefixes, blobPrefixes []any
	needBlob := false
	for _, v := range values {
		if v == "" {
			continue
		}
		prefix := entities.SearchPrefix(v)
		if overflow {
			blobPrefixes = append(blobPrefixes, prefix)
		}
		if len(v) > entities.MaxInlineBytes {
			needBlob = overflow
			continue
		}
		// upper-casing can change the byte length, so an overflowed value may
		// still equal a short one case-insensitively
		if ignoreCase && overflow {
			needBlob = true
		}
		inline = append(inline, v)
		prefixes = append(prefixes, prefix)
	}

	var alts []query.RowPredicate
	if len(inline) > 0 {
		alts = append(alts, query.RowAnd{Predicates: []query.RowPredicate{
			rowEquals(query.FieldPrefix, prefixes, false),
			rowEquals(query.FieldRawData, inline, ignoreCase),
		}})
	}
	if needBlob {
		alts = append(alts, query.RowAnd{Predicates: []query.RowPredicate{
			query.RowBlob{},
			rowEquals(query.FieldPrefix, blobPrefixes, false),
		}})
	}
	if len(alts) == 0 {
		return query.False{}, false
	}
	return hasRow(attr, anyRow(alts...)), needBlob
}

func rowEquals(field query.RowField, values []any, ignoreCase bool) query.RowPredicate {
	if len(values) == 1 {
		return query.RowCompare{Field: field, Op: query.OpEqual, Value: values[0], IgnoreCase: ignoreCase}
	}
	return query.RowIn{Field: field, Values: values, IgnoreCase: ignoreCase}
}

// encodeText appends a row holding s, moving it to the blob store when it does
// not fit inline
func encodeText(enc *Encoded, attr int64, s string, overflow bool, parent int) error {
	row := entities.SettingRow{Attribute: attr, RawData: s}
	if len(s) <= entities.MaxInlineBytes {
		enc.addRow(row, parent)
		return nil
	}
	if !overflow {
		return entities.Internalf("value of attribute %d exceeds %d bytes", attr, entities.MaxInlineBytes)
	}
	row.RawData = ""
	row.Prefix = entities.SearchPrefix(s)
	idx := enc.addRow(row, parent)
	enc.Uploads = append(enc.Uploads, Upload{Row: idx, Kind: UploadBlob, Data: []byte(s)})
	return nil
}

// decodeText returns the payload of a row, reading the blob store when the
// payload overflowed
func decodeText(ctx context.Context, env *Env, row *entities.SettingRow) (string, error) {
	if row.Blob == nil {
		return row.RawData, nil
	}
	if env == nil || env.Blobs == nil {
		return "", entities.Internalf("no blob store to read setting %d", row.ID)
	}
	data, err := env.Blobs.Get(ctx, row.Blob)
	if err != nil {
		return "", fmt.Errorf("failed to read blob of setting %d: %w", row.ID, err)
	}
	return string(data), nil
}
