package accessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// canonicalJSON encodes v with sorted object keys and no HTML escaping, so that
// equal values produce equal rawdata
func canonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// jsonAccessor stores a JSON document in one row, overflowing to the blob store.
// It serves json (any value), record, authenticationsettings and paymentprovider
// (objects) and address (entities.Address).
type jsonAccessor struct {
	attrBase
}

func (a *jsonAccessor) DefaultValue() any {
	if a.attr.Kind == entities.KindAddress {
		return entities.Address{}
	}
	if a.attr.Kind == entities.KindJSON {
		return nil
	}
	return map[string]any(nil)
}

func (a *jsonAccessor) IsSet(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case entities.Address:
		return !val.IsZero()
	case *entities.Address:
		return val != nil && !val.IsZero()
	case map[string]any:
		return val != nil
	}
	return true
}

// encode returns the canonical text of a set value
func (a *jsonAccessor) encode(v any) (string, error) {
	if p, ok := v.(*entities.Address); ok {
		v = *p
	}
	return canonicalJSON(v)
}

func (a *jsonAccessor) CheckFilter(c Condition) error {
	if c.Match != MatchEqual && c.Match != MatchNotEqual {
		return a.unsupported(c)
	}
	if _, err := a.encode(c.Value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedFilter, a.attr.Tag, err)
	}
	return nil
}

func (a *jsonAccessor) MatchesValue(v any, c Condition) bool {
	equal := a.IsSet(v) == a.IsSet(c.Value)
	if equal && a.IsSet(v) {
		have, err1 := a.encode(v)
		want, err2 := a.encode(c.Value)
		equal = err1 == nil && err2 == nil && have == want
	}
	switch c.Match {
	case MatchEqual:
		return equal
	case MatchNotEqual:
		return !equal
	}
	return false
}

func (a *jsonAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	if c.Match == MatchNotEqual {
		return negate(a, c)
	}
	if !a.IsSet(c.Value) {
		return finish(a, c, query.False{}, false), nil
	}
	raw, _ := a.encode(c.Value)
	pred, after := equalText(a.attr.ID, []string{raw}, false, true)
	return finish(a, c, pred, after), nil
}

func (a *jsonAccessor) GetFromRecord(ctx context.Context, env *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return a.DefaultValue(), nil
	}
	text, err := decodeText(ctx, env, &rows[0])
	if err != nil {
		return nil, err
	}
	return a.decode(text, rows[0].ID)
}

func (a *jsonAccessor) decode(text string, setting int64) (any, error) {
	switch a.attr.Kind {
	case entities.KindAddress:
		var addr entities.Address
		if err := json.Unmarshal([]byte(text), &addr); err != nil {
			return nil, fmt.Errorf("invalid stored address in setting %d: %w", setting, err)
		}
		return addr, nil
	case entities.KindJSON:
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("invalid stored json in setting %d: %w", setting, err)
		}
		return v, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("invalid stored record in setting %d: %w", setting, err)
	}
	return m, nil
}

func (a *jsonAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	switch v.(type) {
	case entities.Address, *entities.Address:
		if a.attr.Kind != entities.KindAddress {
			return a.wrongType(path, v)
		}
	case nil:
	case map[string]any:
		if a.attr.Kind == entities.KindAddress {
			return a.wrongType(path, v)
		}
	default:
		if a.attr.Kind != entities.KindJSON {
			return a.wrongType(path, v)
		}
	}
	if !a.IsSet(v) {
		return nil
	}
	raw, err := a.encode(v)
	if err != nil {
		return a.invalid(path, "value cannot be stored as JSON: %v", err)
	}
	if a.attr.Kind == entities.KindAddress && !chk.Lenient {
		addr, _ := v.(entities.Address)
		if p, ok := v.(*entities.Address); ok {
			addr = *p
		}
		if addr.Country == "" {
			return a.invalid(path+".country", "an address needs a country")
		}
	}
	if a.attr.Unique {
		if len(raw) > entities.MaxInlineBytes {
			return entities.NewValidationError(path, entities.CodeTooLong, "unique value exceeds %d bytes", entities.MaxInlineBytes)
		}
		chk.AddUnique(a.attr, raw, path)
	}
	return nil
}

func (a *jsonAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	if !a.IsSet(v) {
		return enc, nil
	}
	raw, err := a.encode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", a.attr.Tag, err)
	}
	if err := encodeText(enc, a.attr.ID, raw, true, -1); err != nil {
		return nil, err
	}
	return enc, nil
}

func (a *jsonAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	switch a.attr.Kind {
	case entities.KindJSON:
		return wire, nil
	case entities.KindAddress:
		m, err := wireMap(wire)
		if err != nil || m == nil {
			return entities.Address{}, err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		var addr entities.Address
		if err := json.Unmarshal(raw, &addr); err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		return addr, nil
	}
	return wireMap(wire)
}

func (a *jsonAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	if !a.IsSet(v) {
		return nil, nil
	}
	if a.attr.Kind == entities.KindAddress {
		raw, err := a.encode(v)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return v, nil
}

// paymentAccessor stores a list of payment records, one row per element with
// ordering 1..n, and merges them back sorted by ordering
type paymentAccessor struct {
	attrBase
}

func (a *paymentAccessor) DefaultValue() any { return []map[string]any(nil) }

func (a *paymentAccessor) IsSet(v any) bool {
	list, _ := v.([]map[string]any)
	return len(list) > 0
}

func (a *paymentAccessor) CheckFilter(c Condition) error {
	return checkPresence(a.attrBase, c)
}

func (a *paymentAccessor) MatchesValue(v any, c Condition) bool {
	return matchPresence(a.IsSet(v), c)
}

func (a *paymentAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return presencePushdown(a.attr.ID, c), nil
}

func (a *paymentAccessor) GetFromRecord(ctx context.Context, env *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return []map[string]any(nil), nil
	}
	out := make([]map[string]any, 0, len(rows))
	for i := range rows {
		text, err := decodeText(ctx, env, &rows[i])
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			return nil, fmt.Errorf("invalid stored payment in setting %d: %w", rows[i].ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *paymentAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	list, ok := v.([]map[string]any)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	for i, m := range list {
		if m == nil {
			return a.invalid(fmt.Sprintf("%s[%d]", path, i), "payment record is empty")
		}
		if _, err := canonicalJSON(m); err != nil {
			return a.invalid(fmt.Sprintf("%s[%d]", path, i), "payment cannot be stored as JSON: %v", err)
		}
	}
	return nil
}

func (a *paymentAccessor) EncodeValue(v any) (*Encoded, error) {
	list, _ := v.([]map[string]any)
	enc := &Encoded{}
	for i, m := range list {
		raw, err := canonicalJSON(m)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s[%d]: %w", a.attr.Tag, i, err)
		}
		if err := encodeText(enc, a.attr.ID, raw, true, -1); err != nil {
			return nil, err
		}
		enc.Rows[len(enc.Rows)-1].Row.Ordering = int32(i + 1)
	}
	return enc, nil
}

func (a *paymentAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	items, err := wireList(wire)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, err := wireMap(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *paymentAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	list, _ := v.([]map[string]any)
	out := make([]any, 0, len(list))
	for _, m := range list {
		out = append(out, m)
	}
	return out, nil
}

// Presence filters only distinguish set from unset: "=" and "!=" against the
// default value (nil)

func checkPresence(b attrBase, c Condition) error {
	if c.Match != MatchEqual && c.Match != MatchNotEqual {
		return b.unsupported(c)
	}
	if c.Value != nil {
		return fmt.Errorf("%w: %s can only be compared with null", ErrUnsupportedFilter, b.attr.Tag)
	}
	return nil
}

func matchPresence(set bool, c Condition) bool {
	if c.Match == MatchEqual {
		return !set
	}
	return set
}

func presencePushdown(attr int64, c Condition) *Pushdown {
	if c.Match == MatchEqual {
		return &Pushdown{Predicate: query.NoSetting{Attribute: attr}}
	}
	return &Pushdown{Predicate: hasRow(attr, nil)}
}
