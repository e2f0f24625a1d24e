package accessor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// documentAccessor serves rich documents and instances. The payload goes to the
// external store; the row holds the content type and a link row holds the
// handle.
type documentAccessor struct {
	attrBase
	linkKind entities.LinkKind
}

func (a *documentAccessor) DefaultValue() any { return (*entities.Document)(nil) }

func (a *documentAccessor) IsSet(v any) bool {
	d, _ := v.(*entities.Document)
	return d != nil
}

func (a *documentAccessor) CheckFilter(c Condition) error {
	return checkPresence(a.attrBase, c)
}

func (a *documentAccessor) MatchesValue(v any, c Condition) bool {
	return matchPresence(a.IsSet(v), c)
}

func (a *documentAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return presencePushdown(a.attr.ID, c), nil
}

func (a *documentAccessor) GetFromRecord(ctx context.Context, env *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return (*entities.Document)(nil), nil
	}
	link, ok := rec.Links[rows[0].ID]
	if !ok {
		return nil, entities.Internalf("setting %d of %s has no link row", rows[0].ID, a.attr.Tag)
	}
	if env == nil || env.External == nil {
		return nil, entities.Internalf("no external store to read %s", a.attr.Tag)
	}
	data, err := env.External.Get(ctx, link.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", link.Kind, link.Handle, err)
	}
	return &entities.Document{ContentType: rows[0].RawData, Data: data}, nil
}

func (a *documentAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	d, ok := v.(*entities.Document)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	if d == nil {
		return nil
	}
	if d.ContentType == "" || len(d.ContentType) > 255 {
		return a.invalid(path, "%s needs a content type", a.attr.Kind)
	}
	if a.linkKind == entities.LinkInstance && !json.Valid(d.Data) {
		return a.invalid(path, "instance data is not valid JSON")
	}
	return nil
}

func (a *documentAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	d, _ := v.(*entities.Document)
	if d == nil {
		return enc, nil
	}
	idx := enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: d.ContentType}, -1)
	enc.Uploads = append(enc.Uploads, Upload{Row: idx, Kind: UploadExternal, LinkKind: a.linkKind, Data: d.Data})
	return enc, nil
}

func (a *documentAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	m, err := wireMap(wire)
	if err != nil || m == nil {
		return (*entities.Document)(nil), err
	}
	d := &entities.Document{}
	if d.ContentType, err = wireString(m["contenttype"]); err != nil {
		return nil, fmt.Errorf("contenttype: %w", err)
	}
	// instances may carry their data as a JSON object
	if a.linkKind == entities.LinkInstance {
		if obj, ok := m["data"].(map[string]any); ok {
			if d.Data, err = json.Marshal(obj); err != nil {
				return nil, err
			}
			if d.ContentType == "" {
				d.ContentType = "application/json"
			}
			return d, nil
		}
	}
	data, err := wireString(m["data"])
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	if d.Data, err = base64.StdEncoding.DecodeString(data); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return d, nil
}

func (a *documentAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	d, _ := v.(*entities.Document)
	if d == nil {
		return nil, nil
	}
	out := map[string]any{"contenttype": d.ContentType}
	if a.linkKind == entities.LinkInstance {
		var obj map[string]any
		if err := json.Unmarshal(d.Data, &obj); err == nil {
			out["data"] = obj
			return out, nil
		}
	}
	out["data"] = base64.StdEncoding.EncodeToString(d.Data)
	return out, nil
}

const (
	internalLinkPrefix = "i:"
	externalLinkPrefix = "e:"
)

// intExtLinkAccessor stores "i:<append>" with the handle in a link row for
// internal links, or "e:<url>" for external ones
type intExtLinkAccessor struct {
	attrBase
}

func (a *intExtLinkAccessor) DefaultValue() any { return (*entities.IntExtLink)(nil) }

func (a *intExtLinkAccessor) IsSet(v any) bool {
	l, _ := v.(*entities.IntExtLink)
	return l != nil && (l.Internal != "" || l.External != "")
}

func (a *intExtLinkAccessor) CheckFilter(c Condition) error {
	return checkPresence(a.attrBase, c)
}

func (a *intExtLinkAccessor) MatchesValue(v any, c Condition) bool {
	return matchPresence(a.IsSet(v), c)
}

func (a *intExtLinkAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return presencePushdown(a.attr.ID, c), nil
}

func (a *intExtLinkAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return (*entities.IntExtLink)(nil), nil
	}
	raw := rows[0].RawData
	switch {
	case strings.HasPrefix(raw, internalLinkPrefix):
		link, ok := rec.Links[rows[0].ID]
		if !ok {
			return nil, entities.Internalf("setting %d of %s has no link row", rows[0].ID, a.attr.Tag)
		}
		return &entities.IntExtLink{Internal: link.Handle, Append: strings.TrimPrefix(raw, internalLinkPrefix)}, nil
	case strings.HasPrefix(raw, externalLinkPrefix):
		return &entities.IntExtLink{External: strings.TrimPrefix(raw, externalLinkPrefix)}, nil
	}
	return nil, fmt.Errorf("invalid stored link %q in setting %d", raw, rows[0].ID)
}

func (a *intExtLinkAccessor) ValidateInput(v any, _ *checker.Batch, path string) error {
	l, ok := v.(*entities.IntExtLink)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	if l == nil {
		return nil
	}
	switch {
	case l.Internal != "" && l.External != "":
		return a.invalid(path, "a link is either internal or external")
	case l.External != "" && l.Append != "":
		return a.invalid(path, "only internal links take an appended part")
	case len(l.External)+len(externalLinkPrefix) > entities.MaxInlineBytes,
		len(l.Append)+len(internalLinkPrefix) > entities.MaxInlineBytes:
		return entities.NewValidationError(path, entities.CodeTooLong, "link exceeds %d bytes", entities.MaxInlineBytes)
	}
	return nil
}

func (a *intExtLinkAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	if !a.IsSet(v) {
		return enc, nil
	}
	l := v.(*entities.IntExtLink)
	if l.External != "" {
		enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: externalLinkPrefix + l.External}, -1)
		return enc, nil
	}
	idx := enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: internalLinkPrefix + l.Append}, -1)
	enc.Rows[idx].Link = &entities.LinkRow{Handle: l.Internal, Kind: entities.LinkIntExtLink}
	return enc, nil
}

func (a *intExtLinkAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	m, err := wireMap(wire)
	if err != nil || m == nil {
		return (*entities.IntExtLink)(nil), err
	}
	l := &entities.IntExtLink{}
	if l.Internal, err = wireString(m["internallink"]); err != nil {
		return nil, err
	}
	if l.External, err = wireString(m["externallink"]); err != nil {
		return nil, err
	}
	if l.Append, err = wireString(m["append"]); err != nil {
		return nil, err
	}
	return l, nil
}

func (a *intExtLinkAccessor) ExportValue(_ context.Context, _ *Env, v any) (any, error) {
	if !a.IsSet(v) {
		return nil, nil
	}
	l := v.(*entities.IntExtLink)
	if l.External != "" {
		return map[string]any{"externallink": l.External}, nil
	}
	return map[string]any{"internallink": l.Internal, "append": l.Append}, nil
}
