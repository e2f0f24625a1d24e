package accessor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// resourceMeta is the rawdata of an image or file row; the content itself lives
// in the blob store
type resourceMeta struct {
	MediaType string `json:"mediatype"`
	FileName  string `json:"filename,omitempty"`
}

// resourceAccessor serves image and file attributes. Decoded resources carry
// their blob reference; the content is only read on export.
type resourceAccessor struct {
	attrBase
}

func (a *resourceAccessor) DefaultValue() any { return (*entities.Resource)(nil) }

func (a *resourceAccessor) IsSet(v any) bool {
	r, _ := v.(*entities.Resource)
	return r != nil
}

func (a *resourceAccessor) CheckFilter(c Condition) error {
	return checkPresence(a.attrBase, c)
}

func (a *resourceAccessor) MatchesValue(v any, c Condition) bool {
	return matchPresence(a.IsSet(v), c)
}

func (a *resourceAccessor) AddToQuery(c Condition) (*Pushdown, error) {
	if err := a.CheckFilter(c); err != nil {
		return nil, err
	}
	return presencePushdown(a.attr.ID, c), nil
}

func (a *resourceAccessor) GetFromRecord(_ context.Context, _ *Env, rec *Record, start, limit int) (any, error) {
	rows := rowsIn(rec, start, limit)
	if len(rows) == 0 {
		return (*entities.Resource)(nil), nil
	}
	var meta resourceMeta
	if rows[0].RawData != "" {
		if err := json.Unmarshal([]byte(rows[0].RawData), &meta); err != nil {
			return nil, fmt.Errorf("invalid stored %s in setting %d: %w", a.attr.Kind, rows[0].ID, err)
		}
	}
	return &entities.Resource{MediaType: meta.MediaType, FileName: meta.FileName, Blob: rows[0].Blob}, nil
}

// mediaType returns the declared media type, sniffing the content when none
// was given
func mediaType(r *entities.Resource) string {
	if r.MediaType != "" {
		return r.MediaType
	}
	if len(r.Data) > 0 {
		return http.DetectContentType(r.Data)
	}
	return "application/octet-stream"
}

func (a *resourceAccessor) ValidateInput(v any, chk *checker.Batch, path string) error {
	r, ok := v.(*entities.Resource)
	if !ok && v != nil {
		return a.wrongType(path, v)
	}
	if r == nil {
		return nil
	}
	if r.Data == nil && r.Blob == nil {
		return a.invalid(path, "%s has no content", a.attr.Kind)
	}
	if len(r.FileName) > 255 {
		return entities.NewValidationError(path+".filename", entities.CodeTooLong, "file name exceeds 255 bytes")
	}
	if a.attr.Kind == entities.KindImage && !chk.Lenient && r.Data != nil &&
		!strings.HasPrefix(mediaType(r), "image/") {
		return a.invalid(path, "content of type %s is not an image", mediaType(r))
	}
	return nil
}

func (a *resourceAccessor) EncodeValue(v any) (*Encoded, error) {
	enc := &Encoded{}
	r, _ := v.(*entities.Resource)
	if r == nil {
		return enc, nil
	}
	meta, err := canonicalJSON(resourceMeta{MediaType: mediaType(r), FileName: r.FileName})
	if err != nil {
		return nil, err
	}
	idx := enc.addRow(entities.SettingRow{Attribute: a.attr.ID, RawData: meta, Blob: r.Blob}, -1)
	if r.Data != nil {
		enc.Rows[idx].Row.Blob = nil
		enc.Uploads = append(enc.Uploads, Upload{Row: idx, Kind: UploadBlob, Data: r.Data})
	}
	return enc, nil
}

func (a *resourceAccessor) ImportValue(_ context.Context, _ *Env, wire any) (any, error) {
	m, err := wireMap(wire)
	if err != nil || m == nil {
		return (*entities.Resource)(nil), err
	}
	r := &entities.Resource{}
	if r.MediaType, err = wireString(m["mediatype"]); err != nil {
		return nil, fmt.Errorf("mediatype: %w", err)
	}
	if r.FileName, err = wireString(m["filename"]); err != nil {
		return nil, fmt.Errorf("filename: %w", err)
	}
	data, err := wireString(m["data"])
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	if r.Data, err = base64.StdEncoding.DecodeString(data); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return r, nil
}

func (a *resourceAccessor) ExportValue(ctx context.Context, env *Env, v any) (any, error) {
	r, _ := v.(*entities.Resource)
	if r == nil {
		return nil, nil
	}
	data := r.Data
	if data == nil && r.Blob != nil {
		if env == nil || env.Blobs == nil {
			return nil, entities.Internalf("no blob store to export %s", a.attr.Tag)
		}
		var err error
		if data, err = env.Blobs.Get(ctx, r.Blob); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", a.attr.Tag, err)
		}
	}
	return map[string]any{
		"mediatype": mediaType(r),
		"filename":  r.FileName,
		"size":      int64(len(data)),
		"data":      base64.StdEncoding.EncodeToString(data),
	}, nil
}
