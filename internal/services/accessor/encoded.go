package accessor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// UploadKind tells where an upload goes
type UploadKind int

const (
	UploadBlob UploadKind = iota
	UploadExternal
)

// EncodedRow is one desired setting row. Parent is the index of the parent row
// within the same Encoded, or -1 for a top-level row. A non-zero Row.ID is an
// identity token taken from an earlier read.
type EncodedRow struct {
	Row    entities.SettingRow
	Parent int
	Link   *entities.LinkRow
}

// Upload is a payload that must be stored before the row it belongs to can be
// written
type Upload struct {
	Row      int
	Kind     UploadKind
	LinkKind entities.LinkKind
	Data     []byte
}

// Encoded is the storage shape of one attribute value
type Encoded struct {
	Columns map[string]any
	Rows    []EncodedRow
	Uploads []Upload
}

// addRow appends a row and returns its index
func (e *Encoded) addRow(row entities.SettingRow, parent int) int {
	e.Rows = append(e.Rows, EncodedRow{Row: row, Parent: parent})
	return len(e.Rows) - 1
}

// merge appends the rows and uploads of other, re-parenting its top-level rows
// below parent
func (e *Encoded) merge(other *Encoded, parent int) {
	offset := len(e.Rows)
	for _, r := range other.Rows {
		if r.Parent < 0 {
			r.Parent = parent
		} else {
			r.Parent += offset
		}
		e.Rows = append(e.Rows, r)
	}
	for _, u := range other.Uploads {
		u.Row += offset
		e.Uploads = append(e.Uploads, u)
	}
	for col, v := range other.Columns {
		if e.Columns == nil {
			e.Columns = make(map[string]any)
		}
		e.Columns[col] = v
	}
}

// Materialize schedules the uploads on g. Each upload fills in its own row, so
// the uploads may run concurrently; the rows are complete once g.Wait returns.
func (e *Encoded) Materialize(ctx context.Context, g *errgroup.Group, blobs repositories.BlobStore, external repositories.ExternalStore) {
	for _, u := range e.Uploads {
		u := u
		target := &e.Rows[u.Row]
		switch u.Kind {
		case UploadBlob:
			g.Go(func() error {
				ref, err := blobs.Put(ctx, u.Data)
				if err != nil {
					return fmt.Errorf("failed to store blob: %w", err)
				}
				target.Row.Blob = ref
				return nil
			})
		case UploadExternal:
			g.Go(func() error {
				handle, err := external.Put(ctx, u.LinkKind, u.Data)
				if err != nil {
					return fmt.Errorf("failed to store %s: %w", u.LinkKind, err)
				}
				target.Link = &entities.LinkRow{Handle: handle, Kind: u.LinkKind}
				return nil
			})
		}
	}
	e.Uploads = nil
}
