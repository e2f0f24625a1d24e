// Package history turns internal before/after snapshots into change records that
// stay meaningful after numeric ids are reused.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// InlineLimit is the largest rawdata kept inside a change record; longer values
// move to an attachment
const InlineLimit = 1024

// GUIDLookup resolves entity ids to guids
type GUIDLookup interface {
	GUIDs(ctx context.Context, ids []int64) (map[int64]uuid.UUID, error)
}

// Mapper remaps changes of one schema
type Mapper struct {
	schema *entities.Schema
	lookup GUIDLookup
}

// NewMapper creates a mapper
func NewMapper(schema *entities.Schema, lookup GUIDLookup) *Mapper {
	return &Mapper{schema: schema, lookup: lookup}
}

// Remap replaces entity ids by guids and attribute ids by tag paths
func (m *Mapper) Remap(ctx context.Context, change *entities.Change) (*entities.PortableChange, error) {
	typ := m.schema.TypeByID(change.Type)
	if typ == nil {
		return nil, fmt.Errorf("%w: type id %d", entities.ErrUnknownType, change.Type)
	}

	guids, err := m.lookup.GUIDs(ctx, referencedIDs(change))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entity guids: %w", err)
	}

	out := &entities.PortableChange{
		Changeset:       change.Changeset,
		EntityGUID:      change.GUID,
		TypeTag:         typ.Tag,
		When:            change.When,
		DeletedSettings: append([]int64(nil), change.DeletedSettings...),
	}
	out.Before, out.Attachments = m.snapshot(change.Before, guids, "before", out.Attachments)
	out.After, out.Attachments = m.snapshot(change.After, guids, "after", out.Attachments)

	for _, id := range change.Touched {
		out.Touched = append(out.Touched, m.schema.TagPath(id))
	}
	sort.Strings(out.Touched)
	return out, nil
}

// referencedIDs collects every entity id a change refers to
func referencedIDs(change *entities.Change) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, snap := range []entities.Snapshot{change.Before, change.After} {
		for _, col := range []string{entities.ColumnLeftEntity, entities.ColumnRightEntity} {
			if id, ok := snap.Entity[col].(int64); ok {
				add(id)
			}
		}
		for _, row := range snap.Settings {
			add(row.Setting)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Mapper) snapshot(snap entities.Snapshot, guids map[int64]uuid.UUID, side string, attachments []entities.Attachment) (entities.PortableSnapshot, []entities.Attachment) {
	out := entities.PortableSnapshot{Links: append([]entities.LinkRow(nil), snap.Links...)}
	if len(snap.Entity) > 0 {
		out.Entity = make(map[string]any, len(snap.Entity))
		for col, v := range snap.Entity {
			if col == entities.ColumnLeftEntity || col == entities.ColumnRightEntity {
				if id, ok := v.(int64); ok && id != 0 {
					if g, found := guids[id]; found {
						v = g.String()
					}
				}
			}
			out.Entity[col] = v
		}
	}
	for _, row := range snap.Settings {
		ps := entities.PortableSetting{
			ID:            row.ID,
			Attribute:     m.schema.TagPath(row.Attribute),
			RawData:       row.RawData,
			Setting:       row.Setting,
			Ordering:      row.Ordering,
			ParentSetting: row.ParentSetting,
		}
		if row.Setting != 0 {
			if g, ok := guids[row.Setting]; ok {
				ps.Reference = g.String()
				ps.Setting = 0
			}
		}
		switch {
		case row.Blob != nil:
			name := fmt.Sprintf("%s/%d", side, row.ID)
			attachments = append(attachments, entities.Attachment{Name: name, Blob: row.Blob})
			ps.Attachment = name
		case len(row.RawData) > InlineLimit:
			name := fmt.Sprintf("%s/%d", side, row.ID)
			attachments = append(attachments, entities.Attachment{Name: name, Data: []byte(row.RawData)})
			ps.Attachment = name
			ps.RawData = ""
		}
		out.Settings = append(out.Settings, ps)
	}
	return out, attachments
}
