package accessor

import (
	"github.com/WebHare/platform-sub003/internal/entities"
)

// Record is an entity together with its stored setting and link rows. Settings
// are kept sorted so that the rows of one attribute below one parent row form a
// contiguous range.
type Record struct {
	Entity   *entities.Entity
	Settings []entities.SettingRow
	Links    map[int64]entities.LinkRow
}

// NewRecord builds a record from unsorted rows
func NewRecord(ent *entities.Entity, settings []entities.SettingRow, links []entities.LinkRow) *Record {
	rows := append([]entities.SettingRow(nil), settings...)
	entities.SortSettings(rows)
	rec := &Record{Entity: ent, Settings: rows, Links: make(map[int64]entities.LinkRow, len(links))}
	for _, l := range links {
		rec.Links[l.Setting] = l
	}
	return rec
}

// Range returns the bounds of the rows of attribute below the parent row (0 for
// top-level rows)
func (r *Record) Range(attribute, parent int64) (start, limit int) {
	start = -1
	for i := range r.Settings {
		row := &r.Settings[i]
		if row.Attribute == attribute && row.ParentSetting == parent {
			if start < 0 {
				start = i
			}
			limit = i + 1
		} else if start >= 0 {
			break
		}
	}
	if start < 0 {
		return 0, 0
	}
	return start, limit
}

// Rows returns the rows of attribute below the parent row
func (r *Record) Rows(attribute, parent int64) []entities.SettingRow {
	start, limit := r.Range(attribute, parent)
	return r.Settings[start:limit]
}

// Subtree returns the rows of the given attributes, including every row nested
// below them
func (r *Record) Subtree(attributes []int64) []entities.SettingRow {
	want := make(map[int64]bool, len(attributes))
	for _, a := range attributes {
		want[a] = true
	}
	var out []entities.SettingRow
	for _, row := range r.Settings {
		if want[row.Attribute] {
			out = append(out, row)
		}
	}
	return out
}

// LinksFor returns the link rows of the given settings
func (r *Record) LinksFor(rows []entities.SettingRow) []entities.LinkRow {
	var out []entities.LinkRow
	for _, row := range rows {
		if l, ok := r.Links[row.ID]; ok {
			out = append(out, l)
		}
	}
	return out
}
