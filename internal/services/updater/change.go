package updater

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/history"
	"github.com/WebHare/platform-sub003/internal/services/reconciler"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

// buildChange records the columns and rows an update replaced
func buildChange(old, next *entities.Entity, changed map[string]any, current []entities.SettingRow, currentLinks []entities.LinkRow, res *reconciler.Result) *entities.Change {
	change := &entities.Change{
		Entity: next.ID,
		Type:   next.Type,
		GUID:   next.GUID,
	}
	if len(changed) > 0 {
		change.After.Entity = changed
		if old != nil {
			change.Before.Entity = make(map[string]any, len(changed))
			for col := range changed {
				change.Before.Entity[col], _ = old.Get(col)
			}
		}
	}

	byID := make(map[int64]entities.SettingRow, len(current))
	for _, row := range current {
		byID[row.ID] = row
	}
	for _, row := range res.Upserts {
		if prev, ok := byID[row.ID]; ok {
			change.Before.Settings = append(change.Before.Settings, prev)
		}
	}
	for _, id := range res.Deletes {
		change.Before.Settings = append(change.Before.Settings, byID[id])
	}
	change.After.Settings = res.Upserts
	change.DeletedSettings = res.Deletes

	replaced := make(map[int64]bool, len(res.LinkDeletes)+len(res.LinkUpserts))
	for _, id := range res.LinkDeletes {
		replaced[id] = true
	}
	for _, l := range res.LinkUpserts {
		replaced[l.Setting] = true
	}
	for _, l := range currentLinks {
		if replaced[l.Setting] {
			change.Before.Links = append(change.Before.Links, l)
		}
	}
	change.After.Links = res.LinkUpserts

	if res.Touched != nil {
		change.Touched = res.Touched.ToSlice()
		slices.Sort(change.Touched)
	}
	return change
}

// recordChange appends a change to the changeset of the unit, or to the one
// named in opts
func (u *Updater) recordChange(ctx context.Context, w *work.Unit, opts Options, old, next *entities.Entity, changed map[string]any, current []entities.SettingRow, currentLinks []entities.LinkRow, res *reconciler.Result, now time.Time) error {
	change := buildChange(old, next, changed, current, currentLinks, res)
	return u.appendChange(ctx, w, opts.Changeset, change, now)
}

func (u *Updater) appendChange(ctx context.Context, w *work.Unit, changeset int64, change *entities.Change, now time.Time) error {
	if change.IsEmpty() {
		return nil
	}
	if changeset != 0 {
		w.UseChangeset(changeset)
	}
	cs, err := w.Changeset(ctx)
	if err != nil {
		return err
	}
	change.Changeset = cs.ID
	change.When = now
	portable, err := history.NewMapper(w.Schema(), w.Tx().Entities()).Remap(ctx, change)
	if err != nil {
		return fmt.Errorf("failed to map change of %d: %w", change.Entity, err)
	}
	if err := w.Tx().History().AppendChange(ctx, portable); err != nil {
		return fmt.Errorf("failed to record change of %d: %w", change.Entity, err)
	}
	return nil
}
