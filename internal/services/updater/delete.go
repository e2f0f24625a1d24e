package updater

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

// Delete removes entities of typeTag together with their settings and links.
// The settings entity of the schema cannot be deleted.
func (u *Updater) Delete(ctx context.Context, w *work.Unit, typeTag string, ids []int64) error {
	start := time.Now()
	outcome := "error"
	defer func() {
		u.metrics.RecordUpdate(typeTag, outcome, time.Since(start))
	}()

	schema := w.Schema()
	typ, err := lookupType(schema, typeTag)
	if err != nil {
		return err
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	tx := w.Tx()
	res := u.resolver(w)
	removed := 0
	for _, id := range ids {
		ent, err := entityOfType(ctx, w, typ, id)
		if err != nil {
			return err
		}
		if ent.GUID == entities.RootSettingsGUID {
			return entities.NewValidationError("", entities.CodeNotAllowed, "the settings entity cannot be deleted")
		}
		concrete := schema.TypeByID(ent.Type)
		accessors, err := u.fieldAccessors(schema, concrete, nil)
		if err != nil {
			return err
		}
		rec, err := loadRecord(ctx, w, ent, settingAttributes(schema, accessors))
		if err != nil {
			return err
		}
		settingIDs := make([]int64, len(rec.Settings))
		for i, row := range rec.Settings {
			settingIDs[i] = row.ID
		}

		if len(settingIDs) > 0 {
			if err := tx.Links().Delete(ctx, settingIDs); err != nil {
				return fmt.Errorf("failed to delete links of %d: %w", id, err)
			}
		}
		if err := tx.Settings().DeleteForEntities(ctx, []int64{id}); err != nil {
			return fmt.Errorf("failed to delete settings of %d: %w", id, err)
		}
		if err := tx.Entities().Delete(ctx, []int64{id}); err != nil {
			return fmt.Errorf("failed to delete entity %d: %w", id, err)
		}

		if u.history && concrete.HasHistory() {
			change := &entities.Change{
				Entity:          id,
				Type:            ent.Type,
				GUID:            ent.GUID,
				DeletedSettings: settingIDs,
			}
			change.Before.Entity = (&entities.Entity{}).Diff(ent)
			change.Before.Settings = rec.Settings
			change.Before.Links = rec.LinksFor(rec.Settings)
			touched := make(map[int64]bool)
			for _, row := range rec.Settings {
				if !touched[row.Attribute] {
					touched[row.Attribute] = true
					change.Touched = append(change.Touched, row.Attribute)
				}
			}
			slices.Sort(change.Touched)
			if err := u.appendChange(ctx, w, 0, change, w.Now()); err != nil {
				return err
			}
		}

		w.EntityDeleted(ent.Type, id)
		guid := ent.GUID
		w.AfterCommit(func(ctx context.Context) {
			res.forget(ctx, id, guid)
		})
		removed++
	}
	u.logger.Debug("entities deleted", zap.String("type", typ.Tag), zap.Int("count", removed))
	outcome = "deleted"
	return nil
}

// linkCheck returns a before-commit hook verifying that the external objects
// linked from the check-links attributes of an entity still exist
func (u *Updater) linkCheck(entityID int64, typ *entities.Type) work.Hook {
	return func(ctx context.Context, w *work.Unit) error {
		attrs := typ.LinkCheckAttributes.ToSlice()
		slices.Sort(attrs)
		tx := w.Tx()
		rows, err := tx.Settings().Load(ctx, entityID, attrs)
		if err != nil {
			return fmt.Errorf("failed to load linked settings of %d: %w", entityID, err)
		}
		if len(rows) == 0 {
			return nil
		}
		byID := make(map[int64]entities.SettingRow, len(rows))
		ids := make([]int64, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
			byID[row.ID] = row
		}
		links, err := tx.Links().Load(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load links of %d: %w", entityID, err)
		}
		if len(links) > 0 && u.external == nil {
			return entities.Internalf("checking links of %d needs an external store", entityID)
		}
		var result *multierror.Error
		for _, l := range links {
			ok, err := u.external.Exists(ctx, l.Handle)
			if err != nil {
				return fmt.Errorf("failed to check %s %s: %w", l.Kind, l.Handle, err)
			}
			if !ok {
				path := w.Schema().TagPath(byID[l.Setting].Attribute)
				result = multierror.Append(result, entities.NewValidationError(path, entities.CodeBadReference,
					"%s %s no longer exists", l.Kind, l.Handle))
			}
		}
		return result.ErrorOrNil()
	}
}
