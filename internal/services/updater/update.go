package updater

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/checker"
	"github.com/WebHare/platform-sub003/internal/services/reconciler"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

// field is one supplied value on its way to storage
type field struct {
	tag   string
	acc   accessor.Accessor
	value any
	enc   *accessor.Encoded
}

// checkLookup serves the batched checker from the unit's transaction
type checkLookup struct {
	tx repositories.Tx
}

func (l checkLookup) FindUnique(ctx context.Context, attribute int64, keys []string, now time.Time) (map[string][]int64, error) {
	return l.tx.Settings().FindUnique(ctx, attribute, keys, now)
}

func (l checkLookup) TypesOf(ctx context.Context, ids []int64) (map[int64]int64, error) {
	return l.tx.Entities().TypesOf(ctx, ids)
}

// Update creates or updates an entity of typeTag. fields maps top-level
// attribute tags onto internal values. An entityID of 0 creates a new entity,
// as does any id together with Options.CreateWithID. The id of the entity is
// returned.
func (u *Updater) Update(ctx context.Context, w *work.Unit, typeTag string, fields map[string]any, entityID int64, opts Options) (int64, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		u.metrics.RecordUpdate(typeTag, outcome, time.Since(start))
	}()

	schema := w.Schema()
	typ, err := lookupType(schema, typeTag)
	if err != nil {
		return 0, err
	}
	now := opts.Now
	if now.IsZero() {
		now = w.Now()
	}
	tx := w.Tx()

	create := entityID == 0 || opts.CreateWithID
	var old *entities.Entity
	switch {
	case opts.CreateWithID:
		if entityID <= 0 {
			return 0, entities.NewValidationError(entities.ColumnID, entities.CodeInvalidValue, "cannot create entity with id %d", entityID)
		}
		inUse, err := tx.Entities().Exists(ctx, entityID)
		if err != nil {
			return 0, fmt.Errorf("failed to check entity id %d: %w", entityID, err)
		}
		if inUse {
			return 0, fmt.Errorf("%w: %d", entities.ErrIDInUse, entityID)
		}
	case create:
		if entityID, err = tx.Entities().NextID(ctx); err != nil {
			return 0, fmt.Errorf("failed to allocate entity id: %w", err)
		}
	default:
		if old, err = entityOfType(ctx, w, typ, entityID); err != nil {
			return 0, err
		}
	}
	concrete := typ
	if old != nil {
		concrete = schema.TypeByID(old.Type)
	}

	if opts.Temporary {
		if !create {
			return 0, entities.NewValidationError("", entities.CodeNotAllowed, "only new entities can be temporary")
		}
		for _, tag := range []string{"wrd_creationdate", "wrd_limitdate"} {
			if _, ok := fields[tag]; ok {
				return 0, entities.NewValidationError(tag, entities.CodeNotAllowed, "temporary entities get their dates assigned")
			}
		}
	}

	list, err := u.prepare(schema, concrete, fields)
	if err != nil {
		return 0, err
	}

	chk := checker.New(entityID)
	chk.SkipRequired = opts.ImportMode || opts.Temporary
	chk.Lenient = opts.ImportMode

	var verrs *multierror.Error
	collect := func(err error) error {
		if _, ok := entities.AsValidationError(err); ok {
			verrs = multierror.Append(verrs, err)
			return nil
		}
		return err
	}
	for _, f := range list {
		if err := f.acc.ValidateInput(f.value, chk, f.tag); err != nil {
			if err := collect(err); err != nil {
				return 0, err
			}
		}
	}
	if create && !chk.SkipRequired {
		for _, attr := range schema.TopLevelAttributes(concrete) {
			if _, ok := fields[attr.Tag]; ok || !attr.Required {
				continue
			}
			a, err := u.registry.For(schema, attr)
			if err != nil {
				return 0, err
			}
			if err := a.ValidateInput(a.DefaultValue(), chk, attr.Tag); err != nil {
				if err := collect(err); err != nil {
					return 0, err
				}
			}
		}
	}
	if err := verrs.ErrorOrNil(); err != nil {
		return 0, err
	}

	next := &entities.Entity{ID: entityID, Type: concrete.ID}
	if old != nil {
		next = old.Clone()
	}
	for _, f := range list {
		if f.enc, err = f.acc.EncodeValue(f.value); err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", f.tag, err)
		}
		for col, v := range f.enc.Columns {
			if err := next.Set(col, v); err != nil {
				return 0, entities.Internalf("attribute %s: %v", f.tag, err)
			}
		}
	}

	comingAlive := u.assignDates(old, next, fields, opts, now)
	for _, err := range u.checkInvariants(ctx, tx, old, next) {
		if err := collect(err); err != nil {
			return 0, err
		}
	}
	if comingAlive && !opts.ImportMode {
		if err := u.recheckRequired(ctx, w, concrete, next, fields, chk); err != nil {
			if err := collect(err); err != nil {
				return 0, err
			}
		}
	}
	if err := verrs.ErrorOrNil(); err != nil {
		return 0, err
	}

	// checks and uploads run together; both are drained before anything is written
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range list {
		if len(f.enc.Uploads) > 0 && (u.blobs == nil || u.external == nil) {
			_ = g.Wait()
			return 0, entities.Internalf("attribute %s needs blob and external stores", f.tag)
		}
		f.enc.Materialize(gctx, g, u.blobs, u.external)
	}
	g.Go(func() error {
		return chk.Run(gctx, checkLookup{tx: tx}, now)
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	attrs := settingAttributes(schema, accessorsOf(list))
	var current []entities.SettingRow
	var currentLinks []entities.LinkRow
	if !create && len(attrs) > 0 {
		rec, err := loadRecord(ctx, w, old, attrs)
		if err != nil {
			return 0, err
		}
		current = rec.Settings
		currentLinks = rec.LinksFor(rec.Settings)
	}
	res, err := reconciler.Reconcile(ctx, &reconciler.Input{
		Entity:       entityID,
		Desired:      desiredRows(list),
		Current:      current,
		CurrentLinks: currentLinks,
		Allocate:     tx.Settings().NextIDs,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile settings of %d: %w", entityID, err)
	}

	var changed map[string]any
	if create {
		changed = (&entities.Entity{}).Diff(next)
	} else {
		changed = old.Diff(next)
	}
	if !create && len(changed) == 0 && res.IsNoop() {
		outcome = "noop"
		return entityID, nil
	}

	next.ModificationDate = now
	if err := u.persist(ctx, tx, next, res); err != nil {
		return 0, err
	}
	if err := u.materializeUniqueKeys(ctx, w, concrete, next, res.Touched, changed, now); err != nil {
		return 0, err
	}

	if create {
		w.EntityCreated(concrete.ID, entityID)
	} else {
		w.EntityUpdated(concrete.ID, entityID)
	}
	if concrete.LinkCheckAttributes != nil && concrete.LinkCheckAttributes.Intersect(res.Touched).Cardinality() > 0 {
		w.BeforeCommitOnce(fmt.Sprintf("checklinks/%d", entityID), u.linkCheck(entityID, concrete))
	}

	if u.history && concrete.HasHistory() {
		if err := u.recordChange(ctx, w, opts, old, next, changed, current, currentLinks, res, now); err != nil {
			return 0, err
		}
	}

	u.metrics.RecordRows(len(res.Upserts), len(res.Deletes), len(res.Unchanged))
	u.logger.Debug("entity written",
		zap.String("type", concrete.Tag),
		zap.Int64("id", entityID),
		zap.Bool("created", create),
		zap.Int("upserts", len(res.Upserts)),
		zap.Int("deletes", len(res.Deletes)))
	if create {
		outcome = "created"
	} else {
		outcome = "updated"
	}
	return entityID, nil
}

// prepare resolves the accessors of the supplied fields in tag order
func (u *Updater) prepare(schema *entities.Schema, typ *entities.Type, fields map[string]any) ([]*field, error) {
	tags := make([]string, 0, len(fields))
	for tag := range fields {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	accessors, err := u.fieldAccessors(schema, typ, tags)
	if err != nil {
		return nil, err
	}
	list := make([]*field, len(tags))
	for i, tag := range tags {
		list[i] = &field{tag: tag, acc: accessors[i], value: fields[tag]}
	}
	return list, nil
}

func accessorsOf(list []*field) []accessor.Accessor {
	out := make([]accessor.Accessor, len(list))
	for i, f := range list {
		out[i] = f.acc
	}
	return out
}

// desiredRows concatenates the encoded rows of every field
func desiredRows(list []*field) []reconciler.Desired {
	var out []reconciler.Desired
	for _, f := range list {
		offset := len(out)
		for _, r := range f.enc.Rows {
			parent := r.Parent
			if parent >= 0 {
				parent += offset
			}
			out = append(out, reconciler.Desired{Row: r.Row, Parent: parent, Link: r.Link})
		}
	}
	return out
}

// assignDates fills in the validity window of new and provisional entities and
// reports whether a provisional entity comes alive
func (u *Updater) assignDates(old, next *entities.Entity, fields map[string]any, opts Options, now time.Time) bool {
	_, creationGiven := fields["wrd_creationdate"]
	_, limitGiven := fields["wrd_limitdate"]
	if old == nil {
		if next.GUID == uuid.Nil {
			next.GUID = entities.NewGUID()
		}
		if opts.Temporary {
			next.CreationDate = entities.DefaultDateTime
			next.LimitDate = now.Add(entities.ProvisionalLifetime)
			return false
		}
		if entities.IsDefaultDateTime(next.CreationDate) {
			next.CreationDate = now
		}
		if entities.IsDefaultDateTime(next.LimitDate) {
			next.LimitDate = entities.MaxDateTime
		}
		return false
	}
	if next.GUID == uuid.Nil {
		next.GUID = old.GUID
	}
	if !old.IsProvisional() || (!creationGiven && !limitGiven) {
		return false
	}
	if entities.IsDefaultDateTime(next.CreationDate) {
		next.CreationDate = now
	}
	return true
}

// checkInvariants enforces the rules spanning several entity columns
func (u *Updater) checkInvariants(ctx context.Context, tx repositories.Tx, old, next *entities.Entity) []error {
	var errs []error
	if old == nil || next.GUID != old.GUID {
		holder, err := tx.Entities().FindByGUID(ctx, next.GUID)
		switch {
		case err == nil && holder.ID != next.ID:
			errs = append(errs, entities.NewValidationError("wrd_guid", entities.CodeNotUnique, "guid %s is already in use", next.GUID))
		case err != nil && !errors.Is(err, entities.ErrNotFound):
			errs = append(errs, fmt.Errorf("failed to check guid %s: %w", next.GUID, err))
		}
	}
	if !entities.IsDefaultDateTime(next.CreationDate) && !entities.IsDateSentinel(next.LimitDate) &&
		next.LimitDate.Before(next.CreationDate) {
		errs = append(errs, entities.NewValidationError("wrd_limitdate", entities.CodeInvalidDates, "limit date lies before creation date"))
	}
	if !next.DateOfBirth.IsZero() && !next.DateOfDeath.IsZero() && next.DateOfDeath.Before(next.DateOfBirth) {
		errs = append(errs, entities.NewValidationError("wrd_dateofdeath", entities.CodeInvalidDates, "date of death lies before date of birth"))
	}
	if next.GUID == entities.RootSettingsGUID && !entities.IsMaxDateTime(next.LimitDate) {
		errs = append(errs, entities.NewValidationError("wrd_limitdate", entities.CodeNotAllowed, "the settings entity cannot expire"))
	}
	// storage errors go first so they are not mistaken for validation failures
	sort.SliceStable(errs, func(i, j int) bool {
		_, vi := entities.AsValidationError(errs[i])
		_, vj := entities.AsValidationError(errs[j])
		return !vi && vj
	})
	return errs
}

// recheckRequired verifies that a provisional entity coming alive has every
// required attribute of its type, reading the ones not supplied from storage.
// Unique values already stored are registered for checking as they become live.
func (u *Updater) recheckRequired(ctx context.Context, w *work.Unit, typ *entities.Type, next *entities.Entity, fields map[string]any, chk *checker.Batch) error {
	schema := w.Schema()
	var required []accessor.Accessor
	var unique []accessor.Accessor
	for _, attr := range schema.TopLevelAttributes(typ) {
		if _, ok := fields[attr.Tag]; ok {
			continue
		}
		if !attr.Required && !typ.UniqueAttributes.Contains(attr.ID) {
			continue
		}
		a, err := u.registry.For(schema, attr)
		if err != nil {
			return err
		}
		if attr.Required {
			required = append(required, a)
		}
		if typ.UniqueAttributes.Contains(attr.ID) {
			unique = append(unique, a)
		}
	}
	if len(required) == 0 && len(unique) == 0 {
		return nil
	}
	rec, err := loadRecord(ctx, w, next, settingAttributes(schema, append(append([]accessor.Accessor(nil), required...), unique...)))
	if err != nil {
		return err
	}
	env := u.env(w)
	var result *multierror.Error
	for _, a := range required {
		start, limit := rec.Range(a.Attribute().ID, 0)
		v, err := a.GetFromRecord(ctx, env, rec, start, limit)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", a.Attribute().Tag, err)
		}
		if !a.IsSet(v) {
			result = multierror.Append(result, entities.NewValidationError(a.Attribute().Tag, entities.CodeRequired,
				"%s is required before the entity can become live", a.Attribute().Tag))
		}
	}
	for _, a := range unique {
		for _, row := range rec.Rows(a.Attribute().ID, 0) {
			chk.AddUnique(a.Attribute(), a.UniqueKey(&row), a.Attribute().Tag)
		}
	}
	return result.ErrorOrNil()
}

// persist writes the entity row and the reconciled write-set
func (u *Updater) persist(ctx context.Context, tx repositories.Tx, next *entities.Entity, res *reconciler.Result) error {
	if err := tx.Entities().Upsert(ctx, next); err != nil {
		return fmt.Errorf("failed to write entity %d: %w", next.ID, err)
	}
	if len(res.LinkDeletes) > 0 {
		if err := tx.Links().Delete(ctx, res.LinkDeletes); err != nil {
			return fmt.Errorf("failed to delete links of %d: %w", next.ID, err)
		}
	}
	if len(res.Deletes) > 0 {
		if err := tx.Settings().Delete(ctx, res.Deletes); err != nil {
			return fmt.Errorf("failed to delete settings of %d: %w", next.ID, err)
		}
	}
	if len(res.Upserts) > 0 {
		if err := tx.Settings().Upsert(ctx, res.Upserts); err != nil {
			return fmt.Errorf("failed to write settings of %d: %w", next.ID, err)
		}
	}
	if len(res.LinkUpserts) > 0 {
		if err := tx.Links().Upsert(ctx, res.LinkUpserts); err != nil {
			return fmt.Errorf("failed to write links of %d: %w", next.ID, err)
		}
	}
	return nil
}

// materializeUniqueKeys releases lapsed keys and stores the keys of the entity
// while it claims them
func (u *Updater) materializeUniqueKeys(ctx context.Context, w *work.Unit, typ *entities.Type, next *entities.Entity, touched mapset.Set[int64], changed map[string]any, now time.Time) error {
	if typ.UniqueAttributes == nil || typ.UniqueAttributes.Cardinality() == 0 {
		return nil
	}
	_, creationChanged := changed[entities.ColumnCreationDate]
	_, limitChanged := changed[entities.ColumnLimitDate]
	if typ.UniqueAttributes.Intersect(touched).Cardinality() == 0 && !creationChanged && !limitChanged {
		return nil
	}
	settings := w.Tx().Settings()
	attrs := typ.UniqueAttributes.ToSlice()
	slices.Sort(attrs)
	if err := settings.ClearLapsedUniqueKeys(ctx, attrs, now); err != nil {
		return fmt.Errorf("failed to release lapsed unique keys: %w", err)
	}
	if !next.HoldsUniqueKeys(now) {
		if err := settings.ClearUniqueKeys(ctx, []int64{next.ID}); err != nil {
			return fmt.Errorf("failed to release unique keys of %d: %w", next.ID, err)
		}
		return nil
	}
	rows, err := settings.Load(ctx, next.ID, attrs)
	if err != nil {
		return fmt.Errorf("failed to load unique settings of %d: %w", next.ID, err)
	}
	schema := w.Schema()
	keys := make([]repositories.UniqueKey, 0, len(rows))
	for i := range rows {
		a, err := u.registry.For(schema, schema.AttributeByID(rows[i].Attribute))
		if err != nil {
			return err
		}
		keys = append(keys, repositories.UniqueKey{Setting: rows[i].ID, Key: a.UniqueKey(&rows[i])})
	}
	if len(keys) == 0 {
		return nil
	}
	if err := settings.SetUniqueKeys(ctx, keys); err != nil {
		return fmt.Errorf("failed to store unique keys of %d: %w", next.ID, err)
	}
	return nil
}
