package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

type entityRepository struct {
	tx *Tx
}

func (r *entityRepository) Get(ctx context.Context, id int64) (*entities.Entity, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	e, ok := r.tx.data.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", entities.ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (r *entityRepository) Exists(ctx context.Context, id int64) (bool, error) {
	if err := r.tx.check(); err != nil {
		return false, err
	}
	_, ok := r.tx.data.entities[id]
	return ok, nil
}

func (r *entityRepository) FindByGUID(ctx context.Context, guid uuid.UUID) (*entities.Entity, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	for _, id := range r.sortedIDs() {
		if e := r.tx.data.entities[id]; e.GUID == guid {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: guid %s", entities.ErrNotFound, guid)
}

func (r *entityRepository) FindByTag(ctx context.Context, typeIDs []int64, tag string) (*entities.Entity, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	for _, id := range r.sortedIDs() {
		e := r.tx.data.entities[id]
		if slices.Contains(typeIDs, e.Type) && e.Tag != "" && strings.EqualFold(e.Tag, tag) {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: tag %q", entities.ErrNotFound, tag)
}

func (r *entityRepository) GUIDs(ctx context.Context, ids []int64) (map[int64]uuid.UUID, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	out := make(map[int64]uuid.UUID, len(ids))
	for _, id := range ids {
		if e, ok := r.tx.data.entities[id]; ok {
			out[id] = e.GUID
		}
	}
	return out, nil
}

func (r *entityRepository) TypesOf(ctx context.Context, ids []int64) (map[int64]int64, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(ids))
	for _, id := range ids {
		if e, ok := r.tx.data.entities[id]; ok {
			out[id] = e.Type
		}
	}
	return out, nil
}

func (r *entityRepository) Upsert(ctx context.Context, e *entities.Entity) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	if e.ID == 0 || e.Type == 0 {
		return fmt.Errorf("entity needs an id and a type")
	}
	r.tx.data.entities[e.ID] = e.Clone()
	return nil
}

func (r *entityRepository) Delete(ctx context.Context, ids []int64) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(r.tx.data.entities, id)
	}
	return nil
}

func (r *entityRepository) NextID(ctx context.Context) (int64, error) {
	if err := r.tx.check(); err != nil {
		return 0, err
	}
	return r.tx.store.next("entities", 1)[0], nil
}

func (r *entityRepository) Search(ctx context.Context, typeIDs []int64, pred query.Predicate, limit int) ([]int64, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	byEntity := make(map[int64]map[int64][]entities.SettingRow)
	for _, row := range r.tx.data.settings {
		rows := byEntity[row.Entity]
		if rows == nil {
			rows = make(map[int64][]entities.SettingRow)
			byEntity[row.Entity] = rows
		}
		rows[row.Attribute] = append(rows[row.Attribute], row)
	}
	var out []int64
	for _, id := range r.sortedIDs() {
		e := r.tx.data.entities[id]
		if !slices.Contains(typeIDs, e.Type) {
			continue
		}
		if query.Match(pred, e, byEntity[id]) {
			out = append(out, id)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *entityRepository) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r.tx.data.entities))
	for id := range r.tx.data.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type settingRepository struct {
	tx *Tx
}

func sortRows(rows []entities.SettingRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Attribute != b.Attribute {
			return a.Attribute < b.Attribute
		}
		if a.ParentSetting != b.ParentSetting {
			return a.ParentSetting < b.ParentSetting
		}
		if a.Ordering != b.Ordering {
			return a.Ordering < b.Ordering
		}
		return a.ID < b.ID
	})
}

func (r *settingRepository) Load(ctx context.Context, entity int64, attributes []int64) ([]entities.SettingRow, error) {
	many, err := r.LoadMany(ctx, []int64{entity}, attributes)
	if err != nil {
		return nil, err
	}
	return many[entity], nil
}

func (r *settingRepository) LoadMany(ctx context.Context, entityIDs []int64, attributes []int64) (map[int64][]entities.SettingRow, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	out := make(map[int64][]entities.SettingRow)
	for _, row := range r.tx.data.settings {
		if !slices.Contains(entityIDs, row.Entity) {
			continue
		}
		if len(attributes) > 0 && !slices.Contains(attributes, row.Attribute) {
			continue
		}
		out[row.Entity] = append(out[row.Entity], row)
	}
	for _, rows := range out {
		sortRows(rows)
	}
	return out, nil
}

func (r *settingRepository) Upsert(ctx context.Context, rows []entities.SettingRow) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID == 0 || row.Attribute == 0 {
			return fmt.Errorf("setting row needs an id and an attribute")
		}
		if len(row.RawData) > entities.MaxInlineBytes {
			return fmt.Errorf("rawdata of setting %d exceeds %d bytes", row.ID, entities.MaxInlineBytes)
		}
		if prev, ok := r.tx.data.settings[row.ID]; ok &&
			(prev.RawData != row.RawData || prev.Attribute != row.Attribute || prev.Entity != row.Entity) {
			delete(r.tx.data.unique, row.ID)
		}
		r.tx.data.settings[row.ID] = row
	}
	return nil
}

func (r *settingRepository) Delete(ctx context.Context, ids []int64) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(r.tx.data.settings, id)
		delete(r.tx.data.unique, id)
	}
	return nil
}

func (r *settingRepository) DeleteForEntities(ctx context.Context, entityIDs []int64) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for id, row := range r.tx.data.settings {
		if slices.Contains(entityIDs, row.Entity) {
			delete(r.tx.data.settings, id)
			delete(r.tx.data.unique, id)
		}
	}
	return nil
}

func (r *settingRepository) NextIDs(ctx context.Context, n int) ([]int64, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	return r.tx.store.next("settings", n), nil
}

func (r *settingRepository) SetUniqueKeys(ctx context.Context, keys []repositories.UniqueKey) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for _, k := range keys {
		if _, ok := r.tx.data.settings[k.Setting]; !ok {
			return fmt.Errorf("%w: setting %d", entities.ErrNotFound, k.Setting)
		}
		r.tx.data.unique[k.Setting] = k.Key
	}
	return nil
}

func (r *settingRepository) ClearUniqueKeys(ctx context.Context, entityIDs []int64) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for id := range r.tx.data.unique {
		if slices.Contains(entityIDs, r.tx.data.settings[id].Entity) {
			delete(r.tx.data.unique, id)
		}
	}
	return nil
}

func (r *settingRepository) ClearLapsedUniqueKeys(ctx context.Context, attributes []int64, now time.Time) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for id := range r.tx.data.unique {
		row := r.tx.data.settings[id]
		if !slices.Contains(attributes, row.Attribute) {
			continue
		}
		if e, ok := r.tx.data.entities[row.Entity]; !ok || !e.HoldsUniqueKeys(now) {
			delete(r.tx.data.unique, id)
		}
	}
	return nil
}

func (r *settingRepository) FindUnique(ctx context.Context, attribute int64, keys []string, now time.Time) (map[string][]int64, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	out := make(map[string][]int64)
	for id, key := range r.tx.data.unique {
		row := r.tx.data.settings[id]
		if row.Attribute != attribute || !slices.Contains(keys, key) {
			continue
		}
		e, ok := r.tx.data.entities[row.Entity]
		if !ok || !e.HoldsUniqueKeys(now) || slices.Contains(out[key], e.ID) {
			continue
		}
		out[key] = append(out[key], e.ID)
	}
	for _, ids := range out {
		slices.Sort(ids)
	}
	return out, nil
}

type linkRepository struct {
	tx *Tx
}

func (r *linkRepository) Load(ctx context.Context, settingIDs []int64) ([]entities.LinkRow, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	var out []entities.LinkRow
	for _, id := range settingIDs {
		if l, ok := r.tx.data.links[id]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Setting < out[j].Setting })
	return out, nil
}

func (r *linkRepository) Upsert(ctx context.Context, rows []entities.LinkRow) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for _, l := range rows {
		if _, ok := r.tx.data.settings[l.Setting]; !ok {
			return fmt.Errorf("link references missing setting %d", l.Setting)
		}
		r.tx.data.links[l.Setting] = l
	}
	return nil
}

func (r *linkRepository) Delete(ctx context.Context, settingIDs []int64) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	for _, id := range settingIDs {
		delete(r.tx.data.links, id)
	}
	return nil
}

type historyRepository struct {
	tx *Tx
}

func (r *historyRepository) CreateChangeset(ctx context.Context, cs *entities.Changeset) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	cs.ID = r.tx.store.next("changesets", 1)[0]
	stored := *cs
	r.tx.data.changesets[cs.ID] = &stored
	return nil
}

func (r *historyRepository) AppendChange(ctx context.Context, change *entities.PortableChange) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	if _, ok := r.tx.data.changesets[change.Changeset]; !ok {
		return fmt.Errorf("%w: changeset %d", entities.ErrNotFound, change.Changeset)
	}
	change.ID = r.tx.store.next("changes", 1)[0]
	r.tx.data.changes = append(r.tx.data.changes, change)
	return nil
}

func (r *historyRepository) ListChanges(ctx context.Context, guid uuid.UUID) ([]*entities.PortableChange, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	var out []*entities.PortableChange
	for _, c := range r.tx.data.changes {
		if c.EntityGUID == guid {
			out = append(out, c)
		}
	}
	return out, nil
}
