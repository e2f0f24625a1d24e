package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func liveEntity(id int64) *entities.Entity {
	return &entities.Entity{
		ID:           id,
		Type:         1,
		GUID:         entities.NewGUID(),
		CreationDate: now.Add(-time.Hour),
		LimitDate:    entities.MaxDateTime,
	}
}

func TestTx_Isolation(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Entities().Upsert(ctx, liveEntity(1)))

	other, err := store.Begin(ctx)
	require.NoError(t, err)
	ok, err := other.Entities().Exists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "uncommitted rows are invisible")
	require.NoError(t, other.Rollback())

	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)

	after, err := store.Begin(ctx)
	require.NoError(t, err)
	ok, err = after.Entities().Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTx_RollbackKeepsSequences(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tx, _ := store.Begin(ctx)
	id, err := tx.Entities().NextID(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	tx, _ = store.Begin(ctx)
	next, err := tx.Entities().NextID(ctx)
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestSettings_UniqueWindow(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	tx, _ := store.Begin(ctx)

	alive := liveEntity(1)
	expired := liveEntity(2)
	expired.LimitDate = now.Add(-time.Minute)
	require.NoError(t, tx.Entities().Upsert(ctx, alive))
	require.NoError(t, tx.Entities().Upsert(ctx, expired))
	require.NoError(t, tx.Settings().Upsert(ctx, []entities.SettingRow{
		{ID: 10, Entity: 1, Attribute: 5, RawData: "a@x"},
		{ID: 11, Entity: 2, Attribute: 5, RawData: "a@x"},
	}))
	require.NoError(t, tx.Settings().SetUniqueKeys(ctx, []repositories.UniqueKey{
		{Setting: 10, Key: "a@x"}, {Setting: 11, Key: "a@x"},
	}))

	found, err := tx.Settings().FindUnique(ctx, 5, []string{"a@x"}, now)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"a@x": {1}}, found)

	require.NoError(t, tx.Settings().ClearLapsedUniqueKeys(ctx, []int64{5}, now))
	assert.NotContains(t, tx.(*Tx).data.unique, int64(11))
	assert.Contains(t, tx.(*Tx).data.unique, int64(10))

	require.NoError(t, tx.Settings().ClearUniqueKeys(ctx, []int64{1}))
	found, err = tx.Settings().FindUnique(ctx, 5, []string{"a@x"}, now)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSettings_UniqueKeyFollowsAttribute(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	tx, _ := store.Begin(ctx)

	require.NoError(t, tx.Entities().Upsert(ctx, liveEntity(1)))
	require.NoError(t, tx.Settings().Upsert(ctx, []entities.SettingRow{{ID: 10, Entity: 1, Attribute: 5, RawData: "a@x"}}))
	require.NoError(t, tx.Settings().SetUniqueKeys(ctx, []repositories.UniqueKey{{Setting: 10, Key: "a@x"}}))

	// the row is reused for another attribute with the same content
	require.NoError(t, tx.Settings().Upsert(ctx, []entities.SettingRow{{ID: 10, Entity: 1, Attribute: 6, RawData: "a@x"}}))
	assert.NotContains(t, tx.(*Tx).data.unique, int64(10))

	found, err := tx.Settings().FindUnique(ctx, 6, []string{"a@x"}, now)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSettings_LoadOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.Settings().Upsert(ctx, []entities.SettingRow{
		{ID: 4, Entity: 1, Attribute: 2, Ordering: 1},
		{ID: 3, Entity: 1, Attribute: 2, Ordering: 0},
		{ID: 2, Entity: 1, Attribute: 1},
		{ID: 1, Entity: 9, Attribute: 1},
	}))

	rows, err := tx.Settings().Load(ctx, 1, nil)
	require.NoError(t, err)
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	assert.Equal(t, []int64{2, 3, 4}, ids)

	rows, err = tx.Settings().Load(ctx, 1, []int64{2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	err = tx.Settings().Upsert(ctx, []entities.SettingRow{{ID: 5, Entity: 1}})
	assert.Error(t, err)
}

func TestEntities_Search(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	tx, _ := store.Begin(ctx)
	for id := int64(1); id <= 3; id++ {
		e := liveEntity(id)
		e.Tag = []string{"", "ONE", "TWO", "THREE"}[id]
		require.NoError(t, tx.Entities().Upsert(ctx, e))
	}
	require.NoError(t, tx.Settings().Upsert(ctx, []entities.SettingRow{{ID: 1, Entity: 2, Attribute: 7, RawData: "x"}}))

	ids, err := tx.Entities().Search(ctx, []int64{1}, query.HasSetting{Attribute: 7}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	ids, err = tx.Entities().Search(ctx, []int64{1}, query.True{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	e, err := tx.Entities().FindByTag(ctx, []int64{1}, "three")
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.ID)

	_, err = tx.Entities().FindByTag(ctx, []int64{2}, "three")
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestExternalStore(t *testing.T) {
	ctx := context.Background()
	s := NewExternalStore()
	h, err := s.Put(ctx, entities.LinkDocument, []byte("<p/>"))
	require.NoError(t, err)
	assert.Equal(t, repositories.ExternalHandle(entities.LinkDocument, []byte("<p/>")), h)

	ok, _ := s.Exists(ctx, h)
	assert.True(t, ok)
	require.NoError(t, s.Delete(ctx, h))
	_, err = s.Get(ctx, h)
	assert.ErrorIs(t, err, entities.ErrExternalAbsent)
}
