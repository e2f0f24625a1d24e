package repositories

import (
	"context"
	"time"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// UniqueKey is the normalized key materialized for a setting of a unique attribute
type UniqueKey struct {
	Setting int64
	Key     string
}

// SettingRepository defines the interface for setting row access
type SettingRepository interface {
	// Load retrieves the rows of one entity, restricted to attributes when non-empty,
	// ordered by (attribute, parentsetting, ordering, id)
	Load(ctx context.Context, entity int64, attributes []int64) ([]entities.SettingRow, error)

	// LoadMany retrieves the rows of several entities grouped by entity
	LoadMany(ctx context.Context, entityIDs []int64, attributes []int64) (map[int64][]entities.SettingRow, error)

	// Upsert writes rows in batches that stay below the parameter ceiling
	Upsert(ctx context.Context, rows []entities.SettingRow) error

	// Delete removes rows by id
	Delete(ctx context.Context, ids []int64) error

	// DeleteForEntities removes every row of the given entities
	DeleteForEntities(ctx context.Context, entityIDs []int64) error

	// NextIDs allocates n fresh setting ids
	NextIDs(ctx context.Context, n int) ([]int64, error)

	// SetUniqueKeys materializes unique keys for setting rows
	SetUniqueKeys(ctx context.Context, keys []UniqueKey) error

	// ClearUniqueKeys releases the unique keys of the given entities
	ClearUniqueKeys(ctx context.Context, entityIDs []int64) error

	// ClearLapsedUniqueKeys releases keys of the given attributes still held by
	// entities that are no longer live at now
	ClearLapsedUniqueKeys(ctx context.Context, attributes []int64, now time.Time) error

	// FindUnique returns, per key, the live entities holding it for attribute
	FindUnique(ctx context.Context, attribute int64, keys []string, now time.Time) (map[string][]int64, error)
}
