package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
)

// EntityRepository defines the interface for entity row access
type EntityRepository interface {
	// Get retrieves an entity by id, returning entities.ErrNotFound when absent
	Get(ctx context.Context, id int64) (*entities.Entity, error)

	// Exists checks if an entity id is in use
	Exists(ctx context.Context, id int64) (bool, error)

	// FindByGUID retrieves an entity by guid, returning entities.ErrNotFound when absent
	FindByGUID(ctx context.Context, guid uuid.UUID) (*entities.Entity, error)

	// FindByTag retrieves an entity of one of the given types by tag
	FindByTag(ctx context.Context, typeIDs []int64, tag string) (*entities.Entity, error)

	// GUIDs maps entity ids to their guids; unknown ids are left out
	GUIDs(ctx context.Context, ids []int64) (map[int64]uuid.UUID, error)

	// TypesOf maps entity ids to their type ids; unknown ids are left out
	TypesOf(ctx context.Context, ids []int64) (map[int64]int64, error)

	// Upsert creates or replaces an entity row
	Upsert(ctx context.Context, e *entities.Entity) error

	// Delete removes entity rows
	Delete(ctx context.Context, ids []int64) error

	// NextID allocates a fresh entity id
	NextID(ctx context.Context) (int64, error)

	// Search returns the ids of entities of the given types matching pred, in id
	// order. A limit of 0 means no limit.
	Search(ctx context.Context, typeIDs []int64, pred query.Predicate, limit int) ([]int64, error)
}
