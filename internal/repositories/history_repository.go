package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// HistoryRepository defines the interface for the audit log
type HistoryRepository interface {
	// CreateChangeset opens a changeset and assigns its id
	CreateChangeset(ctx context.Context, cs *entities.Changeset) error

	// AppendChange stores a change and its attachments
	AppendChange(ctx context.Context, change *entities.PortableChange) error

	// ListChanges retrieves the changes of an entity, oldest first
	ListChanges(ctx context.Context, guid uuid.UUID) ([]*entities.PortableChange, error)
}
