package repositories

import (
	"context"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// LinkRepository defines the interface for external link row access
type LinkRepository interface {
	// Load retrieves the link rows of the given settings
	Load(ctx context.Context, settingIDs []int64) ([]entities.LinkRow, error)

	// Upsert creates or replaces link rows
	Upsert(ctx context.Context, rows []entities.LinkRow) error

	// Delete removes the link rows of the given settings
	Delete(ctx context.Context, settingIDs []int64) error
}
