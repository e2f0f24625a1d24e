package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// Store opens transactions over the entity store
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx scopes every repository to one backend transaction
type Tx interface {
	Entities() EntityRepository
	Settings() SettingRepository
	Links() LinkRepository
	History() HistoryRepository
	Commit() error
	Rollback() error
}

// BlobStore keeps content-addressed blobs
type BlobStore interface {
	// Put stores data and returns its reference; storing the same bytes twice is a no-op
	Put(ctx context.Context, data []byte) (*entities.BlobRef, error)

	// Get retrieves the content of a blob
	Get(ctx context.Context, ref *entities.BlobRef) ([]byte, error)
}

// ExternalStore keeps documents, instances and file references outside the
// settings table
type ExternalStore interface {
	// Put stores a payload and returns its handle
	Put(ctx context.Context, kind entities.LinkKind, payload []byte) (string, error)

	// Get retrieves a payload, returning entities.ErrExternalAbsent when missing
	Get(ctx context.Context, handle string) ([]byte, error)

	// Exists checks whether a handle is still present
	Exists(ctx context.Context, handle string) (bool, error)

	// Delete removes a payload
	Delete(ctx context.Context, handle string) error
}

// ExternalHandle returns the content-addressed handle a payload of kind is
// stored under
func ExternalHandle(kind entities.LinkKind, payload []byte) string {
	sum := sha256.Sum256(payload)
	return string(kind) + "/" + hex.EncodeToString(sum[:])
}

// Notification lists the entities touched by a committed unit of work, by type id
type Notification struct {
	Schema        string
	Created       map[int64][]int64
	Updated       map[int64][]int64
	Deleted       map[int64][]int64
	SchemaChanged bool
	At            time.Time
}

// IsEmpty reports whether the notification carries nothing
func (n *Notification) IsEmpty() bool {
	return len(n.Created) == 0 && len(n.Updated) == 0 && len(n.Deleted) == 0 && !n.SchemaChanged
}

// Notifier receives post-commit notifications
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}
