package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// PostgresBlobStore keeps overflowing setting payloads in wrd_blobs, keyed by
// their sha256
type PostgresBlobStore struct {
	db querier
}

// NewPostgresBlobStore creates a new PostgreSQL blob store
func NewPostgresBlobStore(db querier) *PostgresBlobStore {
	return &PostgresBlobStore{db: db}
}

// Put stores data; storing the same bytes twice is a no-op
func (s *PostgresBlobStore) Put(ctx context.Context, data []byte) (*entities.BlobRef, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	q := `
		INSERT INTO wrd_blobs (key, hash, size, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, q, hash, hash, len(data), data); err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}
	return &entities.BlobRef{Key: hash, Hash: hash, Size: int64(len(data))}, nil
}

// Get retrieves the content of a blob
func (s *PostgresBlobStore) Get(ctx context.Context, ref *entities.BlobRef) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM wrd_blobs WHERE key = $1`, ref.Key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: blob %s", entities.ErrNotFound, ref.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, nil
}
