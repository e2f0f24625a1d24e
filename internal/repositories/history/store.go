// Package history stores change records with GORM, on the PostgreSQL
// connection in production and on SQLite in tests.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// GormHistoryRepository implements HistoryRepository using GORM
type GormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository creates a new GORM history repository
func NewGormHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	return &GormHistoryRepository{db: db}
}

// OpenPostgres wraps an existing PostgreSQL pool in a GORM handle
func OpenPostgres(db *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return gdb, nil
}

// AutoMigrate creates or updates the history tables
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ChangesetRecord{}, &ChangeRecord{}, &AttachmentRecord{}); err != nil {
		return fmt.Errorf("auto-migrate history: %w", err)
	}
	return nil
}

// TxFactory returns a function that scopes the repository to a running
// transaction, so change records commit with the rows they describe
func TxFactory(db *gorm.DB) func(tx *sql.Tx) repositories.HistoryRepository {
	return func(tx *sql.Tx) repositories.HistoryRepository {
		scoped := db.Session(&gorm.Session{NewDB: true, Context: context.Background()})
		scoped.Statement.ConnPool = tx
		return NewGormHistoryRepository(scoped)
	}
}

// CreateChangeset opens a changeset and assigns its id
func (r *GormHistoryRepository) CreateChangeset(ctx context.Context, cs *entities.Changeset) error {
	rec := &ChangesetRecord{Schema: cs.Schema, Source: cs.Source, CreatedAt: cs.CreatedAt.UTC()}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create changeset: %w", err)
	}
	cs.ID = rec.ID
	return nil
}

// AppendChange stores a change and its attachments
func (r *GormHistoryRepository) AppendChange(ctx context.Context, change *entities.PortableChange) error {
	db := r.db.WithContext(ctx)
	var n int64
	if err := db.Model(&ChangesetRecord{}).Where("id = ?", change.Changeset).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to look up changeset: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: changeset %d", entities.ErrNotFound, change.Changeset)
	}
	rec := toRecord(change)
	if err := db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	change.ID = rec.ID
	return nil
}

// ListChanges retrieves the changes of an entity, oldest first
func (r *GormHistoryRepository) ListChanges(ctx context.Context, guid uuid.UUID) ([]*entities.PortableChange, error) {
	var recs []ChangeRecord
	err := r.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("entity_guid = ?", guid.String()).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	out := make([]*entities.PortableChange, 0, len(recs))
	for i := range recs {
		c, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Changesets lists the changesets of a schema, newest first
func (r *GormHistoryRepository) Changesets(ctx context.Context, schema string, limit int) ([]entities.Changeset, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []ChangesetRecord
	err := r.db.WithContext(ctx).Where("schema_tag = ?", schema).Order("id DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list changesets: %w", err)
	}
	out := make([]entities.Changeset, len(recs))
	for i, rec := range recs {
		out[i] = entities.Changeset{ID: rec.ID, Schema: rec.Schema, Source: rec.Source, CreatedAt: rec.CreatedAt.UTC()}
	}
	return out, nil
}

// Prune removes the changes of a type recorded before cutoff and returns how
// many were removed
func (r *GormHistoryRepository) Prune(ctx context.Context, typeTag string, cutoff time.Time) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&ChangeRecord{}).Select("id").Where("type_tag = ? AND changed_at < ?", typeTag, cutoff.UTC())
		if err := tx.Where("change_id IN (?)", old).Delete(&AttachmentRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("type_tag = ? AND changed_at < ?", typeTag, cutoff.UTC()).Delete(&ChangeRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune history of %s: %w", typeTag, err)
	}
	return removed, nil
}
