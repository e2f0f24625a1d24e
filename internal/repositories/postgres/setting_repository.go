package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

const settingColumns = `id, entity, attribute, rawdata, setting, blob_key, blob_hash, blob_size, ordering, parentsetting, rawdata_prefix`

// settingWidth is the number of bind parameters per upserted row
const settingWidth = 11

// claimingEntity restricts e to non-provisional entities whose window has not
// ended at the bound time
const claimingEntity = `e.creationdate > '0001-01-01' AND e.limitdate > %[1]s`

// PostgresSettingRepository implements SettingRepository using PostgreSQL
type PostgresSettingRepository struct {
	db        querier
	maxParams int
}

// NewPostgresSettingRepository creates a new PostgreSQL setting repository
func NewPostgresSettingRepository(db querier, maxParams int) *PostgresSettingRepository {
	if maxParams <= 0 {
		maxParams = DefaultMaxParams
	}
	return &PostgresSettingRepository{db: db, maxParams: maxParams}
}

func scanSetting(row rowScanner) (entities.SettingRow, error) {
	var s entities.SettingRow
	var setting, parent sql.NullInt64
	var blobKey, blobHash sql.NullString
	var blobSize sql.NullInt64
	var prefix string
	err := row.Scan(&s.ID, &s.Entity, &s.Attribute, &s.RawData, &setting, &blobKey, &blobHash, &blobSize,
		&s.Ordering, &parent, &prefix)
	if err != nil {
		return s, err
	}
	s.Setting = setting.Int64
	s.ParentSetting = parent.Int64
	if blobKey.Valid {
		s.Blob = &entities.BlobRef{Key: blobKey.String, Hash: blobHash.String, Size: blobSize.Int64}
		s.Prefix = prefix
	}
	return s, nil
}

func (r *PostgresSettingRepository) query(ctx context.Context, q string, args ...any) ([]entities.SettingRow, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()
	var out []entities.SettingRow
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return out, nil
}

// Load retrieves the rows of one entity ordered by (attribute, parentsetting, ordering, id)
func (r *PostgresSettingRepository) Load(ctx context.Context, entity int64, attributes []int64) ([]entities.SettingRow, error) {
	q := `SELECT ` + settingColumns + ` FROM wrd_settings WHERE entity = $1`
	args := []any{entity}
	if len(attributes) > 0 {
		q += ` AND attribute = ANY($2)`
		args = append(args, pq.Array(attributes))
	}
	q += ` ORDER BY attribute, COALESCE(parentsetting, 0), ordering, id`
	return r.query(ctx, q, args...)
}

// LoadMany retrieves the rows of several entities grouped by entity
func (r *PostgresSettingRepository) LoadMany(ctx context.Context, entityIDs []int64, attributes []int64) (map[int64][]entities.SettingRow, error) {
	out := make(map[int64][]entities.SettingRow, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	q := `SELECT ` + settingColumns + ` FROM wrd_settings WHERE entity = ANY($1)`
	args := []any{pq.Array(entityIDs)}
	if len(attributes) > 0 {
		q += ` AND attribute = ANY($2)`
		args = append(args, pq.Array(attributes))
	}
	q += ` ORDER BY entity, attribute, COALESCE(parentsetting, 0), ordering, id`
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Entity] = append(out[row.Entity], row)
	}
	return out, nil
}

// Upsert writes rows in batches that stay below the parameter ceiling. A row
// keeps its unique key only while its rawdata is unchanged.
func (r *PostgresSettingRepository) Upsert(ctx context.Context, rows []entities.SettingRow) error {
	for _, row := range rows {
		if row.ID == 0 || row.Attribute == 0 {
			return fmt.Errorf("setting row needs an id and an attribute")
		}
		if len(row.RawData) > entities.MaxInlineBytes {
			return fmt.Errorf("rawdata of setting %d exceeds %d bytes", row.ID, entities.MaxInlineBytes)
		}
	}
	size := chunkSize(r.maxParams, settingWidth)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batch := rows[start:end]
		args := make([]any, 0, len(batch)*settingWidth)
		for _, row := range batch {
			var blobKey, blobHash sql.NullString
			var blobSize sql.NullInt64
			if row.Blob != nil {
				blobKey = sql.NullString{String: row.Blob.Key, Valid: true}
				blobHash = sql.NullString{String: row.Blob.Hash, Valid: true}
				blobSize = sql.NullInt64{Int64: row.Blob.Size, Valid: true}
			}
			args = append(args, row.ID, row.Entity, row.Attribute, row.RawData, nullID(row.Setting),
				blobKey, blobHash, blobSize, row.Ordering, nullID(row.ParentSetting), row.SearchKey())
		}
		q := `
			INSERT INTO wrd_settings (` + settingColumns + `)
			VALUES ` + placeholders(len(batch), settingWidth, 0) + `
			ON CONFLICT (id) DO UPDATE SET
				entity = EXCLUDED.entity, attribute = EXCLUDED.attribute,
				rawdata = EXCLUDED.rawdata, setting = EXCLUDED.setting,
				blob_key = EXCLUDED.blob_key, blob_hash = EXCLUDED.blob_hash, blob_size = EXCLUDED.blob_size,
				ordering = EXCLUDED.ordering, parentsetting = EXCLUDED.parentsetting,
				rawdata_prefix = EXCLUDED.rawdata_prefix,
				unique_rawdata = CASE WHEN wrd_settings.rawdata = EXCLUDED.rawdata
					AND wrd_settings.attribute = EXCLUDED.attribute AND wrd_settings.entity = EXCLUDED.entity
					THEN wrd_settings.unique_rawdata END
		`
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to write settings: %w", err)
		}
	}
	return nil
}

// Delete removes rows by id
func (r *PostgresSettingRepository) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wrd_settings WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}

// DeleteForEntities removes every row of the given entities
func (r *PostgresSettingRepository) DeleteForEntities(ctx context.Context, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wrd_settings WHERE entity = ANY($1)`, pq.Array(entityIDs)); err != nil {
		return fmt.Errorf("failed to delete entity settings: %w", err)
	}
	return nil
}

// NextIDs allocates n fresh setting ids
func (r *PostgresSettingRepository) NextIDs(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT nextval('wrd_settings_id_seq') FROM generate_series(1, $1)`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate setting ids: %w", err)
	}
	defer rows.Close()
	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan setting id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting ids: %w", err)
	}
	return ids, nil
}

// SetUniqueKeys materializes unique keys. The partial unique index on
// (attribute, unique_rawdata) rejects concurrent writers racing for a key.
func (r *PostgresSettingRepository) SetUniqueKeys(ctx context.Context, keys []repositories.UniqueKey) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]int64, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.Setting
		values[i] = k.Key
	}
	q := `
		UPDATE wrd_settings s SET unique_rawdata = k.key
		FROM unnest($1::bigint[], $2::text[]) AS k(id, key)
		WHERE s.id = k.id
	`
	res, err := r.db.ExecContext(ctx, q, pq.Array(ids), pq.Array(values))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return entities.NewValidationError("", entities.CodeNotUnique, "value is already in use: %s", pqErr.Detail)
		}
		return fmt.Errorf("failed to set unique keys: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(keys)) {
		return fmt.Errorf("%w: %d of %d unique settings", entities.ErrNotFound, int64(len(keys))-n, len(keys))
	}
	return nil
}

// ClearUniqueKeys releases the unique keys of the given entities
func (r *PostgresSettingRepository) ClearUniqueKeys(ctx context.Context, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	q := `UPDATE wrd_settings SET unique_rawdata = NULL WHERE entity = ANY($1) AND unique_rawdata IS NOT NULL`
	if _, err := r.db.ExecContext(ctx, q, pq.Array(entityIDs)); err != nil {
		return fmt.Errorf("failed to clear unique keys: %w", err)
	}
	return nil
}

// ClearLapsedUniqueKeys releases keys of attributes still held by entities whose
// window ended before now
func (r *PostgresSettingRepository) ClearLapsedUniqueKeys(ctx context.Context, attributes []int64, now time.Time) error {
	if len(attributes) == 0 {
		return nil
	}
	q := `
		UPDATE wrd_settings s SET unique_rawdata = NULL
		FROM wrd_entities e
		WHERE s.entity = e.id AND s.attribute = ANY($1) AND s.unique_rawdata IS NOT NULL
			AND NOT (` + fmt.Sprintf(claimingEntity, "$2") + `)
	`
	if _, err := r.db.ExecContext(ctx, q, pq.Array(attributes), now); err != nil {
		return fmt.Errorf("failed to clear lapsed unique keys: %w", err)
	}
	return nil
}

// FindUnique returns, per key, the entities claiming it for attribute at now
func (r *PostgresSettingRepository) FindUnique(ctx context.Context, attribute int64, keys []string, now time.Time) (map[string][]int64, error) {
	out := make(map[string][]int64)
	if len(keys) == 0 {
		return out, nil
	}
	q := `
		SELECT DISTINCT s.unique_rawdata, s.entity
		FROM wrd_settings s
		JOIN wrd_entities e ON e.id = s.entity
		WHERE s.attribute = $1 AND s.unique_rawdata = ANY($2) AND ` + fmt.Sprintf(claimingEntity, "$3") + `
		ORDER BY s.unique_rawdata, s.entity
	`
	rows, err := r.db.QueryContext(ctx, q, attribute, pq.Array(keys), now)
	if err != nil {
		return nil, fmt.Errorf("failed to find unique keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var entity int64
		if err := rows.Scan(&key, &entity); err != nil {
			return nil, fmt.Errorf("failed to scan unique key: %w", err)
		}
		out[key] = append(out[key], entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unique keys: %w", err)
	}
	return out, nil
}
