package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/WebHare/platform-sub003/internal/entities"
)

const linkWidth = 3

// PostgresLinkRepository implements LinkRepository using PostgreSQL
type PostgresLinkRepository struct {
	db        querier
	maxParams int
}

// NewPostgresLinkRepository creates a new PostgreSQL link repository
func NewPostgresLinkRepository(db querier, maxParams int) *PostgresLinkRepository {
	if maxParams <= 0 {
		maxParams = DefaultMaxParams
	}
	return &PostgresLinkRepository{db: db, maxParams: maxParams}
}

// Load retrieves the link rows of the given settings
func (r *PostgresLinkRepository) Load(ctx context.Context, settingIDs []int64) ([]entities.LinkRow, error) {
	if len(settingIDs) == 0 {
		return nil, nil
	}
	q := `SELECT setting, handle, kind FROM wrd_setting_links WHERE setting = ANY($1) ORDER BY setting`
	rows, err := r.db.QueryContext(ctx, q, pq.Array(settingIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	defer rows.Close()
	var out []entities.LinkRow
	for rows.Next() {
		var l entities.LinkRow
		if err := rows.Scan(&l.Setting, &l.Handle, &l.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}
	return out, nil
}

// Upsert creates or replaces link rows
func (r *PostgresLinkRepository) Upsert(ctx context.Context, rows []entities.LinkRow) error {
	size := chunkSize(r.maxParams, linkWidth)
	for start := 0; start < len(rows); start += size {
		batch := rows[start:min(start+size, len(rows))]
		args := make([]any, 0, len(batch)*linkWidth)
		for _, l := range batch {
			args = append(args, l.Setting, l.Handle, string(l.Kind))
		}
		q := `
			INSERT INTO wrd_setting_links (setting, handle, kind)
			VALUES ` + placeholders(len(batch), linkWidth, 0) + `
			ON CONFLICT (setting) DO UPDATE SET handle = EXCLUDED.handle, kind = EXCLUDED.kind
		`
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to write links: %w", err)
		}
	}
	return nil
}

// Delete removes the link rows of the given settings
func (r *PostgresLinkRepository) Delete(ctx context.Context, settingIDs []int64) error {
	if len(settingIDs) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wrd_setting_links WHERE setting = ANY($1)`, pq.Array(settingIDs)); err != nil {
		return fmt.Errorf("failed to delete links: %w", err)
	}
	return nil
}
