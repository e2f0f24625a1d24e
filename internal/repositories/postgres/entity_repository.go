package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
)

const entitySelect = `
		SELECT id, type, guid, tag, creationdate, limitdate, modificationdate,
			leftentity, rightentity, initials, firstname, firstnames, infix, lastname,
			titles, titles_suffix, gender, dateofbirth, dateofdeath, ordering
		FROM wrd_entities`

// PostgresEntityRepository implements EntityRepository using PostgreSQL
type PostgresEntityRepository struct {
	db querier
}

// NewPostgresEntityRepository creates a new PostgreSQL entity repository
func NewPostgresEntityRepository(db querier) *PostgresEntityRepository {
	return &PostgresEntityRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*entities.Entity, error) {
	var e entities.Entity
	var guid []byte
	var left, right sql.NullInt64
	err := row.Scan(&e.ID, &e.Type, &guid, &e.Tag, &e.CreationDate, &e.LimitDate, &e.ModificationDate,
		&left, &right, &e.Initials, &e.FirstName, &e.FirstNames, &e.Infix, &e.LastName,
		&e.Titles, &e.TitlesSuffix, &e.Gender, &e.DateOfBirth, &e.DateOfDeath, &e.Ordering)
	if err != nil {
		return nil, err
	}
	if e.GUID, err = entities.GUIDFromBytes(guid); err != nil {
		return nil, err
	}
	e.LeftEntity = left.Int64
	e.RightEntity = right.Int64
	for _, t := range []*time.Time{&e.CreationDate, &e.LimitDate, &e.ModificationDate, &e.DateOfBirth, &e.DateOfDeath} {
		*t = t.UTC()
	}
	return &e, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// Get retrieves an entity by id
func (r *PostgresEntityRepository) Get(ctx context.Context, id int64) (*entities.Entity, error) {
	e, err := scanEntity(r.db.QueryRowContext(ctx, entitySelect+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", entities.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// Exists reports whether an entity id is in use
func (r *PostgresEntityRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wrd_entities WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check entity: %w", err)
	}
	return exists, nil
}

// FindByGUID retrieves an entity by guid
func (r *PostgresEntityRepository) FindByGUID(ctx context.Context, guid uuid.UUID) (*entities.Entity, error) {
	e, err := scanEntity(r.db.QueryRowContext(ctx, entitySelect+` WHERE guid = $1`, entities.GUIDBytes(guid)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: guid %s", entities.ErrNotFound, guid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entity by guid: %w", err)
	}
	return e, nil
}

// FindByTag retrieves the entity with the lowest id holding tag among typeIDs.
// Tags compare case-insensitively.
func (r *PostgresEntityRepository) FindByTag(ctx context.Context, typeIDs []int64, tag string) (*entities.Entity, error) {
	q := entitySelect + ` WHERE type = ANY($1) AND tag <> '' AND UPPER(tag) = UPPER($2) ORDER BY id LIMIT 1`
	e, err := scanEntity(r.db.QueryRowContext(ctx, q, pq.Array(typeIDs), tag))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tag %q", entities.ErrNotFound, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entity by tag: %w", err)
	}
	return e, nil
}

// GUIDs maps entity ids onto their guids; unknown ids are left out
func (r *PostgresEntityRepository) GUIDs(ctx context.Context, ids []int64) (map[int64]uuid.UUID, error) {
	out := make(map[int64]uuid.UUID, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, guid FROM wrd_entities WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to read guids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan guid: %w", err)
		}
		guid, err := entities.GUIDFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", id, err)
		}
		out[id] = guid
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guids: %w", err)
	}
	return out, nil
}

// TypesOf maps entity ids onto their type ids; unknown ids are left out
func (r *PostgresEntityRepository) TypesOf(ctx context.Context, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, type FROM wrd_entities WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to read entity types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, typ int64
		if err := rows.Scan(&id, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan entity type: %w", err)
		}
		out[id] = typ
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity types: %w", err)
	}
	return out, nil
}

// Upsert writes the entity row
func (r *PostgresEntityRepository) Upsert(ctx context.Context, e *entities.Entity) error {
	q := `
		INSERT INTO wrd_entities (
			id, type, guid, tag, creationdate, limitdate, modificationdate,
			leftentity, rightentity, initials, firstname, firstnames, infix, lastname,
			titles, titles_suffix, gender, dateofbirth, dateofdeath, ordering
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, guid = EXCLUDED.guid, tag = EXCLUDED.tag,
			creationdate = EXCLUDED.creationdate, limitdate = EXCLUDED.limitdate,
			modificationdate = EXCLUDED.modificationdate,
			leftentity = EXCLUDED.leftentity, rightentity = EXCLUDED.rightentity,
			initials = EXCLUDED.initials, firstname = EXCLUDED.firstname,
			firstnames = EXCLUDED.firstnames, infix = EXCLUDED.infix, lastname = EXCLUDED.lastname,
			titles = EXCLUDED.titles, titles_suffix = EXCLUDED.titles_suffix,
			gender = EXCLUDED.gender, dateofbirth = EXCLUDED.dateofbirth,
			dateofdeath = EXCLUDED.dateofdeath, ordering = EXCLUDED.ordering
	`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Type, entities.GUIDBytes(e.GUID), e.Tag, e.CreationDate, e.LimitDate, e.ModificationDate,
		nullID(e.LeftEntity), nullID(e.RightEntity), e.Initials, e.FirstName, e.FirstNames, e.Infix, e.LastName,
		e.Titles, e.TitlesSuffix, e.Gender, e.DateOfBirth, e.DateOfDeath, e.Ordering,
	)
	if err != nil {
		return fmt.Errorf("failed to write entity: %w", err)
	}
	return nil
}

// Delete removes entities; their settings go with them
func (r *PostgresEntityRepository) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wrd_entities WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete entities: %w", err)
	}
	return nil
}

// NextID draws a fresh entity id
func (r *PostgresEntityRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('wrd_entities_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate entity id: %w", err)
	}
	return id, nil
}

// Search returns the ids of entities of the given types matching pred in id
// order. A limit of 0 or less returns every match.
func (r *PostgresEntityRepository) Search(ctx context.Context, typeIDs []int64, pred query.Predicate, limit int) ([]int64, error) {
	c := newCompiler()
	types := c.bind(pq.Array(typeIDs))
	where, err := c.predicate(pred)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(`SELECT e.id FROM wrd_entities e WHERE e.type = ANY(`)
	sb.WriteString(types)
	sb.WriteString(`) AND `)
	sb.WriteString(where)
	sb.WriteString(` ORDER BY e.id`)
	if limit > 0 {
		sb.WriteString(` LIMIT `)
		sb.WriteString(c.bind(limit))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return ids, nil
}
