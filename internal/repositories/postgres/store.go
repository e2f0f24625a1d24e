package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// DefaultMaxParams is the bind parameter ceiling of a single PostgreSQL statement
const DefaultMaxParams = 65535

// querier is the part of *sql.DB and *sql.Tx the repositories use
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// HistoryFactory opens the history repository inside a transaction so that
// change records commit together with the rows they describe
type HistoryFactory func(tx *sql.Tx) repositories.HistoryRepository

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db        *sql.DB
	maxParams int
	history   HistoryFactory
}

// NewPostgresStore creates a new PostgreSQL store. maxParams bounds the bind
// parameters of bulk statements; 0 selects DefaultMaxParams.
func NewPostgresStore(db *sql.DB, maxParams int) *PostgresStore {
	if maxParams <= 0 || maxParams > DefaultMaxParams {
		maxParams = DefaultMaxParams
	}
	return &PostgresStore{db: db, maxParams: maxParams}
}

// WithHistory sets the history repository factory
func (s *PostgresStore) WithHistory(f HistoryFactory) *PostgresStore {
	s.history = f
	return s
}

// Begin opens a transaction
func (s *PostgresStore) Begin(ctx context.Context) (repositories.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	ptx := &PostgresTx{tx: tx, maxParams: s.maxParams}
	if s.history != nil {
		ptx.history = s.history(tx)
	}
	return ptx, nil
}

// PostgresTx scopes the repositories to one transaction
type PostgresTx struct {
	tx        *sql.Tx
	maxParams int
	history   repositories.HistoryRepository
}

// SQL exposes the underlying transaction
func (t *PostgresTx) SQL() *sql.Tx {
	return t.tx
}

func (t *PostgresTx) Entities() repositories.EntityRepository {
	return &PostgresEntityRepository{db: t.tx}
}

func (t *PostgresTx) Settings() repositories.SettingRepository {
	return &PostgresSettingRepository{db: t.tx, maxParams: t.maxParams}
}

func (t *PostgresTx) Links() repositories.LinkRepository {
	return &PostgresLinkRepository{db: t.tx, maxParams: t.maxParams}
}

func (t *PostgresTx) History() repositories.HistoryRepository {
	if t.history == nil {
		return noHistory{}
	}
	return t.history
}

func (t *PostgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *PostgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// chunkSize returns how many rows of width columns fit in one statement
func chunkSize(maxParams, width int) int {
	n := maxParams / width
	if n < 1 {
		n = 1
	}
	return n
}

// placeholders renders "($1, $2), ($3, $4)" for rows of width columns
func placeholders(rows, width, offset int) string {
	buf := make([]byte, 0, rows*width*5)
	n := offset
	for r := 0; r < rows; r++ {
		if r > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, '(')
		for c := 0; c < width; c++ {
			if c > 0 {
				buf = append(buf, ", "...)
			}
			n++
			buf = append(buf, fmt.Sprintf("$%d", n)...)
		}
		buf = append(buf, ')')
	}
	return string(buf)
}

// ErrNoHistory is returned when changes are recorded without a history store
var ErrNoHistory = errors.New("wrd: no history store configured")

type noHistory struct{}

func (noHistory) CreateChangeset(context.Context, *entities.Changeset) error {
	return ErrNoHistory
}

func (noHistory) AppendChange(context.Context, *entities.PortableChange) error {
	return ErrNoHistory
}

func (noHistory) ListChanges(context.Context, uuid.UUID) ([]*entities.PortableChange, error) {
	return nil, ErrNoHistory
}
