// Package memory implements the repositories in process memory. Transactions
// work on a private copy of the data that replaces the shared state on commit.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// ErrTxDone is returned when a finished transaction is used
var ErrTxDone = errors.New("memory: transaction already finished")

type state struct {
	entities   map[int64]*entities.Entity
	settings   map[int64]entities.SettingRow
	unique     map[int64]string
	links      map[int64]entities.LinkRow
	changesets map[int64]*entities.Changeset
	changes    []*entities.PortableChange
}

func newState() *state {
	return &state{
		entities:   make(map[int64]*entities.Entity),
		settings:   make(map[int64]entities.SettingRow),
		unique:     make(map[int64]string),
		links:      make(map[int64]entities.LinkRow),
		changesets: make(map[int64]*entities.Changeset),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, e := range s.entities {
		c.entities[id] = e.Clone()
	}
	for id, r := range s.settings {
		c.settings[id] = r
	}
	for id, k := range s.unique {
		c.unique[id] = k
	}
	for id, l := range s.links {
		c.links[id] = l
	}
	for id, cs := range s.changesets {
		c.changesets[id] = cs
	}
	c.changes = append(c.changes, s.changes...)
	return c
}

// Store is an in-memory entity store. The last transaction to commit wins.
type Store struct {
	mu        sync.Mutex
	committed *state
	sequences map[string]int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{committed: newState(), sequences: make(map[string]int64)}
}

// Begin opens a transaction on a snapshot of the committed data
func (s *Store) Begin(ctx context.Context) (repositories.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Tx{store: s, data: s.committed.clone()}, nil
}

// next draws n values from a named sequence; rolled back transactions do not
// return their values
func (s *Store) next(name string, n int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, n)
	for i := range out {
		s.sequences[name]++
		out[i] = s.sequences[name]
	}
	return out
}

// Seed sets the next value a sequence hands out to after
func (s *Store) Seed(name string, after int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[name] = after
}

// Tx is one transaction
type Tx struct {
	store *Store
	data  *state
	done  bool
}

func (t *Tx) Entities() repositories.EntityRepository  { return &entityRepository{tx: t} }
func (t *Tx) Settings() repositories.SettingRepository { return &settingRepository{tx: t} }
func (t *Tx) Links() repositories.LinkRepository       { return &linkRepository{tx: t} }
func (t *Tx) History() repositories.HistoryRepository  { return &historyRepository{tx: t} }

// Commit publishes the transaction's data
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.committed = t.data
	return nil
}

// Rollback discards the transaction's data
func (t *Tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return nil
}

func (t *Tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}
