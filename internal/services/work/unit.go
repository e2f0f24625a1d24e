// Package work provides the transaction-scoped unit of work that entity updates
// run in. It collects events and deferred checks and flushes them at commit.
package work

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// Hook runs inside the transaction right before it commits
type Hook func(ctx context.Context, u *Unit) error

// Options configures a unit of work
type Options struct {
	// Source is recorded on changesets opened by the unit
	Source   string
	Notifier repositories.Notifier
	Logger   *zap.Logger
	// Now overrides the clock
	Now func() time.Time
}

// Unit is one backend transaction plus everything that must happen when it
// commits. A unit is not meant for concurrent updates; the mutex only guards
// registrations made from helper goroutines.
type Unit struct {
	tx       repositories.Tx
	schema   *entities.Schema
	notifier repositories.Notifier
	logger   *zap.Logger
	now      func() time.Time
	source   string

	mu        sync.Mutex
	before    []Hook
	after     []func(ctx context.Context)
	keys      map[string]bool
	created   map[int64]mapset.Set[int64]
	updated   map[int64]mapset.Set[int64]
	deleted   map[int64]mapset.Set[int64]
	changeset *entities.Changeset
	finished  bool
}

// Begin opens a transaction on store for the given schema
func Begin(ctx context.Context, store repositories.Store, schema *entities.Schema, opts Options) (*Unit, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	u := &Unit{
		tx:       tx,
		schema:   schema,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
		source:   opts.Source,
		keys:     make(map[string]bool),
		created:  make(map[int64]mapset.Set[int64]),
		updated:  make(map[int64]mapset.Set[int64]),
		deleted:  make(map[int64]mapset.Set[int64]),
	}
	if u.logger == nil {
		u.logger = zap.NewNop()
	}
	if u.now == nil {
		u.now = time.Now
	}
	return u, nil
}

// Tx returns the transaction of the unit
func (u *Unit) Tx() repositories.Tx {
	return u.tx
}

// Schema returns the schema the unit works on
func (u *Unit) Schema() *entities.Schema {
	return u.schema
}

// Now returns the current time as seen by the unit
func (u *Unit) Now() time.Time {
	return u.now()
}

// Logger returns the unit's logger
func (u *Unit) Logger() *zap.Logger {
	return u.logger
}

// BeforeCommit registers a hook that runs inside the transaction at commit
func (u *Unit) BeforeCommit(h Hook) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.before = append(u.before, h)
}

// BeforeCommitOnce registers a hook under key unless one is registered already
func (u *Unit) BeforeCommitOnce(key string, h Hook) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.keys[key] {
		return
	}
	u.keys[key] = true
	u.before = append(u.before, h)
}

// AfterCommit registers a callback that runs once the transaction committed
func (u *Unit) AfterCommit(f func(ctx context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.after = append(u.after, f)
}

func record(m map[int64]mapset.Set[int64], typ, id int64) {
	set, ok := m[typ]
	if !ok {
		set = mapset.NewThreadUnsafeSet[int64]()
		m[typ] = set
	}
	set.Add(id)
}

// EntityCreated schedules a created event
func (u *Unit) EntityCreated(typ, id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	record(u.created, typ, id)
}

// EntityUpdated schedules an updated event. Entities created in this unit only
// get their created event.
func (u *Unit) EntityUpdated(typ, id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if set, ok := u.created[typ]; ok && set.Contains(id) {
		return
	}
	record(u.updated, typ, id)
}

// EntityDeleted schedules a deleted event and drops earlier events of the entity
func (u *Unit) EntityDeleted(typ, id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if set, ok := u.created[typ]; ok {
		set.Remove(id)
	}
	if set, ok := u.updated[typ]; ok {
		set.Remove(id)
	}
	record(u.deleted, typ, id)
}

// UseChangeset makes the unit append its changes to an existing changeset
func (u *Unit) UseChangeset(id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.changeset = &entities.Changeset{ID: id, Schema: u.schema.Tag, Source: u.source}
}

// Changeset returns the changeset of the unit, opening one on first use
func (u *Unit) Changeset(ctx context.Context) (*entities.Changeset, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.changeset != nil {
		return u.changeset, nil
	}
	cs := &entities.Changeset{Schema: u.schema.Tag, Source: u.source, CreatedAt: u.now()}
	if err := u.tx.History().CreateChangeset(ctx, cs); err != nil {
		return nil, fmt.Errorf("failed to create changeset: %w", err)
	}
	u.changeset = cs
	return cs, nil
}

// Commit runs the before-commit hooks, commits the transaction, then sends the
// notification and runs the after-commit callbacks. A failing hook rolls the
// transaction back.
func (u *Unit) Commit(ctx context.Context) error {
	if u.finished {
		return fmt.Errorf("unit of work already finished")
	}
	// hooks may register further hooks
	for i := 0; ; i++ {
		u.mu.Lock()
		if i >= len(u.before) {
			u.mu.Unlock()
			break
		}
		h := u.before[i]
		u.mu.Unlock()
		if err := h(ctx, u); err != nil {
			u.finished = true
			if rbErr := u.tx.Rollback(); rbErr != nil {
				u.logger.Warn("rollback after failed commit hook", zap.Error(rbErr))
			}
			return err
		}
	}
	u.finished = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	n := u.notification()
	if u.notifier != nil && !n.IsEmpty() {
		if err := u.notifier.Notify(ctx, n); err != nil {
			u.logger.Warn("failed to send entity notification",
				zap.String("schema", n.Schema), zap.Error(err))
		}
	}
	u.mu.Lock()
	after := slices.Clone(u.after)
	u.mu.Unlock()
	for _, f := range after {
		f(ctx)
	}
	return nil
}

// Rollback discards the transaction and every scheduled event. It is a no-op
// once the unit finished, so it can be deferred.
func (u *Unit) Rollback() error {
	if u.finished {
		return nil
	}
	u.finished = true
	if err := u.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// Pending returns the notification that a commit would send now
func (u *Unit) Pending() *repositories.Notification {
	return u.notification()
}

func (u *Unit) notification() *repositories.Notification {
	u.mu.Lock()
	defer u.mu.Unlock()
	return &repositories.Notification{
		Schema:  u.schema.Tag,
		Created: flatten(u.created),
		Updated: flatten(u.updated),
		Deleted: flatten(u.deleted),
		At:      u.now(),
	}
}

func flatten(m map[int64]mapset.Set[int64]) map[int64][]int64 {
	out := make(map[int64][]int64)
	for typ, set := range m {
		if set.Cardinality() == 0 {
			continue
		}
		ids := set.ToSlice()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out[typ] = ids
	}
	return out
}
