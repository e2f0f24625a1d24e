// Package cache keeps in-process caches consistent with changes committed by
// other instances, using PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/repositories/postgres"
)

// SchemaInvalidator drops built schemas; an empty tag drops all of them
type SchemaInvalidator interface {
	Invalidate(tag string)
}

// ReferenceForgetter drops the cached id/guid pairs of a schema
type ReferenceForgetter interface {
	ForgetSchema(ctx context.Context, schema string) (int, error)
}

// pingInterval keeps an idle listener connection alive
const pingInterval = 90 * time.Second

// ChangeListener applies change notifications to the local caches. Schema
// changes rebuild the schema; deletions purge the reference cache since a
// deleted entity may still be cached under its id or guid.
type ChangeListener struct {
	schemas SchemaInvalidator
	refs    ReferenceForgetter
	logger  *zap.Logger

	mu       sync.Mutex
	known    mapset.Set[string]
	listener *pq.Listener
	stopCh   chan struct{}
	done     chan struct{}
	stopped  bool
}

// NewChangeListener creates a listener. schemas lists the tags whose
// references are purged after a reconnect, when notifications may have been
// missed.
func NewChangeListener(schemas SchemaInvalidator, refs ReferenceForgetter, logger *zap.Logger, known ...string) *ChangeListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeListener{
		schemas: schemas,
		refs:    refs,
		logger:  logger,
		known:   mapset.NewSet(known...),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start consumes notifications of l until Stop is called. l must already
// listen on postgres.ChangeChannel.
func (c *ChangeListener) Start(l *pq.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
	go c.run(l.Notify, l.Ping)
}

// Stop ends the listener and closes its connection
func (c *ChangeListener) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	l := c.listener
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	<-c.done
	return l.Close()
}

// Report is the pq event callback; it logs connection problems
func (c *ChangeListener) Report(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		c.logger.Warn("change listener connection problem", zap.Error(err))
	case pq.ListenerEventReconnected:
		c.logger.Info("change listener reconnected")
	}
}

func (c *ChangeListener) run(notify <-chan *pq.Notification, ping func() error) {
	defer close(c.done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			c.handle(context.Background(), n)
		case <-ticker.C:
			go func() {
				if err := ping(); err != nil {
					c.logger.Warn("change listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// handle applies one notification. A nil notification follows a reconnect.
func (c *ChangeListener) handle(ctx context.Context, n *pq.Notification) {
	if n == nil {
		c.logger.Info("change listener resynchronizing")
		c.schemas.Invalidate("")
		for _, tag := range c.known.ToSlice() {
			c.forget(ctx, tag)
		}
		return
	}
	if n.Channel != postgres.ChangeChannel {
		return
	}
	note, truncated, err := postgres.DecodeNotification(n.Extra)
	if err != nil {
		c.logger.Warn("ignoring malformed change notification", zap.Error(err))
		return
	}
	c.known.Add(note.Schema)
	if note.SchemaChanged {
		c.schemas.Invalidate(note.Schema)
	}
	if truncated || len(note.Deleted) > 0 {
		c.forget(ctx, note.Schema)
	}
	c.logger.Debug("change notification applied",
		zap.String("schema", note.Schema),
		zap.Int("created", len(note.Created)),
		zap.Int("updated", len(note.Updated)),
		zap.Int("deleted", len(note.Deleted)),
		zap.Bool("truncated", truncated))
}

func (c *ChangeListener) forget(ctx context.Context, schema string) {
	if c.refs == nil {
		return
	}
	n, err := c.refs.ForgetSchema(ctx, schema)
	if err != nil {
		c.logger.Warn("failed to purge reference cache", zap.String("schema", schema), zap.Error(err))
		return
	}
	c.logger.Debug("reference cache purged", zap.String("schema", schema), zap.Int("entries", n))
}
