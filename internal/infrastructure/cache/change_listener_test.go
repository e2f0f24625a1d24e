package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/repositories/postgres"
)

type recordingCaches struct {
	mu          sync.Mutex
	invalidated []string
	forgotten   []string
}

func (r *recordingCaches) Invalidate(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, tag)
}

func (r *recordingCaches) ForgetSchema(_ context.Context, schema string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, schema)
	return 1, nil
}

func notification(payload string) *pq.Notification {
	return &pq.Notification{Channel: postgres.ChangeChannel, Extra: payload}
}

func TestChangeListener_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("updates keep the caches", func(t *testing.T) {
		rec := &recordingCaches{}
		l := NewChangeListener(rec, rec, nil)
		l.handle(ctx, notification(`{"schema":"shop","updated":{"3":[1]},"at":"2024-03-01T09:00:00Z"}`))
		assert.Empty(t, rec.invalidated)
		assert.Empty(t, rec.forgotten)
	})

	t.Run("deletes purge references", func(t *testing.T) {
		rec := &recordingCaches{}
		l := NewChangeListener(rec, rec, nil)
		l.handle(ctx, notification(`{"schema":"shop","deleted":{"3":[1]},"at":"2024-03-01T09:00:00Z"}`))
		assert.Equal(t, []string{"shop"}, rec.forgotten)
		assert.Empty(t, rec.invalidated)
	})

	t.Run("truncated payloads purge references", func(t *testing.T) {
		rec := &recordingCaches{}
		l := NewChangeListener(rec, rec, nil)
		l.handle(ctx, notification(`{"schema":"shop","types":[3],"at":"2024-03-01T09:00:00Z"}`))
		assert.Equal(t, []string{"shop"}, rec.forgotten)
	})

	t.Run("schema changes rebuild the schema", func(t *testing.T) {
		rec := &recordingCaches{}
		l := NewChangeListener(rec, rec, nil)
		l.handle(ctx, notification(`{"schema":"shop","schemaChanged":true,"at":"2024-03-01T09:00:00Z"}`))
		assert.Equal(t, []string{"shop"}, rec.invalidated)
	})

	t.Run("reconnect resynchronizes known schemas", func(t *testing.T) {
		rec := &recordingCaches{}
		l := NewChangeListener(rec, rec, nil, "crm")
		l.handle(ctx, notification(`{"schema":"shop","updated":{"3":[1]},"at":"2024-03-01T09:00:00Z"}`))
		l.handle(ctx, nil)
		assert.Equal(t, []string{""}, rec.invalidated)
		assert.ElementsMatch(t, []string{"crm", "shop"}, rec.forgotten)
	})

	t.Run("foreign channels and bad payloads are ignored", func(t *testing.T) {
		rec := &recordingCaches{}
		l := NewChangeListener(rec, rec, nil)
		l.handle(ctx, &pq.Notification{Channel: "other", Extra: "{}"})
		l.handle(ctx, notification("not json"))
		assert.Empty(t, rec.invalidated)
		assert.Empty(t, rec.forgotten)
	})
}

func TestChangeListener_RunAndStop(t *testing.T) {
	rec := &recordingCaches{}
	l := NewChangeListener(rec, rec, nil)
	notify := make(chan *pq.Notification)
	go l.run(notify, func() error { return nil })

	notify <- notification(`{"schema":"shop","deleted":{"3":[1]},"at":"2024-03-01T09:00:00Z"}`)
	// unbuffered: the second send only completes once the first was handled
	notify <- notification(`{"schema":"shop","updated":{"3":[2]},"at":"2024-03-01T09:00:00Z"}`)

	require.NoError(t, l.Stop())
	<-l.done
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"shop"}, rec.forgotten)
}
