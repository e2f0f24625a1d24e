package updater

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/internal/repositories/memory"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
	"github.com/WebHare/platform-sub003/internal/services/work"
	"github.com/WebHare/platform-sub003/pkg/cache/memorycache"
)

const shopYAML = `
tag: webshop
types:
  - tag: country
    kind: domain
  - tag: customer
    keephistorydays: 30
    attributes:
      - {tag: name, type: free, required: true}
      - {tag: email, type: email, unique: true}
      - {tag: level, type: enum, required: true, allowedvalues: [bronze, silver, gold]}
      - {tag: country, type: domain, domain: country, unique: true}
      - {tag: notes, type: free}
      - tag: tags
        type: array
        attributes:
          - {tag: name, type: free}
      - {tag: body, type: richdocument, checklinks: true}
`

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	t        *testing.T
	store    *memory.Store
	blobs    *memory.BlobStore
	external repositories.ExternalStore
	notifier *memory.Notifier
	schema   *entities.Schema
	updater  *Updater
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	def, err := schemacache.ParseDefinition([]byte(shopYAML), "test")
	require.NoError(t, err)
	schema, err := schemacache.Build(def)
	require.NoError(t, err)

	e := &testEnv{
		t:        t,
		store:    memory.NewStore(),
		blobs:    memory.NewBlobStore(),
		external: memory.NewExternalStore(),
		notifier: &memory.Notifier{},
		schema:   schema,
		now:      t0,
	}
	e.rebuild()
	return e
}

func (e *testEnv) rebuild() {
	c := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Minute})
	e.t.Cleanup(func() { _ = c.Close() })
	e.updater = New(Config{Blobs: e.blobs, External: e.external, Cache: c, History: true})
}

func (e *testEnv) unit() *work.Unit {
	e.t.Helper()
	w, err := work.Begin(context.Background(), e.store, e.schema, work.Options{
		Source:   "test",
		Notifier: e.notifier,
		Now:      func() time.Time { return e.now },
	})
	require.NoError(e.t, err)
	return w
}

// update runs one update in its own unit and commits it on success
func (e *testEnv) update(typeTag string, fields map[string]any, id int64, opts Options) (int64, error) {
	e.t.Helper()
	ctx := context.Background()
	w := e.unit()
	id, err := e.updater.Update(ctx, w, typeTag, fields, id, opts)
	if err != nil {
		_ = w.Rollback()
		return 0, err
	}
	return id, w.Commit(ctx)
}

func (e *testEnv) mustUpdate(typeTag string, fields map[string]any, id int64) int64 {
	e.t.Helper()
	id, err := e.update(typeTag, fields, id, Options{})
	require.NoError(e.t, err)
	return id
}

func (e *testEnv) get(typeTag string, id int64, fields ...string) map[string]any {
	e.t.Helper()
	w := e.unit()
	defer func() { _ = w.Rollback() }()
	values, err := e.updater.Get(context.Background(), w, typeTag, id, fields)
	require.NoError(e.t, err)
	return values
}

func (e *testEnv) rows(id int64) []entities.SettingRow {
	e.t.Helper()
	tx, err := e.store.Begin(context.Background())
	require.NoError(e.t, err)
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.Settings().Load(context.Background(), id, nil)
	require.NoError(e.t, err)
	return rows
}

func (e *testEnv) changes(id int64) []*entities.PortableChange {
	e.t.Helper()
	ctx := context.Background()
	tx, err := e.store.Begin(ctx)
	require.NoError(e.t, err)
	defer func() { _ = tx.Rollback() }()
	ent, err := tx.Entities().Get(ctx, id)
	require.NoError(e.t, err)
	changes, err := tx.History().ListChanges(ctx, ent.GUID)
	require.NoError(e.t, err)
	return changes
}

func validationCode(t *testing.T, err error) entities.ValidationCode {
	t.Helper()
	require.Error(t, err)
	verr, ok := entities.AsValidationError(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	return verr.Code
}

func customer(name string) map[string]any {
	return map[string]any{"name": name, "level": "bronze"}
}

func TestUpdate_Create(t *testing.T) {
	e := newTestEnv(t)
	id := e.mustUpdate("customer", map[string]any{
		"name":    "Alice",
		"level":   "gold",
		"email":   "Alice@Example.com",
		"wrd_tag": "ALICE",
	}, 0)
	assert.NotZero(t, id)

	got := e.get("customer", id, "name", "level", "email", "wrd_tag", "wrd_creationdate", "wrd_limitdate")
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, "gold", got["level"])
	assert.Equal(t, "Alice@Example.com", got["email"])
	assert.Equal(t, "ALICE", got["wrd_tag"])
	assert.True(t, t0.Equal(got["wrd_creationdate"].(time.Time)))
	assert.True(t, entities.IsMaxDateTime(got["wrd_limitdate"].(time.Time)), "no expiry keeps its sentinel")

	sent := e.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []int64{id}, sent[0].Created[e.schema.TypeByTag("customer").ID])
}

func TestUpdate_RequiredEmptyString(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.update("customer", customer(""), 0, Options{})
	assert.Equal(t, entities.CodeRequired, validationCode(t, err))

	_, err = e.update("customer", map[string]any{"name": "Bob"}, 0, Options{})
	assert.Equal(t, entities.CodeRequired, validationCode(t, err), "missing required enum")

	id, err := e.update("customer", customer(""), 0, Options{ImportMode: true})
	require.NoError(t, err)
	assert.NotZero(t, id)

	id, err = e.update("customer", customer(""), 0, Options{Temporary: true})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestUpdate_UnknownField(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.update("customer", map[string]any{"nmae": "x"}, 0, Options{})
	require.Error(t, err)
	assert.True(t, entities.IsInternalError(err))
	assert.Contains(t, err.Error(), `did you mean "name"`)

	_, err = e.update("nosuchtype", customer("x"), 0, Options{})
	assert.ErrorIs(t, err, entities.ErrUnknownType)
}

func TestUpdate_ArrayShift(t *testing.T) {
	e := newTestEnv(t)
	fields := customer("Carol")
	fields["tags"] = []map[string]any{{"name": "A"}, {"name": "B"}}
	id := e.mustUpdate("customer", fields, 0)

	before := e.get("customer", id, "tags")["tags"].([]map[string]any)
	require.Len(t, before, 2)
	idB := before[1][accessor.SettingIDField]

	e.mustUpdate("customer", map[string]any{
		"tags": []map[string]any{{"name": "B"}, {"name": "C"}},
	}, id)

	after := e.get("customer", id, "tags")["tags"].([]map[string]any)
	require.Len(t, after, 2)
	assert.Equal(t, "B", after[0]["name"])
	assert.Equal(t, "C", after[1]["name"])
	assert.Equal(t, idB, after[0][accessor.SettingIDField], "the element holding B keeps its row")

	tagsAttr := e.schema.TopLevel(e.schema.TypeByTag("customer"), "tags").ID
	var roots int
	for _, r := range e.rows(id) {
		if r.Attribute == tagsAttr {
			roots++
		}
	}
	assert.Equal(t, 2, roots)
}

func TestUpdate_UniqueDomainValue(t *testing.T) {
	e := newTestEnv(t)
	nl := e.mustUpdate("country", map[string]any{"wrd_tag": "NL"}, 0)

	fields := customer("Dave")
	fields["country"] = nl
	first := e.mustUpdate("customer", fields, 0)

	fields = customer("Eve")
	fields["country"] = nl
	_, err := e.update("customer", fields, 0, Options{})
	assert.Equal(t, entities.CodeNotUnique, validationCode(t, err))

	history := len(e.changes(first))
	notes := len(e.notifier.Sent())
	e.now = e.now.Add(time.Hour)
	again, err := e.update("customer", map[string]any{"country": nl, "name": "Dave"}, first, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, e.changes(first), history, "a no-op records no history")
	assert.Len(t, e.notifier.Sent(), notes, "a no-op sends no events")
}

func TestUpdate_UniquenessWindow(t *testing.T) {
	e := newTestEnv(t)
	fields := customer("Frank")
	fields["email"] = "frank@example.com"
	first := e.mustUpdate("customer", fields, 0)

	fields = customer("Frank II")
	fields["email"] = "FRANK@example.com"
	_, err := e.update("customer", fields, 0, Options{})
	assert.Equal(t, entities.CodeNotUnique, validationCode(t, err), "email keys ignore case")

	e.now = t0.Add(time.Hour)
	e.mustUpdate("customer", map[string]any{"wrd_limitdate": e.now}, first)

	e.now = t0.Add(2 * time.Hour)
	second, err := e.update("customer", fields, 0, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestUpdate_UniquenessWindow_FutureCreation(t *testing.T) {
	e := newTestEnv(t)
	fields := customer("Judy")
	fields["email"] = "dup@example.com"
	fields["wrd_creationdate"] = t0.Add(24 * time.Hour)
	e.mustUpdate("customer", fields, 0)

	fields = customer("Judy II")
	fields["email"] = "dup@example.com"
	_, err := e.update("customer", fields, 0, Options{})
	assert.Equal(t, entities.CodeNotUnique, validationCode(t, err), "an entity starting later still claims its value")

	e.now = t0.Add(48 * time.Hour)
	_, err = e.update("customer", fields, 0, Options{})
	assert.Equal(t, entities.CodeNotUnique, validationCode(t, err))
}

func TestUpdate_BlobOverflow(t *testing.T) {
	e := newTestEnv(t)
	long := strings.Repeat("0123456789", 500)
	fields := customer("Grace")
	fields["notes"] = long
	id := e.mustUpdate("customer", fields, 0)

	notesAttr := e.schema.TopLevel(e.schema.TypeByTag("customer"), "notes").ID
	var stored *entities.SettingRow
	for _, r := range e.rows(id) {
		if r.Attribute == notesAttr {
			stored = &r
		}
	}
	require.NotNil(t, stored)
	assert.Empty(t, stored.RawData)
	require.NotNil(t, stored.Blob)
	assert.Equal(t, int64(5000), stored.Blob.Size)
	assert.Equal(t, long, e.get("customer", id, "notes")["notes"])
}

func TestUpdate_ProvisionalComingAlive(t *testing.T) {
	e := newTestEnv(t)
	id, err := e.update("customer", map[string]any{"name": "Heidi"}, 0, Options{Temporary: true})
	require.NoError(t, err)

	got := e.get("customer", id, "wrd_creationdate", "wrd_limitdate")
	assert.True(t, entities.IsDefaultDateTime(got["wrd_creationdate"].(time.Time)))
	assert.True(t, t0.Add(entities.ProvisionalLifetime).Equal(got["wrd_limitdate"].(time.Time)))

	farFuture := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = e.update("customer", map[string]any{"wrd_limitdate": farFuture}, id, Options{})
	verr, ok := entities.AsValidationError(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	assert.Equal(t, entities.CodeRequired, verr.Code)
	assert.Equal(t, "level", verr.Path)

	e.mustUpdate("customer", map[string]any{"wrd_limitdate": farFuture, "level": "silver"}, id)
	got = e.get("customer", id, "wrd_creationdate")
	assert.True(t, t0.Equal(got["wrd_creationdate"].(time.Time)))
}

func TestUpdate_TemporaryRules(t *testing.T) {
	e := newTestEnv(t)
	fields := customer("Ivan")
	fields["wrd_limitdate"] = t0.Add(time.Hour)
	_, err := e.update("customer", fields, 0, Options{Temporary: true})
	assert.Equal(t, entities.CodeNotAllowed, validationCode(t, err))

	id := e.mustUpdate("customer", customer("Ivan"), 0)
	_, err = e.update("customer", customer("Ivan"), id, Options{Temporary: true})
	assert.Equal(t, entities.CodeNotAllowed, validationCode(t, err))
}

func TestUpdate_Invariants(t *testing.T) {
	e := newTestEnv(t)
	id := e.mustUpdate("customer", customer("Judy"), 0)
	guid := e.get("customer", id, "wrd_guid")["wrd_guid"]

	fields := customer("Judy II")
	fields["wrd_guid"] = guid
	_, err := e.update("customer", fields, 0, Options{})
	assert.Equal(t, entities.CodeNotUnique, validationCode(t, err))

	_, err = e.update("customer", map[string]any{"wrd_limitdate": t0.Add(-time.Hour)}, id, Options{})
	assert.Equal(t, entities.CodeInvalidDates, validationCode(t, err))

	root := e.mustUpdate("country", map[string]any{"wrd_guid": entities.RootSettingsGUID}, 0)
	_, err = e.update("country", map[string]any{"wrd_limitdate": t0.Add(time.Hour)}, root, Options{})
	assert.Equal(t, entities.CodeNotAllowed, validationCode(t, err))

	w := e.unit()
	err = e.updater.Delete(context.Background(), w, "country", []int64{root})
	_ = w.Rollback()
	assert.Equal(t, entities.CodeNotAllowed, validationCode(t, err))
}

func TestUpdate_CreateWithID(t *testing.T) {
	e := newTestEnv(t)
	id, err := e.update("customer", customer("Ken"), 500, Options{CreateWithID: true})
	require.NoError(t, err)
	assert.Equal(t, int64(500), id)

	_, err = e.update("customer", customer("Ken"), 500, Options{CreateWithID: true})
	assert.ErrorIs(t, err, entities.ErrIDInUse)
}

func TestUpdate_History(t *testing.T) {
	e := newTestEnv(t)
	id := e.mustUpdate("customer", customer("Laura"), 0)
	e.now = t0.Add(time.Minute)
	e.mustUpdate("customer", map[string]any{"name": "Laura B."}, id)

	changes := e.changes(id)
	require.Len(t, changes, 2)
	last := changes[1]
	assert.Equal(t, "customer", last.TypeTag)
	assert.Equal(t, []string{"name"}, last.Touched)
	require.Len(t, last.Before.Settings, 1)
	assert.Equal(t, "Laura", last.Before.Settings[0].RawData)
	require.Len(t, last.After.Settings, 1)
	assert.Equal(t, "Laura B.", last.After.Settings[0].RawData)
	assert.Equal(t, last.Before.Settings[0].ID, last.After.Settings[0].ID, "the changed value stays in its row")
	assert.True(t, e.now.Equal(last.When))
}

type vanishingStore struct {
	repositories.ExternalStore
}

func (vanishingStore) Exists(context.Context, string) (bool, error) { return false, nil }

func TestUpdate_LinkCheck(t *testing.T) {
	e := newTestEnv(t)
	e.external = vanishingStore{ExternalStore: memory.NewExternalStore()}
	e.rebuild()

	fields := customer("Mallory")
	fields["body"] = &entities.Document{ContentType: "text/html", Data: []byte("<p>hi</p>")}
	_, err := e.update("customer", fields, 0, Options{})
	assert.Equal(t, entities.CodeBadReference, validationCode(t, err))
}

func TestDelete(t *testing.T) {
	e := newTestEnv(t)
	fields := customer("Niaj")
	fields["email"] = "niaj@example.com"
	fields["tags"] = []map[string]any{{"name": "x"}}
	id := e.mustUpdate("customer", fields, 0)
	guid := e.get("customer", id, "wrd_guid")["wrd_guid"]

	ctx := context.Background()
	w := e.unit()
	require.NoError(t, e.updater.Delete(ctx, w, "customer", []int64{id}))
	require.NoError(t, w.Commit(ctx))

	assert.Empty(t, e.rows(id))
	w = e.unit()
	_, err := e.updater.Get(ctx, w, "customer", id, nil)
	assert.ErrorIs(t, err, entities.ErrNotFound)
	changes, err := w.Tx().History().ListChanges(ctx, guid.(uuid.UUID))
	_ = w.Rollback()
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	deletion := changes[len(changes)-1]
	assert.Nil(t, deletion.After.Entity)
	assert.NotEmpty(t, deletion.DeletedSettings)

	sent := e.notifier.Sent()
	assert.Equal(t, []int64{id}, sent[len(sent)-1].Deleted[e.schema.TypeByTag("customer").ID])

	fields["name"] = "Niaj II"
	_, err = e.update("customer", fields, 0, Options{})
	assert.NoError(t, err, "a deleted entity releases its unique keys")
}

func TestReader_ForgetSchema(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.mustUpdate("customer", customer("Olivia"), 0)
	guid := e.get("customer", id, "wrd_guid")["wrd_guid"].(uuid.UUID)

	w := e.unit()
	defer func() { _ = w.Rollback() }()
	res := e.updater.resolver(w)
	res.remember(ctx, id, e.schema.TypeByTag("customer").ID, guid)
	_ = e.updater.cache.Set(ctx, "wrd:guid:other:1", guid, time.Minute)

	n, err := e.updater.ForgetSchema(ctx, "webshop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, ok := e.updater.cache.Get(ctx, guidKey("webshop", id))
	assert.False(t, ok)
	_, ok = e.updater.cache.Get(ctx, "wrd:guid:other:1")
	assert.True(t, ok, "other schemas keep their entries")

	got, err := res.GUID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, guid, got)
}
