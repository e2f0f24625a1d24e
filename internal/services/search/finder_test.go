package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories/memory"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
	"github.com/WebHare/platform-sub003/internal/services/updater"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

const schemaYAML = `
tag: crm
types:
  - tag: contact
    attributes:
      - {tag: name, type: free}
      - {tag: email, type: email}
      - {tag: level, type: enum, allowedvalues: [bronze, silver, gold]}
      - {tag: notes, type: free}
      - {tag: visits, type: integer}
      - tag: tags
        type: array
        attributes:
          - {tag: label, type: free}
`

var long = strings.Repeat("abc", 2000)

var contacts = []map[string]any{
	{"name": "Alice", "email": "alice@example.com", "level": "gold", "visits": int64(3)},
	{"name": "alice", "email": "ALICE2@example.com", "level": "silver", "visits": int64(10)},
	{"name": "Bob", "email": "bob@example.com", "notes": long, "visits": int64(0)},
	{"name": "Bo*b", "level": "bronze", "notes": long + "x", "tags": []map[string]any{{"label": "vip"}}},
	{"name": ""},
}

type fixture struct {
	store  *memory.Store
	schema *entities.Schema
	reader *updater.Reader
	finder *Finder
	ids    []int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	def, err := schemacache.ParseDefinition([]byte(schemaYAML), "test")
	require.NoError(t, err)
	schema, err := schemacache.Build(def)
	require.NoError(t, err)

	cfg := updater.Config{Blobs: memory.NewBlobStore(), External: memory.NewExternalStore()}
	u := updater.New(cfg)
	f := &fixture{store: memory.NewStore(), schema: schema, reader: updater.NewReader(cfg)}
	f.finder = NewFinder(nil, f.reader, nil)

	ctx := context.Background()
	w := f.unit(t)
	for _, c := range contacts {
		id, err := u.Update(ctx, w, "contact", c, 0, updater.Options{})
		require.NoError(t, err)
		f.ids = append(f.ids, id)
	}
	require.NoError(t, w.Commit(ctx))
	return f
}

func (f *fixture) unit(t *testing.T) *work.Unit {
	t.Helper()
	w, err := work.Begin(context.Background(), f.store, f.schema, work.Options{
		Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return w
}

// scan evaluates a condition by decoding every entity
func (f *fixture) scan(t *testing.T, w *work.Unit, c accessor.Condition) []int64 {
	t.Helper()
	typ := f.schema.TypeByTag("contact")
	a, err := accessor.NewRegistry().For(f.schema, f.schema.TopLevel(typ, c.Field))
	require.NoError(t, err)
	var out []int64
	for _, id := range f.ids {
		values, err := f.reader.Get(context.Background(), w, "contact", id, []string{c.Field})
		require.NoError(t, err)
		if a.MatchesValue(values[c.Field], c) {
			out = append(out, id)
		}
	}
	return out
}

func TestFind_PushdownEquivalence(t *testing.T) {
	f := setup(t)
	w := f.unit(t)
	defer func() { _ = w.Rollback() }()

	conds := []accessor.Condition{
		{Field: "name", Match: accessor.MatchEqual, Value: "Alice"},
		{Field: "name", Match: accessor.MatchEqual, Value: "alice", IgnoreCase: true},
		{Field: "name", Match: accessor.MatchEqual, Value: ""},
		{Field: "name", Match: accessor.MatchNotEqual, Value: "Bob"},
		{Field: "name", Match: accessor.MatchLike, Value: "A*"},
		{Field: "name", Match: accessor.MatchLike, Value: "Bo?b"},
		{Field: "name", Match: accessor.MatchIn, Value: []any{"Bob", "Alice"}},
		{Field: "email", Match: accessor.MatchEqual, Value: "Alice@Example.com"},
		{Field: "level", Match: accessor.MatchEqual, Value: ""},
		{Field: "level", Match: accessor.MatchIn, Value: []any{"gold", "bronze"}},
		{Field: "notes", Match: accessor.MatchEqual, Value: long},
		{Field: "notes", Match: accessor.MatchGreater, Value: "abc"},
		{Field: "visits", Match: accessor.MatchGreaterEqual, Value: int64(3)},
		{Field: "visits", Match: accessor.MatchEqual, Value: int64(0)},
		{Field: "tags", Match: accessor.MatchNotEqual, Value: nil},
	}
	for _, c := range conds {
		want := f.scan(t, w, c)
		got, err := f.finder.Find(context.Background(), w, "contact", []accessor.Condition{c}, 0)
		require.NoError(t, err, "%+v", c)
		assert.Equal(t, want, got, "%s %s %v", c.Field, c.Match, c.Value)
	}
}

func TestFind_CombinedAndLimit(t *testing.T) {
	f := setup(t)
	w := f.unit(t)
	defer func() { _ = w.Rollback() }()
	ctx := context.Background()

	got, err := f.finder.Find(ctx, w, "contact", []accessor.Condition{
		{Field: "name", Match: accessor.MatchEqual, Value: "alice", IgnoreCase: true},
		{Field: "level", Match: accessor.MatchEqual, Value: "silver"},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ids[1]}, got)

	got, err = f.finder.Find(ctx, w, "contact", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, f.ids[:2], got)

	got, err = f.finder.Find(ctx, w, "contact", []accessor.Condition{
		{Field: "notes", Match: accessor.MatchLike, Value: "abc*"},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ids[2]}, got)
}

func TestFind_Errors(t *testing.T) {
	f := setup(t)
	w := f.unit(t)
	defer func() { _ = w.Rollback() }()
	ctx := context.Background()

	_, err := f.finder.Find(ctx, w, "nosuch", nil, 0)
	assert.ErrorIs(t, err, entities.ErrUnknownType)

	_, err = f.finder.Find(ctx, w, "contact", []accessor.Condition{{Field: "nmae", Match: accessor.MatchEqual, Value: "x"}}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "name"`)

	_, err = f.finder.Find(ctx, w, "contact", []accessor.Condition{{Field: "visits", Match: accessor.MatchLike, Value: "1*"}}, 0)
	assert.ErrorIs(t, err, accessor.ErrUnsupportedFilter)
}
