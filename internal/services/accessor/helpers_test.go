package accessor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
)

const testSchemaYAML = `
tag: test
types:
  - tag: country
    kind: domain
  - tag: thing
    attributes:
      - {tag: free, type: free}
      - {tag: email, type: email, unique: true}
      - {tag: telephone, type: telephone}
      - {tag: url, type: url}
      - {tag: password, type: password}
      - {tag: status, type: enum, allowedvalues: [new, active, closed]}
      - {tag: labels, type: enumarray, allowedvalues: [red, green, blue, "50%_off"]}
      - {tag: flag, type: boolean}
      - {tag: count, type: integer}
      - {tag: big, type: integer64}
      - {tag: ratio, type: float}
      - {tag: price, type: money}
      - {tag: day, type: date}
      - {tag: moment, type: datetime}
      - {tag: opens, type: time}
      - {tag: country, type: domain, domain: country}
      - {tag: countries, type: domainarray, domain: country}
      - {tag: address, type: address}
      - {tag: data, type: json}
      - {tag: settings, type: record}
      - {tag: auth, type: authenticationsettings}
      - {tag: provider, type: paymentprovider}
      - {tag: payments, type: payment}
      - tag: lines
        type: array
        attributes:
          - {tag: name, type: free, required: true}
          - {tag: qty, type: integer}
          - tag: notes
            type: array
            attributes:
              - {tag: text, type: free}
      - {tag: photo, type: image}
      - {tag: attachment, type: file}
      - {tag: body, type: richdocument}
      - {tag: widget, type: instance}
      - {tag: fileref, type: whfsref}
      - {tag: link, type: intextlink}
      - {tag: title, type: free, required: true}
`

func testSchema(t *testing.T) *entities.Schema {
	t.Helper()
	return buildSchema(t, testSchemaYAML)
}

func buildSchema(t *testing.T, yaml string) *entities.Schema {
	t.Helper()
	def, err := schemacache.ParseDefinition([]byte(yaml), "test")
	require.NoError(t, err)
	schema, err := schemacache.Build(def)
	require.NoError(t, err)
	return schema
}

func accessorFor(t *testing.T, r *Registry, schema *entities.Schema, tag string) Accessor {
	t.Helper()
	typ := schema.TypeByTag("thing")
	attr := schema.TopLevel(typ, tag)
	require.NotNil(t, attr, tag)
	a, err := r.For(schema, attr)
	require.NoError(t, err)
	return a
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, data []byte) (*entities.BlobRef, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.data[hash] = append([]byte(nil), data...)
	return &entities.BlobRef{Key: hash, Hash: hash, Size: int64(len(data))}, nil
}

func (m *memBlobs) Get(_ context.Context, ref *entities.BlobRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[ref.Key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", ref.Key)
	}
	return data, nil
}

type memExternal struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemExternal() *memExternal {
	return &memExternal{data: make(map[string][]byte)}
}

func (m *memExternal) Put(_ context.Context, kind entities.LinkKind, payload []byte) (string, error) {
	sum := sha256.Sum256(append([]byte(kind+":"), payload...))
	handle := hex.EncodeToString(sum[:16])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[handle] = append([]byte(nil), payload...)
	return handle, nil
}

func (m *memExternal) Get(_ context.Context, handle string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[handle]
	if !ok {
		return nil, entities.ErrExternalAbsent
	}
	return data, nil
}

func (m *memExternal) Exists(_ context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[handle]
	return ok, nil
}

func (m *memExternal) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, handle)
	return nil
}

type fakeResolver struct {
	guids map[int64]uuid.UUID
	tags  map[string]int64
}

func (f *fakeResolver) Resolve(_ context.Context, _ int64, ref string) (int64, error) {
	if id, ok := f.tags[ref]; ok {
		return id, nil
	}
	if guid, err := uuid.Parse(ref); err == nil {
		for id, g := range f.guids {
			if g == guid {
				return id, nil
			}
		}
	}
	return 0, entities.ErrNotResolvable
}

func (f *fakeResolver) GUID(_ context.Context, id int64) (uuid.UUID, error) {
	if g, ok := f.guids[id]; ok {
		return g, nil
	}
	return uuid.Nil, entities.ErrNotFound
}

func testEnv(schema *entities.Schema) *Env {
	return &Env{
		Schema: schema,
		Resolver: &fakeResolver{
			guids: map[int64]uuid.UUID{
				11: uuid.MustParse("11111111-1111-4111-8111-111111111111"),
				12: uuid.MustParse("22222222-2222-4222-8222-222222222222"),
			},
			tags: map[string]int64{"NL": 11, "BE": 12},
		},
		Blobs:    newMemBlobs(),
		External: newMemExternal(),
	}
}

// persist runs the uploads of enc and turns its rows into stored rows with ids
// starting at firstID
func persist(t *testing.T, env *Env, enc *Encoded, entity, firstID int64) ([]entities.SettingRow, []entities.LinkRow) {
	t.Helper()
	g, ctx := errgroup.WithContext(context.Background())
	enc.Materialize(ctx, g, env.Blobs, env.External)
	require.NoError(t, g.Wait())

	rows := make([]entities.SettingRow, len(enc.Rows))
	var links []entities.LinkRow
	for i, er := range enc.Rows {
		row := er.Row
		row.ID = firstID + int64(i)
		row.Entity = entity
		if er.Parent >= 0 {
			row.ParentSetting = rows[er.Parent].ID
		}
		rows[i] = row
		if er.Link != nil {
			l := *er.Link
			l.Setting = row.ID
			links = append(links, l)
		}
	}
	return rows, links
}

// roundTrip encodes v, stores it and decodes it again
func roundTrip(t *testing.T, env *Env, a Accessor, v any) (any, []entities.SettingRow) {
	t.Helper()
	enc, err := a.EncodeValue(v)
	require.NoError(t, err)
	rows, links := persist(t, env, enc, 1, 100)
	rec := NewRecord(&entities.Entity{ID: 1}, rows, links)
	start, limit := rec.Range(a.Attribute().ID, 0)
	got, err := a.GetFromRecord(context.Background(), env, rec, start, limit)
	require.NoError(t, err)
	return got, rows
}
