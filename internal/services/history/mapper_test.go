package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
)

const schemaYAML = `
tag: shop
types:
  - tag: country
    kind: domain
  - tag: customer
    keephistorydays: 30
    attributes:
      - {id: 1, tag: name, type: free}
      - {id: 2, tag: country, type: domain, domain: country}
      - id: 3
        tag: addresses
        type: array
        attributes:
          - {id: 4, tag: street, type: free}
  - tag: order
    kind: link
    left: customer
    right: country
`

type fakeLookup struct {
	guids map[int64]uuid.UUID
	asked []int64
	err   error
}

func (f *fakeLookup) GUIDs(_ context.Context, ids []int64) (map[int64]uuid.UUID, error) {
	f.asked = append(f.asked, ids...)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]uuid.UUID)
	for _, id := range ids {
		if g, ok := f.guids[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

func testSchema(t *testing.T) *entities.Schema {
	t.Helper()
	def, err := schemacache.ParseDefinition([]byte(schemaYAML), "test")
	require.NoError(t, err)
	schema, err := schemacache.Build(def)
	require.NoError(t, err)
	return schema
}

var (
	nl       = uuid.MustParse("11111111-1111-4111-8111-111111111111")
	customer = uuid.MustParse("22222222-2222-4222-8222-222222222222")
)

func TestRemap(t *testing.T) {
	schema := testSchema(t)
	lookup := &fakeLookup{guids: map[int64]uuid.UUID{50: nl}}
	m := NewMapper(schema, lookup)

	long := strings.Repeat("x", InlineLimit+1)
	blob := &entities.BlobRef{Key: "k", Hash: "h", Size: 9000}
	change := &entities.Change{
		Changeset: 3,
		Entity:    7,
		Type:      schema.TypeByTag("customer").ID,
		GUID:      customer,
		Before: entities.Snapshot{
			Settings: []entities.SettingRow{{ID: 100, Attribute: 1, RawData: "old"}},
		},
		After: entities.Snapshot{
			Entity: map[string]any{entities.ColumnTag: "C7"},
			Settings: []entities.SettingRow{
				{ID: 100, Attribute: 1, RawData: long},
				{ID: 101, Attribute: 2, Setting: 50},
				{ID: 102, Attribute: 3, Ordering: 1},
				{ID: 103, Attribute: 4, Blob: blob, ParentSetting: 102},
				{ID: 104, Attribute: 2, Setting: 99},
			},
		},
		Touched: []int64{4, 1, 2},
	}

	out, err := m.Remap(context.Background(), change)
	require.NoError(t, err)

	assert.Equal(t, "customer", out.TypeTag)
	assert.Equal(t, customer, out.EntityGUID)
	assert.Equal(t, []int64{50, 99}, lookup.asked)
	assert.Equal(t, []string{"addresses.street", "country", "name"}, out.Touched)

	require.Len(t, out.Before.Settings, 1)
	assert.Equal(t, "old", out.Before.Settings[0].RawData)
	assert.Empty(t, out.Before.Settings[0].Attachment)

	after := out.After.Settings
	require.Len(t, after, 5)
	assert.Equal(t, "name", after[0].Attribute)
	assert.Empty(t, after[0].RawData)
	assert.Equal(t, "after/100", after[0].Attachment)

	assert.Equal(t, nl.String(), after[1].Reference)
	assert.Zero(t, after[1].Setting)
	assert.Equal(t, "addresses.street", after[3].Attribute)
	assert.Equal(t, "after/103", after[3].Attachment)
	assert.Equal(t, int64(99), after[4].Setting, "unresolvable ids stay numeric")

	require.Len(t, out.Attachments, 2)
	assert.Equal(t, []byte(long), out.Attachments[0].Data)
	assert.Same(t, blob, out.Attachments[1].Blob)
}

func TestRemap_EntityReferences(t *testing.T) {
	schema := testSchema(t)
	m := NewMapper(schema, &fakeLookup{guids: map[int64]uuid.UUID{7: customer, 50: nl}})

	out, err := m.Remap(context.Background(), &entities.Change{
		Type: schema.TypeByTag("order").ID,
		After: entities.Snapshot{Entity: map[string]any{
			entities.ColumnLeftEntity:  int64(7),
			entities.ColumnRightEntity: int64(50),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, customer.String(), out.After.Entity[entities.ColumnLeftEntity])
	assert.Equal(t, nl.String(), out.After.Entity[entities.ColumnRightEntity])
	assert.Nil(t, out.Before.Entity)
}

func TestRemap_Errors(t *testing.T) {
	schema := testSchema(t)

	_, err := NewMapper(schema, &fakeLookup{}).Remap(context.Background(), &entities.Change{Type: 999})
	assert.ErrorIs(t, err, entities.ErrUnknownType)

	boom := errors.New("boom")
	_, err = NewMapper(schema, &fakeLookup{err: boom}).Remap(context.Background(), &entities.Change{Type: schema.TypeByTag("customer").ID})
	assert.ErrorIs(t, err, boom)
}
