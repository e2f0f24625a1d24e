package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories/memory"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
	"github.com/WebHare/platform-sub003/internal/services/search"
	"github.com/WebHare/platform-sub003/internal/services/updater"
)

const crmYAML = `
tag: crm
types:
  - tag: contact
    attributes:
      - {tag: name, type: free, required: true}
      - {tag: email, type: email, unique: true}
      - {tag: score, type: integer}
      - tag: phones
        type: array
        attributes:
          - {tag: number, type: free}
`

type staticSchemas map[string]*entities.Schema

func (s staticSchemas) Get(_ context.Context, tag string) (*entities.Schema, error) {
	if schema, ok := s[tag]; ok {
		return schema, nil
	}
	return nil, fmt.Errorf("%w: %s", entities.ErrUnknownSchema, tag)
}

type apiFixture struct {
	t        *testing.T
	router   chi.Router
	notifier *memory.Notifier
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	def, err := schemacache.ParseDefinition([]byte(crmYAML), "test")
	require.NoError(t, err)
	schema, err := schemacache.Build(def)
	require.NoError(t, err)

	registry := accessor.NewRegistry()
	upd := updater.New(updater.Config{
		Registry: registry,
		Blobs:    memory.NewBlobStore(),
		External: memory.NewExternalStore(),
	})
	notifier := &memory.Notifier{}
	h := NewEntityHandler(
		staticSchemas{"crm": schema},
		memory.NewStore(),
		upd,
		search.NewFinder(registry, upd.Reader, nil),
		notifier,
		nil,
	)
	r := chi.NewRouter()
	h.Routes(r)
	return &apiFixture{t: t, router: r, notifier: notifier}
}

func (f *apiFixture) do(method, path, body string) (int, map[string]any) {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (f *apiFixture) create(body string) int64 {
	f.t.Helper()
	code, out := f.do(http.MethodPost, "/schemas/crm/types/contact/entities", body)
	require.Equal(f.t, http.StatusCreated, code, out)
	return int64(out["id"].(float64))
}

func TestEntityHandler_CreateGetUpdate(t *testing.T) {
	f := newAPIFixture(t)
	id := f.create(`{"name": "Ada", "email": "ada@example.com", "score": 7, "phones": [{"number": "555-1"}]}`)
	assert.Positive(t, id)

	path := fmt.Sprintf("/schemas/crm/types/contact/entities/%d", id)
	code, out := f.do(http.MethodGet, path+"?fields=name,score,phones", "")
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, float64(7), out["score"])
	phones := out["phones"].([]any)
	require.Len(t, phones, 1)
	assert.Equal(t, "555-1", phones[0].(map[string]any)["number"])
	assert.NotContains(t, out, "email")

	code, out = f.do(http.MethodPatch, path, `{"score": 9}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(id), out["id"])

	_, out = f.do(http.MethodGet, path+"?fields=name,score", "")
	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, float64(9), out["score"])

	sent := f.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "crm", sent[0].Schema)
}

func TestEntityHandler_Errors(t *testing.T) {
	f := newAPIFixture(t)
	f.create(`{"name": "Ada", "email": "ada@example.com"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"validation", http.MethodPost, "/schemas/crm/types/contact/entities", `{"email": "ada@example.com"}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"bad json", http.MethodPost, "/schemas/crm/types/contact/entities", `[1]`, http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/schemas/crm/types/contact/entities", `{"name": "x", "nmae": "y"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown schema", http.MethodGet, "/schemas/nope/types/contact/entities/1", "", http.StatusNotFound, "not_found"},
		{"unknown type", http.MethodGet, "/schemas/crm/types/nope/entities/1", "", http.StatusNotFound, "not_found"},
		{"missing entity", http.MethodGet, "/schemas/crm/types/contact/entities/999", "", http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/schemas/crm/types/contact/entities/abc", "", http.StatusBadRequest, "bad_request"},
		{"bad flag", http.MethodPost, "/schemas/crm/types/contact/entities?temporary=maybe", `{}`, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := f.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code, out)
			assert.Equal(t, tt.code, out["code"])
		})
	}

	t.Run("validation errors list every field", func(t *testing.T) {
		_, out := f.do(http.MethodPost, "/schemas/crm/types/contact/entities", `{"email": "ada@example.com"}`)
		errs := out["errors"].([]any)
		require.NotEmpty(t, errs)
		codes := make([]string, 0, len(errs))
		for _, e := range errs {
			codes = append(codes, e.(map[string]any)["code"].(string))
		}
		assert.Contains(t, codes, string(entities.CodeRequired))
	})
}

func TestEntityHandler_Search(t *testing.T) {
	f := newAPIFixture(t)
	ada := f.create(`{"name": "Ada", "score": 7}`)
	f.create(`{"name": "Bob", "score": 3}`)
	cy := f.create(`{"name": "Cy", "score": 12}`)

	code, out := f.do(http.MethodPost, "/schemas/crm/types/contact/search",
		`{"conditions": [{"field": "score", "match": ">=", "value": 5}], "fields": ["name"]}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, []any{float64(ada), float64(cy)}, out["ids"])
	list := out["entities"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "Ada", list[0].(map[string]any)["name"])

	_, out = f.do(http.MethodPost, "/schemas/crm/types/contact/search",
		`{"conditions": [{"field": "name", "match": "in", "value": ["ada", "cy"], "ignoreCase": true}], "limit": 1}`)
	assert.Equal(t, []any{float64(ada)}, out["ids"])
	assert.NotContains(t, out, "entities")

	code, out = f.do(http.MethodPost, "/schemas/crm/types/contact/search",
		`{"conditions": [{"field": "score"}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", out["code"])
}

func TestEntityHandler_Delete(t *testing.T) {
	f := newAPIFixture(t)
	id := f.create(`{"name": "Ada"}`)
	path := fmt.Sprintf("/schemas/crm/types/contact/entities/%d", id)

	code, _ := f.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = f.do(http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestToWire(t *testing.T) {
	in := map[string]any{
		"ids":   []int64{1, 2},
		"rows":  []map[string]any{{"n": int32(3)}},
		"empty": nil,
	}
	out := toWire(in).(map[string]any)
	assert.Equal(t, []any{float64(1), float64(2)}, out["ids"])
	assert.Equal(t, []any{map[string]any{"n": float64(3)}}, out["rows"])
	assert.Nil(t, out["empty"])
}
