// Package handlers exposes entity reads, writes and searches over HTTP. Every
// request runs in its own unit of work.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/search"
	"github.com/WebHare/platform-sub003/internal/services/updater"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

var errBadRequest = errors.New("bad request")

// SchemaSource returns built schemas by tag
type SchemaSource interface {
	Get(ctx context.Context, tag string) (*entities.Schema, error)
}

// EntityHandler handles the entity HTTP API
type EntityHandler struct {
	schemas  SchemaSource
	store    repositories.Store
	updater  *updater.Updater
	finder   *search.Finder
	notifier repositories.Notifier
	logger   *zap.Logger
}

// NewEntityHandler creates a new EntityHandler
func NewEntityHandler(
	schemas SchemaSource,
	store repositories.Store,
	upd *updater.Updater,
	finder *search.Finder,
	notifier repositories.Notifier,
	logger *zap.Logger,
) *EntityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityHandler{
		schemas:  schemas,
		store:    store,
		updater:  upd,
		finder:   finder,
		notifier: notifier,
		logger:   logger,
	}
}

// Routes mounts the entity API on r
func (h *EntityHandler) Routes(r chi.Router) {
	r.Route("/schemas/{schema}/types/{type}", func(r chi.Router) {
		r.Post("/entities", h.Create)
		r.Post("/search", h.Search)
		r.Get("/entities/{id}", h.Get)
		r.Patch("/entities/{id}", h.Update)
		r.Delete("/entities/{id}", h.Delete)
	})
}

// begin opens a unit of work on the schema named in the route
func (h *EntityHandler) begin(r *http.Request) (*work.Unit, error) {
	ctx := r.Context()
	schema, err := h.schemas.Get(ctx, chi.URLParam(r, "schema"))
	if err != nil {
		return nil, err
	}
	return work.Begin(ctx, h.store, schema, work.Options{
		Source:   "http",
		Notifier: h.notifier,
		Logger:   h.logger,
	})
}

func entityID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid entity id %q", errBadRequest, raw)
	}
	return id, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return v, nil
}

// fieldsParam splits ?fields=a,b; no parameter means every field
func fieldsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("fields")
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Create handles POST /schemas/{schema}/types/{type}/entities. The body holds
// the wire values of the fields to set.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var opts updater.Options
	var err error
	if opts.Temporary, err = boolParam(r, "temporary"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if opts.ImportMode, err = boolParam(r, "import"); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.write(w, r, 0, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondID(w, http.StatusCreated, id)
}

// Update handles PATCH /schemas/{schema}/types/{type}/entities/{id}
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var opts updater.Options
	if opts.ImportMode, err = boolParam(r, "import"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.write(w, r, id, opts); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondID(w, http.StatusOK, id)
}

func (h *EntityHandler) write(w http.ResponseWriter, r *http.Request, id int64, opts updater.Options) (int64, error) {
	wire, err := decodeStruct(w, r)
	if err != nil {
		return 0, err
	}
	ctx := r.Context()
	unit, err := h.begin(r)
	if err != nil {
		return 0, err
	}
	defer func() { _ = unit.Rollback() }()

	typeTag := chi.URLParam(r, "type")
	fields, err := h.updater.ImportFields(ctx, unit, typeTag, wire)
	if err != nil {
		return 0, err
	}
	id, err = h.updater.Update(ctx, unit, typeTag, fields, id, opts)
	if err != nil {
		return 0, err
	}
	if err := unit.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (h *EntityHandler) respondID(w http.ResponseWriter, status int, id int64) {
	if err := writeStruct(w, status, map[string]any{"id": id}); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

// Get handles GET /schemas/{schema}/types/{type}/entities/{id}?fields=a,b
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	unit, err := h.begin(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer func() { _ = unit.Rollback() }()

	values, err := h.updater.Export(r.Context(), unit, chi.URLParam(r, "type"), id, fieldsParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := writeStruct(w, http.StatusOK, values); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /schemas/{schema}/types/{type}/entities/{id}
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	unit, err := h.begin(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer func() { _ = unit.Rollback() }()

	if err := h.updater.Delete(ctx, unit, chi.URLParam(r, "type"), []int64{id}); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := unit.Commit(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /schemas/{schema}/types/{type}/search. The body is
//
//	{"conditions": [{"field": "email", "match": "=", "value": "a@b.c", "ignoreCase": true}],
//	 "limit": 10, "fields": ["email"]}
//
// Without fields only the matching ids are returned.
func (h *EntityHandler) Search(w http.ResponseWriter, r *http.Request) {
	body, err := decodeStruct(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := parseSearch(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	unit, err := h.begin(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer func() { _ = unit.Rollback() }()

	typeTag := chi.URLParam(r, "type")
	conds, err := h.importConditions(ctx, unit, typeTag, req.conditions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids, err := h.finder.Find(ctx, unit, typeTag, conds, req.limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]any{"ids": ids}
	if req.fields != nil {
		list := make([]any, 0, len(ids))
		for _, id := range ids {
			values, err := h.updater.Export(ctx, unit, typeTag, id, req.fields)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			values["wrd_id"] = id
			list = append(list, values)
		}
		resp["entities"] = list
	}
	if err := writeStruct(w, http.StatusOK, resp); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

type wireCondition struct {
	field      string
	match      accessor.Match
	value      any
	ignoreCase bool
}

type searchRequest struct {
	conditions []wireCondition
	limit      int
	fields     []string
}

func parseSearch(body map[string]any) (*searchRequest, error) {
	req := &searchRequest{}
	if v, ok := body["limit"]; ok {
		n, ok := v.(float64)
		if !ok || n < 0 || n != float64(int(n)) {
			return nil, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
		}
		req.limit = int(n)
	}
	if v, ok := body["fields"]; ok {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: fields must be a list", errBadRequest)
		}
		req.fields = make([]string, 0, len(list))
		for _, f := range list {
			s, ok := f.(string)
			if !ok {
				return nil, fmt.Errorf("%w: fields must be strings", errBadRequest)
			}
			req.fields = append(req.fields, s)
		}
	}
	raw, _ := body["conditions"].([]any)
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: condition %d must be an object", errBadRequest, i)
		}
		c := wireCondition{value: m["value"]}
		c.field, _ = m["field"].(string)
		match, _ := m["match"].(string)
		c.match = accessor.Match(match)
		c.ignoreCase, _ = m["ignoreCase"].(bool)
		if c.field == "" || match == "" {
			return nil, fmt.Errorf("%w: condition %d needs a field and a match", errBadRequest, i)
		}
		req.conditions = append(req.conditions, c)
	}
	return req, nil
}

// importConditions converts condition values from wire to internal form. List
// matches import each element on its own.
func (h *EntityHandler) importConditions(ctx context.Context, unit *work.Unit, typeTag string, wire []wireCondition) ([]accessor.Condition, error) {
	conds := make([]accessor.Condition, 0, len(wire))
	for _, c := range wire {
		cond := accessor.Condition{Field: c.field, Match: c.match, IgnoreCase: c.ignoreCase}
		switch c.match {
		case accessor.MatchIn, accessor.MatchMentionsAny:
			list, ok := c.value.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s on %s needs a list", errBadRequest, c.match, c.field)
			}
			values := make([]any, len(list))
			for i, v := range list {
				imported, err := h.importValue(ctx, unit, typeTag, c.field, v)
				if err != nil {
					return nil, err
				}
				values[i] = imported
			}
			cond.Value = values
		case accessor.MatchLike:
			cond.Value = c.value
		default:
			imported, err := h.importValue(ctx, unit, typeTag, c.field, c.value)
			if err != nil {
				return nil, err
			}
			cond.Value = imported
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func (h *EntityHandler) importValue(ctx context.Context, unit *work.Unit, typeTag, field string, v any) (any, error) {
	values, err := h.updater.ImportFields(ctx, unit, typeTag, map[string]any{field: v})
	if err != nil {
		return nil, err
	}
	return values[field], nil
}
