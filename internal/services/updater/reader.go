package updater

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

// fieldAccessors resolves the accessors of top-level fields of a type, failing
// with a suggestion for unknown names. No fields means every attribute.
func (r *Reader) fieldAccessors(schema *entities.Schema, typ *entities.Type, fields []string) ([]accessor.Accessor, error) {
	if len(fields) == 0 {
		for _, a := range schema.TopLevelAttributes(typ) {
			fields = append(fields, a.Tag)
		}
	}
	out := make([]accessor.Accessor, 0, len(fields))
	for _, tag := range fields {
		attr := schema.TopLevel(typ, tag)
		if attr == nil {
			return nil, accessor.UnknownField(tag, tag, attributeTags(schema, typ))
		}
		a, err := r.registry.For(schema, attr)
		if err != nil {
			return nil, fmt.Errorf("failed to get accessor for %s: %w", tag, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func attributeTags(schema *entities.Schema, typ *entities.Type) []string {
	attrs := schema.TopLevelAttributes(typ)
	tags := make([]string, 0, len(attrs))
	for _, a := range attrs {
		tags = append(tags, a.Tag)
	}
	return tags
}

// settingAttributes returns the ids of the setting-backed attributes, nested
// members included
func settingAttributes(schema *entities.Schema, accessors []accessor.Accessor) []int64 {
	var ids []int64
	for _, a := range accessors {
		if !a.Attribute().IsBase() {
			ids = append(ids, schema.Subtree(a.Attribute())...)
		}
	}
	slices.Sort(ids)
	return ids
}

// loadRecord reads an entity together with the rows of the given attributes
func loadRecord(ctx context.Context, w *work.Unit, ent *entities.Entity, attributes []int64) (*accessor.Record, error) {
	tx := w.Tx()
	var rows []entities.SettingRow
	var links []entities.LinkRow
	if len(attributes) > 0 {
		var err error
		rows, err = tx.Settings().Load(ctx, ent.ID, attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings of %d: %w", ent.ID, err)
		}
		ids := make([]int64, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		if len(ids) > 0 {
			if links, err = tx.Links().Load(ctx, ids); err != nil {
				return nil, fmt.Errorf("failed to load links of %d: %w", ent.ID, err)
			}
		}
	}
	return accessor.NewRecord(ent, rows, links), nil
}

// entityOfType loads an entity and checks that it is of typ or a subtype
func entityOfType(ctx context.Context, w *work.Unit, typ *entities.Type, id int64) (*entities.Entity, error) {
	ent, err := w.Tx().Entities().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %d: %w", id, err)
	}
	if !slices.Contains(w.Schema().TypeAndSubtypes(typ.ID), ent.Type) {
		return nil, fmt.Errorf("%w: entity %d is not a %s", entities.ErrNotFound, id, typ.Tag)
	}
	return ent, nil
}

func lookupType(schema *entities.Schema, tag string) (*entities.Type, error) {
	typ := schema.TypeByTag(tag)
	if typ == nil {
		return nil, fmt.Errorf("%w: %s in schema %s", entities.ErrUnknownType, tag, schema.Tag)
	}
	return typ, nil
}

// Get returns the internal values of the requested fields of an entity. No
// fields means every top-level attribute.
func (r *Reader) Get(ctx context.Context, w *work.Unit, typeTag string, id int64, fields []string) (map[string]any, error) {
	schema := w.Schema()
	typ, err := lookupType(schema, typeTag)
	if err != nil {
		return nil, err
	}
	accessors, err := r.fieldAccessors(schema, typ, fields)
	if err != nil {
		return nil, err
	}
	ent, err := entityOfType(ctx, w, typ, id)
	if err != nil {
		return nil, err
	}
	rec, err := loadRecord(ctx, w, ent, settingAttributes(schema, accessors))
	if err != nil {
		return nil, err
	}
	env := r.env(w)
	out := make(map[string]any, len(accessors))
	for _, a := range accessors {
		start, limit := rec.Range(a.Attribute().ID, 0)
		v, err := a.GetFromRecord(ctx, env, rec, start, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s of %d: %w", a.Attribute().Tag, id, err)
		}
		out[a.Attribute().Tag] = v
	}
	return out, nil
}

// Export returns the requested fields of an entity in wire form
func (r *Reader) Export(ctx context.Context, w *work.Unit, typeTag string, id int64, fields []string) (map[string]any, error) {
	values, err := r.Get(ctx, w, typeTag, id, fields)
	if err != nil {
		return nil, err
	}
	schema := w.Schema()
	typ := schema.TypeByTag(typeTag)
	env := r.env(w)
	out := make(map[string]any, len(values))
	for tag, v := range values {
		a, err := r.registry.For(schema, schema.TopLevel(typ, tag))
		if err != nil {
			return nil, err
		}
		if out[tag], err = a.ExportValue(ctx, env, v); err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", tag, err)
		}
	}
	return out, nil
}

// ImportFields converts wire values into internal values. Conversion failures
// are reported as validation errors on the field.
func (r *Reader) ImportFields(ctx context.Context, w *work.Unit, typeTag string, wire map[string]any) (map[string]any, error) {
	schema := w.Schema()
	typ, err := lookupType(schema, typeTag)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(wire))
	for tag := range wire {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	accessors, err := r.fieldAccessors(schema, typ, tags)
	if err != nil {
		return nil, err
	}
	env := r.env(w)
	out := make(map[string]any, len(wire))
	for _, a := range accessors {
		tag := a.Attribute().Tag
		v, err := a.ImportValue(ctx, env, wire[tag])
		if err != nil {
			if _, ok := entities.AsValidationError(err); ok || entities.IsInternalError(err) || errors.Is(err, errLookup) {
				return nil, err
			}
			if errors.Is(err, entities.ErrNotResolvable) {
				return nil, entities.NewValidationError(tag, entities.CodeBadReference, "%s: %v", tag, err)
			}
			return nil, entities.NewValidationError(tag, entities.CodeInvalidValue, "%s: %v", tag, err)
		}
		out[tag] = v
	}
	return out, nil
}
