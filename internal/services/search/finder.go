// Package search finds entities by attribute conditions.
package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/query"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/updater"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

// Finder translates conditions into storage predicates and re-verifies the
// candidates when a predicate over-approximates
type Finder struct {
	registry *accessor.Registry
	reader   *updater.Reader
	logger   *zap.Logger
}

// NewFinder creates a finder. The reader decodes candidates that need an
// after-check.
func NewFinder(registry *accessor.Registry, reader *updater.Reader, logger *zap.Logger) *Finder {
	if registry == nil {
		registry = accessor.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{registry: registry, reader: reader, logger: logger}
}

type compiled struct {
	acc        accessor.Accessor
	cond       accessor.Condition
	afterCheck bool
}

// Find returns the ids of the entities of typeTag (or a subtype) matching every
// condition, in ascending order. A limit of 0 or less returns all matches.
func (f *Finder) Find(ctx context.Context, w *work.Unit, typeTag string, conds []accessor.Condition, limit int) ([]int64, error) {
	schema := w.Schema()
	typ := schema.TypeByTag(typeTag)
	if typ == nil {
		return nil, fmt.Errorf("%w: %s in schema %s", entities.ErrUnknownType, typeTag, schema.Tag)
	}

	preds := make([]query.Predicate, 0, len(conds))
	var list []compiled
	needAfterCheck := false
	for _, c := range conds {
		attr := schema.TopLevel(typ, c.Field)
		if attr == nil {
			return nil, accessor.UnknownField(c.Field, c.Field, tagsOf(schema, typ))
		}
		acc, err := f.registry.For(schema, attr)
		if err != nil {
			return nil, err
		}
		if err := acc.CheckFilter(c); err != nil {
			return nil, err
		}
		pd, err := acc.AddToQuery(c)
		if err != nil {
			return nil, err
		}
		if pd == nil {
			return nil, nil
		}
		preds = append(preds, pd.Predicate)
		list = append(list, compiled{acc: acc, cond: c, afterCheck: pd.NeedAfterCheck})
		needAfterCheck = needAfterCheck || pd.NeedAfterCheck
	}

	storageLimit := limit
	if needAfterCheck {
		storageLimit = 0
	}
	ids, err := w.Tx().Entities().Search(ctx, schema.TypeAndSubtypes(typ.ID), query.AllOf(preds...), storageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", typeTag, err)
	}
	if !needAfterCheck {
		return ids, nil
	}

	var fields []string
	for _, c := range list {
		if c.afterCheck {
			fields = append(fields, c.cond.Field)
		}
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		values, err := f.reader.Get(ctx, w, typeTag, id, fields)
		if err != nil {
			return nil, fmt.Errorf("failed to read candidate %d: %w", id, err)
		}
		if matchesAll(list, values) {
			out = append(out, id)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	f.logger.Debug("search after-check",
		zap.String("type", typeTag),
		zap.Int("candidates", len(ids)),
		zap.Int("matches", len(out)))
	return out, nil
}

func matchesAll(list []compiled, values map[string]any) bool {
	for _, c := range list {
		if c.afterCheck && !c.acc.MatchesValue(values[c.cond.Field], c.cond) {
			return false
		}
	}
	return true
}

func tagsOf(schema *entities.Schema, typ *entities.Type) []string {
	var tags []string
	for _, a := range schema.TopLevelAttributes(typ) {
		tags = append(tags, a.Tag)
	}
	return tags
}
