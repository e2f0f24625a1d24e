// Package checker collects uniqueness and reference checks during validation
// and runs them as one batch.
package checker

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// Lookup is the storage access the batched checks need
type Lookup interface {
	FindUnique(ctx context.Context, attribute int64, keys []string, now time.Time) (map[string][]int64, error)
	TypesOf(ctx context.Context, ids []int64) (map[int64]int64, error)
}

type uniqueCheck struct {
	attribute *entities.Attribute
	key       string
	path      string
}

type referenceCheck struct {
	accepted []int64
	id       int64
	path     string
}

// Batch accumulates deferred checks for one entity update
type Batch struct {
	// Entity is the entity being updated, 0 while it has not been allocated
	Entity int64
	// SkipRequired suppresses required-ness checks (import mode, provisional entities)
	SkipRequired bool
	// Lenient suppresses format strictness (import mode)
	Lenient bool

	mu         sync.Mutex
	uniques    []uniqueCheck
	references []referenceCheck
}

// New creates a batch for an entity
func New(entity int64) *Batch {
	return &Batch{Entity: entity}
}

// AddUnique registers that key must not be held by another live entity
func (b *Batch) AddUnique(attr *entities.Attribute, key, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uniques = append(b.uniques, uniqueCheck{attribute: attr, key: key, path: path})
}

// AddReference registers that id must be an entity of one of the accepted types
func (b *Batch) AddReference(accepted []int64, id int64, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.references = append(b.references, referenceCheck{accepted: accepted, id: id, path: path})
}

// Pending returns the number of registered checks
func (b *Batch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uniques) + len(b.references)
}

// Run executes every registered check. Failures are returned together as a
// *multierror.Error of *entities.ValidationError values.
func (b *Batch) Run(ctx context.Context, lookup Lookup, now time.Time) error {
	b.mu.Lock()
	uniques := append([]uniqueCheck(nil), b.uniques...)
	references := append([]referenceCheck(nil), b.references...)
	b.mu.Unlock()

	var result *multierror.Error
	if err := b.runUnique(ctx, lookup, uniques, now, &result); err != nil {
		return err
	}
	if err := b.runReferences(ctx, lookup, references, &result); err != nil {
		return err
	}
	return result.ErrorOrNil()
}

func (b *Batch) runUnique(ctx context.Context, lookup Lookup, checks []uniqueCheck, now time.Time, result **multierror.Error) error {
	byAttr := make(map[int64][]uniqueCheck)
	var order []int64
	for _, c := range checks {
		if _, ok := byAttr[c.attribute.ID]; !ok {
			order = append(order, c.attribute.ID)
		}
		byAttr[c.attribute.ID] = append(byAttr[c.attribute.ID], c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, attrID := range order {
		group := byAttr[attrID]
		keys := make([]string, 0, len(group))
		seen := make(map[string]string, len(group))
		for _, c := range group {
			if first, dup := seen[c.key]; dup {
				*result = multierror.Append(*result, entities.NewValidationError(c.path, entities.CodeNotUnique,
					"value is also used by %s", first))
				continue
			}
			seen[c.key] = c.path
			keys = append(keys, c.key)
		}
		holders, err := lookup.FindUnique(ctx, attrID, keys, now)
		if err != nil {
			return fmt.Errorf("failed to check uniqueness of attribute %d: %w", attrID, err)
		}
		for _, c := range group {
			for _, holder := range holders[c.key] {
				if holder != b.Entity {
					*result = multierror.Append(*result, entities.NewValidationError(c.path, entities.CodeNotUnique,
						"value is already used by entity #%d", holder))
					break
				}
			}
		}
	}
	return nil
}

func (b *Batch) runReferences(ctx context.Context, lookup Lookup, checks []referenceCheck, result **multierror.Error) error {
	if len(checks) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(checks))
	for _, c := range checks {
		ids = append(ids, c.id)
	}
	types, err := lookup.TypesOf(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to check references: %w", err)
	}
	for _, c := range checks {
		typ, ok := types[c.id]
		if !ok {
			*result = multierror.Append(*result, entities.NewValidationError(c.path, entities.CodeBadReference,
				"entity #%d does not exist", c.id))
			continue
		}
		if !slices.Contains(c.accepted, typ) {
			*result = multierror.Append(*result, entities.NewValidationError(c.path, entities.CodeBadReference,
				"entity #%d is not of the expected type", c.id))
		}
	}
	return nil
}
