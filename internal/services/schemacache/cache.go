// Package schemacache keeps built schema graphs in memory. Schemas are built
// once from their definition and rebuilt after invalidation.
package schemacache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// Provider supplies schema definitions
type Provider interface {
	// Load retrieves the definition of a schema, returning entities.ErrUnknownSchema
	// when the provider does not know the tag
	Load(ctx context.Context, tag string) (*Definition, error)
}

// Cache holds built schemas by tag
type Cache struct {
	provider Provider
	logger   *zap.Logger

	mu      sync.RWMutex
	schemas map[string]*entities.Schema
	builds  singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger used for rebuild and invalidation messages
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache on top of a definition provider
func New(provider Provider, opts ...Option) *Cache {
	c := &Cache{
		provider: provider,
		logger:   zap.NewNop(),
		schemas:  make(map[string]*entities.Schema),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the schema with the given tag, building it on first use
func (c *Cache) Get(ctx context.Context, tag string) (*entities.Schema, error) {
	c.mu.RLock()
	schema, ok := c.schemas[tag]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	v, err, _ := c.builds.Do(tag, func() (any, error) {
		def, err := c.provider.Load(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", tag, err)
		}
		built, err := Build(def)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.schemas[tag] = built
		c.mu.Unlock()
		c.logger.Info("schema built",
			zap.String("schema", tag),
			zap.Int("types", len(built.Types)),
			zap.Int("attributes", len(built.Attributes)))
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entities.Schema), nil
}

// Invalidate drops a built schema so that the next Get rebuilds it. An empty
// tag drops every schema.
func (c *Cache) Invalidate(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag == "" {
		c.schemas = make(map[string]*entities.Schema)
	} else {
		delete(c.schemas, tag)
	}
	c.logger.Info("schema invalidated", zap.String("schema", tag))
}

// Put installs an already built schema
func (c *Cache) Put(schema *entities.Schema) {
	c.mu.Lock()
	c.schemas[schema.Tag] = schema
	c.mu.Unlock()
}
