// Package updater is the single entry point for writing entities: it validates
// and encodes supplied fields, reconciles setting rows, persists them inside a
// unit of work and records history.
package updater

import (
	"time"

	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/work"
	"github.com/WebHare/platform-sub003/pkg/cache"
)

// Options tweak one update call
type Options struct {
	// CreateWithID creates the entity under the id passed to Update
	CreateWithID bool
	// Temporary creates a provisional entity that expires unless it comes alive
	Temporary bool
	// ImportMode suppresses required-ness and format strictness
	ImportMode bool
	// Changeset appends the change to an existing changeset
	Changeset int64
	// Now overrides the clock of the unit of work
	Now time.Time
}

// Recorder receives update metrics
type Recorder interface {
	RecordUpdate(typeTag, outcome string, d time.Duration)
	RecordRows(upserts, deletes, unchanged int)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpdate(string, string, time.Duration) {}
func (nopRecorder) RecordRows(int, int, int)                   {}

// Config holds the collaborators of an Updater
type Config struct {
	Registry *accessor.Registry
	Blobs    repositories.BlobStore
	External repositories.ExternalStore
	// Cache holds id/guid pairs across transactions; optional
	Cache   cache.Cache
	Metrics Recorder
	Logger  *zap.Logger
	// History enables change recording for types that keep history
	History bool
}

// Reader decodes stored entities through their accessors
type Reader struct {
	registry *accessor.Registry
	blobs    repositories.BlobStore
	external repositories.ExternalStore
	cache    cache.Cache
}

// Updater writes entities
type Updater struct {
	*Reader
	metrics Recorder
	logger  *zap.Logger
	history bool
}

// NewReader creates a reader
func NewReader(cfg Config) *Reader {
	registry := cfg.Registry
	if registry == nil {
		registry = accessor.NewRegistry()
	}
	return &Reader{registry: registry, blobs: cfg.Blobs, external: cfg.External, cache: cfg.Cache}
}

// New creates an updater
func New(cfg Config) *Updater {
	u := &Updater{
		Reader:  NewReader(cfg),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		history: cfg.History,
	}
	if u.metrics == nil {
		u.metrics = nopRecorder{}
	}
	if u.logger == nil {
		u.logger = zap.NewNop()
	}
	return u
}

func (r *Reader) env(w *work.Unit) *accessor.Env {
	return &accessor.Env{
		Schema:   w.Schema(),
		Resolver: r.resolver(w),
		Blobs:    r.blobs,
		External: r.external,
	}
}

func (r *Reader) resolver(w *work.Unit) *resolver {
	return &resolver{entities: w.Tx().Entities(), schema: w.Schema(), cache: r.cache}
}
