package schemacache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// maxDefinitionSize caps the size of a single definition file (1 MiB)
const maxDefinitionSize = 1 << 20

// ErrDefinitionTooLarge is returned for definition files above maxDefinitionSize
var ErrDefinitionTooLarge = errors.New("schema definition exceeds maximum allowed size (1 MiB)")

// YAMLProvider reads schema definitions from a YAML file or from every .yaml/.yml
// file in a directory
type YAMLProvider struct {
	path   string
	logger *zap.Logger
}

// NewYAMLProvider creates a provider for a file or directory
func NewYAMLProvider(path string, logger *zap.Logger) *YAMLProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YAMLProvider{path: filepath.Clean(path), logger: logger}
}

// Load implements Provider
func (p *YAMLProvider) Load(_ context.Context, tag string) (*Definition, error) {
	files, err := p.files()
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		def, err := readDefinition(file)
		if err != nil {
			return nil, err
		}
		if def.Tag == tag {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", entities.ErrUnknownSchema, tag)
}

// LoadAll reads every definition the provider can see
func (p *YAMLProvider) LoadAll() ([]*Definition, error) {
	files, err := p.files()
	if err != nil {
		return nil, err
	}
	defs := make([]*Definition, 0, len(files))
	for _, file := range files {
		def, err := readDefinition(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (p *YAMLProvider) files() ([]string, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat schema path %s: %w", p.path, err)
	}
	if !info.IsDir() {
		return []string{p.path}, nil
	}
	entries, err := os.ReadDir(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema directory %s: %w", p.path, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isDefinitionFile(e.Name()) {
			files = append(files, filepath.Join(p.path, e.Name()))
		}
	}
	return files, nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func readDefinition(file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema definition %s: %w", file, err)
	}
	if len(data) > maxDefinitionSize {
		return nil, fmt.Errorf("%s: %w", file, ErrDefinitionTooLarge)
	}
	return ParseDefinition(data, file)
}

// Watch invalidates schemas in cache whenever their definition file changes. It
// blocks until ctx is cancelled.
func (p *YAMLProvider) Watch(ctx context.Context, cache *Cache) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create schema watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so that editors replacing the file are noticed too
	dir := p.path
	if info, err := os.Stat(p.path); err == nil && !info.IsDir() {
		dir = filepath.Dir(p.path)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !p.relevant(event) {
				continue
			}
			tag := ""
			if def, err := readDefinition(event.Name); err == nil {
				tag = def.Tag
			}
			p.logger.Info("schema definition changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
				zap.String("schema", tag))
			cache.Invalidate(tag)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("schema watcher error", zap.Error(err))
		}
	}
}

func (p *YAMLProvider) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if info, err := os.Stat(p.path); err == nil && !info.IsDir() {
		return filepath.Clean(event.Name) == p.path
	}
	return isDefinitionFile(event.Name)
}
