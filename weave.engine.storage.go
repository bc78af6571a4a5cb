package weave

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// StorageEngine combines template storage with a generation backend. It
// provides a unified API for saving, loading and rendering templates by
// name, compiling each stored version at most once.
type StorageEngine struct {
	storage TemplateStorage
	backend Backend
	logger  *zap.Logger

	// Compiled template cache, keyed by name
	mu           sync.RWMutex
	compiled     map[string]*compiledCacheEntry
	cacheEnabled bool
}

// compiledCacheEntry caches a compiled template with the version it was
// built from.
type compiledCacheEntry struct {
	template *Template
	version  int
}

// StorageEngineConfig configures the StorageEngine.
type StorageEngineConfig struct {
	// Storage is the template storage backend (required).
	Storage TemplateStorage

	// Backend is the generation backend bound to every rendered template
	// (required).
	Backend Backend

	// Logger is used for render diagnostics. Defaults to no logging.
	Logger *zap.Logger

	// DisableCompiledCache disables caching of compiled templates.
	// By default templates are cached and only recompiled when their stored
	// version changes.
	DisableCompiledCache bool
}

// NewStorageEngine creates a new StorageEngine with the given configuration.
func NewStorageEngine(config StorageEngineConfig) (*StorageEngine, error) {
	if config.Storage == nil {
		return nil, &StorageError{Message: ErrMsgNilStorage}
	}
	if config.Backend == nil {
		return nil, &StorageError{Message: ErrMsgNilBackend}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StorageEngine{
		storage:      config.Storage,
		backend:      config.Backend,
		logger:       logger,
		compiled:     make(map[string]*compiledCacheEntry),
		cacheEnabled: !config.DisableCompiledCache,
	}, nil
}

// MustNewStorageEngine creates a new StorageEngine, panicking on error.
func MustNewStorageEngine(config StorageEngineConfig) *StorageEngine {
	se, err := NewStorageEngine(config)
	if err != nil {
		panic(err)
	}
	return se
}

// Render renders the latest version of a stored template by name.
func (se *StorageEngine) Render(ctx context.Context, templateName string, vars map[string]any) (string, error) {
	tmpl, err := se.loadAndCompile(ctx, templateName)
	if err != nil {
		return "", err
	}

	return tmpl.Render(ctx, vars)
}

// RenderVersion renders a specific version of a stored template.
func (se *StorageEngine) RenderVersion(ctx context.Context, templateName string, version int, vars map[string]any) (string, error) {
	// Specific versions bypass the cache
	stored, err := se.storage.GetVersion(ctx, templateName, version)
	if err != nil {
		return "", err
	}

	tmpl, err := se.compileStored(stored)
	if err != nil {
		return "", err
	}

	return tmpl.Render(ctx, vars)
}

// RenderJSON renders a stored template and unmarshals the output as JSON.
func (se *StorageEngine) RenderJSON(ctx context.Context, templateName string, vars map[string]any, target any) error {
	tmpl, err := se.loadAndCompile(ctx, templateName)
	if err != nil {
		return err
	}

	return tmpl.RenderJSON(ctx, vars, target)
}

// RenderYAML renders a stored template and unmarshals the output as YAML.
func (se *StorageEngine) RenderYAML(ctx context.Context, templateName string, vars map[string]any, target any) error {
	tmpl, err := se.loadAndCompile(ctx, templateName)
	if err != nil {
		return err
	}

	return tmpl.RenderYAML(ctx, vars, target)
}

// Save stores a new template or creates a new version. The source is
// compiled before saving so broken templates are rejected here rather than
// at render time.
func (se *StorageEngine) Save(ctx context.Context, tmpl *StoredTemplate) error {
	if _, err := se.compileStored(tmpl); err != nil {
		return err
	}

	if err := se.storage.Save(ctx, tmpl); err != nil {
		return err
	}

	se.invalidateCompiled(tmpl.Name)

	return nil
}

// SaveWithoutValidation stores a template without compiling it first.
// Use with caution - broken templates will fail at render time.
func (se *StorageEngine) SaveWithoutValidation(ctx context.Context, tmpl *StoredTemplate) error {
	if err := se.storage.Save(ctx, tmpl); err != nil {
		return err
	}

	se.invalidateCompiled(tmpl.Name)
	return nil
}

// Delete removes all versions of a template from storage.
func (se *StorageEngine) Delete(ctx context.Context, templateName string) error {
	if err := se.storage.Delete(ctx, templateName); err != nil {
		return err
	}

	se.invalidateCompiled(templateName)
	return nil
}

// DeleteVersion removes a specific version of a template.
func (se *StorageEngine) DeleteVersion(ctx context.Context, templateName string, version int) error {
	if err := se.storage.DeleteVersion(ctx, templateName, version); err != nil {
		return err
	}

	se.invalidateCompiled(templateName)
	return nil
}

// Get retrieves the latest version of a stored template.
func (se *StorageEngine) Get(ctx context.Context, templateName string) (*StoredTemplate, error) {
	return se.storage.Get(ctx, templateName)
}

// GetVersion retrieves a specific version of a stored template.
func (se *StorageEngine) GetVersion(ctx context.Context, templateName string, version int) (*StoredTemplate, error) {
	return se.storage.GetVersion(ctx, templateName, version)
}

// List returns templates matching the query.
func (se *StorageEngine) List(ctx context.Context, query *TemplateQuery) ([]*StoredTemplate, error) {
	return se.storage.List(ctx, query)
}

// Exists checks if a template exists in storage.
func (se *StorageEngine) Exists(ctx context.Context, templateName string) (bool, error) {
	return se.storage.Exists(ctx, templateName)
}

// ListVersions returns all version numbers for a template.
func (se *StorageEngine) ListVersions(ctx context.Context, templateName string) ([]int, error) {
	return se.storage.ListVersions(ctx, templateName)
}

// Storage returns the underlying storage backend.
func (se *StorageEngine) Storage() TemplateStorage {
	return se.storage
}

// Backend returns the generation backend.
func (se *StorageEngine) Backend() Backend {
	return se.backend
}

// Close closes the storage engine and underlying storage.
func (se *StorageEngine) Close() error {
	se.mu.Lock()
	se.compiled = nil
	se.mu.Unlock()

	return se.storage.Close()
}

// ClearCompiledCache clears the compiled template cache.
func (se *StorageEngine) ClearCompiledCache() {
	se.mu.Lock()
	se.compiled = make(map[string]*compiledCacheEntry)
	se.mu.Unlock()
}

// CompiledCacheStats returns statistics about the compiled template cache.
func (se *StorageEngine) CompiledCacheStats() CompiledCacheStats {
	se.mu.RLock()
	defer se.mu.RUnlock()

	return CompiledCacheStats{
		Entries: len(se.compiled),
		Enabled: se.cacheEnabled,
	}
}

// CompiledCacheStats contains compiled cache statistics.
type CompiledCacheStats struct {
	Entries int
	Enabled bool
}

// loadAndCompile loads a template from storage and compiles it, reusing the
// cached compilation when the stored version is unchanged.
func (se *StorageEngine) loadAndCompile(ctx context.Context, name string) (*Template, error) {
	stored, err := se.storage.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if se.cacheEnabled {
		se.mu.RLock()
		entry, ok := se.compiled[name]
		se.mu.RUnlock()

		if ok && entry.version == stored.Version {
			return entry.template, nil
		}
	}

	tmpl, err := se.compileStored(stored)
	if err != nil {
		return nil, err
	}

	if se.cacheEnabled {
		se.mu.Lock()
		se.compiled[name] = &compiledCacheEntry{
			template: tmpl,
			version:  stored.Version,
		}
		se.mu.Unlock()
	}

	return tmpl, nil
}

// compileStored builds a Template from a stored record. An empty stored
// DefaultFilter falls back to inference from the template name.
func (se *StorageEngine) compileStored(stored *StoredTemplate) (*Template, error) {
	opts := []Option{
		WithName(stored.Name),
		WithLogger(se.logger),
	}

	filter := stored.DefaultFilter
	if filter == "" {
		filter = DetectDefaultFilter(stored.Name)
	}
	if filter != "" {
		opts = append(opts, WithDefaultFilter(filter))
	}

	return New(stored.Source, se.backend, opts...)
}

// invalidateCompiled removes a template from the compiled cache.
func (se *StorageEngine) invalidateCompiled(name string) {
	se.mu.Lock()
	delete(se.compiled, name)
	se.mu.Unlock()
}

// Storage engine error messages
const (
	ErrMsgNilStorage = "storage is nil"
)
