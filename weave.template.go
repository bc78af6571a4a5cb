package weave

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/itsatony/go-cuserr"
	"github.com/nikolalohinski/gonja/v2/exec"
	"go.uber.org/zap"
)

// Template is a compiled generation template. A Template is immutable after
// construction and safe for concurrent Render calls.
type Template struct {
	name          string
	source        string
	backend       Backend
	defaultFilter string
	sites         map[int][]FilterSpec
	compiled      *exec.Template
	logger        *zap.Logger
	maxConcurrent int
}

// New compiles source into a Template bound to the given backend. All gen()
// call sites and their filter pipelines are validated at construction; a
// malformed pipeline or unknown filter fails here, not at render time.
func New(source string, backend Backend, opts ...Option) (*Template, error) {
	if backend == nil {
		return nil, cuserr.NewValidationError(ErrCodeRender, ErrMsgNilBackend).
			WithMetadata(MetaKeyClass, errClassRender)
	}

	cfg := defaultTemplateConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.defaultFilter != "" && !HasFilter(cfg.defaultFilter) {
		return nil, NewUnknownFilterError(cfg.defaultFilter)
	}

	transformed, sites, err := extractGenSites(source)
	if err != nil {
		return nil, err
	}

	compiled, err := compileSource(cfg.name, transformed)
	if err != nil {
		return nil, NewParseError(ErrMsgParseFailed, 0, err)
	}

	return &Template{
		name:          cfg.name,
		source:        source,
		backend:       backend,
		defaultFilter: cfg.defaultFilter,
		sites:         sites,
		compiled:      compiled,
		logger:        cfg.logger,
		maxConcurrent: cfg.maxConcurrent,
	}, nil
}

// MustNew is like New but panics on error. Intended for templates defined as
// package-level constants.
func MustNew(source string, backend Backend, opts ...Option) *Template {
	t, err := New(source, backend, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFile reads a template from path and compiles it. When no default filter
// option is given, the filter is inferred from the file name via
// DetectDefaultFilter.
func FromFile(path string, backend Backend, opts ...Option) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cuserr.NewInternalError(ErrMsgReadTemplateFile, err).
			WithMetadata(MetaKeyClass, errClassRender).
			WithMetadata(MetaKeyPath, path)
	}

	cfg := defaultTemplateConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	withDefaults := make([]Option, 0, len(opts)+2)
	if cfg.name == "template" {
		withDefaults = append(withDefaults, WithName(filepath.Base(path)))
	}
	if cfg.defaultFilter == "" {
		if inferred := DetectDefaultFilter(path); inferred != "" {
			withDefaults = append(withDefaults, WithDefaultFilter(inferred))
		}
	}
	withDefaults = append(withDefaults, opts...)

	return New(string(data), backend, withDefaults...)
}

// DetectDefaultFilter infers a default filter from a template file name, for
// example "report.json.weave" yields "json". Returns "" when the name carries
// no recognizable format hint.
func DetectDefaultFilter(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, TemplateFileExt)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	switch ext {
	case "json":
		return FilterJSON
	case "html", "htm":
		return FilterHTML
	case "xml":
		return FilterXML
	case "yaml", "yml":
		return FilterYAML
	}
	return ""
}

// Name returns the template's name.
func (t *Template) Name() string { return t.name }

// Source returns the original template source.
func (t *Template) Source() string { return t.source }

// DefaultFilter returns the default filter name, or "" when none is set.
func (t *Template) DefaultFilter() string { return t.defaultFilter }

// Render evaluates the template with vars, dispatches all collected
// generation calls to the backend concurrently, and substitutes the results
// into the output. Either every generation call succeeds and the full output
// is returned, or an error describing all failed calls is returned.
func (t *Template) Render(ctx context.Context, vars map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewRenderError(ErrMsgRenderFailed, err)
	}

	state := newRenderState(t, vars)

	data := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		data[k] = v
	}
	data[GenFunctionName] = state.genFunction()

	skeleton, err := t.compiled.ExecuteToString(exec.NewContext(data))
	if state.genErr != nil {
		// A gen() failure surfaces through the host engine as a generic
		// evaluation error; report the underlying cause instead.
		return "", state.genErr
	}
	if err != nil {
		return "", NewRenderError(ErrMsgRenderFailed, err)
	}

	if len(state.pending) == 0 {
		return skeleton, nil
	}

	t.logger.Debug("dispatching generation calls",
		zap.String("template", t.name),
		zap.Int("calls", len(state.pending)))

	results := dispatchBatch(ctx, t.backend, state.pending, t.maxConcurrent, t.logger)

	return assemble(skeleton, state.pending, results, t.defaultFilter)
}
