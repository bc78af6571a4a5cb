package weave

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/loaders"
)

// hostFilterNames are the registry filters also exposed to the host engine
// for use on ordinary (non-generated) expressions. Names already provided by
// gonja builtins (upper, lower, truncate) are left to the builtins so host
// behavior for plain expressions stays unchanged.
var hostFilterNames = []string{
	FilterJSON, FilterHTML, FilterXML, FilterYAML, FilterRaw, FilterStrip,
}

// Host engine configuration and environment, built once at startup and
// treated as immutable afterwards.
var (
	gonjaConfig      *config.Config
	gonjaEnvironment *exec.Environment
)

func init() {
	gonjaConfig = &config.Config{
		BlockStartString:    "{%",
		BlockEndString:      "%}",
		VariableStartString: "{{",
		VariableEndString:   "}}",
		CommentStartString:  "{#",
		CommentEndString:    "#}",
		// Escaping is handled by the substitution phase, per target format.
		AutoEscape: false,
		// Undefined variables are hard errors.
		StrictUndefined: true,
	}

	customFilters := make(map[string]exec.FilterFunction, len(hostFilterNames))
	for _, name := range hostFilterNames {
		customFilters[name] = wrapHostFilter(name, builtinFilters[name])
	}

	gonjaEnvironment = &exec.Environment{
		Filters:           builtins.Filters.Update(exec.NewFilterSet(customFilters)),
		Tests:             builtins.Tests,
		ControlStructures: builtins.ControlStructures,
		Methods:           builtins.Methods,
		Context:           builtins.GlobalFunctions,
	}
}

// compileSource parses and compiles a template body through the host engine.
func compileSource(name string, source string) (*exec.Template, error) {
	loader := newSourceLoader(map[string]string{name: source})
	return exec.NewTemplate(name, gonjaConfig, loader, gonjaEnvironment)
}

// markerValuePattern matches a whole deferred-generation marker. Escaping
// filters must never run on a marker; they apply to the generated content
// during substitution.
var markerValuePattern = regexp.MustCompile(
	"^" + regexp.QuoteMeta(markerPrefix) + "[0-9a-f]{32}_[0-9]+" + regexp.QuoteMeta(markerSuffix) + "$",
)

// wrapHostFilter adapts a registry FilterFunc to the host engine's filter
// signature so it can be applied to ordinary template expressions. A marker
// reaching a host-level escaping filter means the filter would wrap the
// placeholder instead of the generated content, so that is a hard error
// rather than silently structure-breaking output.
func wrapHostFilter(name string, fn FilterFunc) exec.FilterFunction {
	return func(_ *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		if markerValuePattern.MatchString(in.String()) {
			return exec.AsValue(NewFilterError(name, ErrMsgFilterOnPending, nil))
		}

		var args []string
		if params != nil {
			for _, arg := range params.Args {
				args = append(args, arg.String())
			}
		}

		result, err := fn(in.String(), args...)
		if err != nil {
			return exec.AsValue(err)
		}
		return exec.AsValue(result)
	}
}

// sourceLoader is a flat in-memory template loader. Template names are used
// as-is, with no path prefixes or filesystem-style resolution.
type sourceLoader struct {
	sources map[string]string
}

func newSourceLoader(sources map[string]string) loaders.Loader {
	return &sourceLoader{sources: sources}
}

func (l *sourceLoader) Read(path string) (io.Reader, error) {
	content, exists := l.sources[path]
	if !exists {
		return nil, fmt.Errorf("template not found: %s", path)
	}
	return strings.NewReader(content), nil
}

func (l *sourceLoader) Resolve(path string) (string, error) {
	if _, exists := l.sources[path]; !exists {
		return "", fmt.Errorf("template not found: %s", path)
	}
	return path, nil
}

// Inherit returns the same loader; names form a flat namespace with no
// relative resolution.
func (l *sourceLoader) Inherit(string) (loaders.Loader, error) {
	return l, nil
}
