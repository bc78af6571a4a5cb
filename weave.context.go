package weave

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nikolalohinski/gonja/v2/exec"
)

// GenerationCall is one deferred generation unit collected during skeleton
// rendering. Each evaluation of a gen() expression yields its own call and
// marker, so a loop body evaluated N times contributes N independent calls.
type GenerationCall struct {
	// Marker is the opaque placeholder token standing in for this call's
	// content inside the skeleton. It is unique per call and erased by
	// final substitution.
	Marker string

	// Prompt is the fully interpolated prompt text.
	Prompt string

	// Params are the resolved per-call generation parameters.
	Params *GenerationParams

	// pipeline is the filter pipeline extracted from this call's source
	// site, if any.
	pipeline []FilterSpec

	// index is the call's position in the pending list, used for error
	// reporting.
	index int
}

// Request converts the call into a backend generation request.
func (c *GenerationCall) Request() *GenerationRequest {
	req := &GenerationRequest{Prompt: c.Prompt}
	if c.Params != nil {
		req.MaxTokens = c.Params.MaxTokens
		req.Temperature = c.Params.Temperature
		req.Stop = c.Params.Stop
	}
	return req
}

// renderState is the collection-phase state of a single render invocation.
// It is created fresh per render and never shared, which is what makes a
// Template safe for concurrent renders. The host engine evaluates a template
// on a single goroutine, so no locking is needed here.
type renderState struct {
	template *Template
	vars     map[string]any

	// nonce is a per-render random component of every marker; it guarantees
	// markers cannot collide with template literals or with markers of
	// concurrent renders.
	nonce string

	pending []*GenerationCall
	genErr  error
}

func newRenderState(t *Template, vars map[string]any) *renderState {
	return &renderState{
		template: t,
		vars:     vars,
		nonce:    strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// genFunction returns the gen() callable injected into the execution context
// of this render. Evaluating it never touches the backend; it registers a
// pending call and returns the call's marker as a safe value so the host
// engine's own escaping cannot alter it.
func (s *renderState) genFunction() func(*exec.Evaluator, *exec.VarArgs) *exec.Value {
	return func(_ *exec.Evaluator, params *exec.VarArgs) *exec.Value {
		call, err := s.collect(params)
		if err != nil {
			s.fail(err)
			return exec.AsValue(exec.ErrInvalidCall(err))
		}
		return exec.AsSafeValue(call.Marker)
	}
}

// collect builds a GenerationCall from one gen() evaluation and appends it
// to the ordered pending list.
func (s *renderState) collect(params *exec.VarArgs) (*GenerationCall, error) {
	if params == nil || len(params.Args) == 0 {
		return nil, NewGenParamError(ErrMsgGenPromptMissing, "prompt")
	}
	if len(params.Args) > 1 {
		return nil, NewGenParamError(ErrMsgGenTooManyArgs, "prompt")
	}

	rawPrompt, ok := params.Args[0].Interface().(string)
	if !ok {
		return nil, NewGenParamError(ErrMsgGenPromptNotString, "prompt")
	}

	genParams, site, err := parseGenKwargs(params.KwArgs)
	if err != nil {
		return nil, err
	}

	prompt, err := interpolatePrompt(rawPrompt, s.vars)
	if err != nil {
		return nil, err
	}

	call := &GenerationCall{
		Marker: s.nextMarker(),
		Prompt: prompt,
		Params: genParams,
		index:  len(s.pending),
	}
	if site != noSite {
		call.pipeline = s.template.sites[site]
	}

	s.pending = append(s.pending, call)
	return call, nil
}

// nextMarker mints a fresh marker for the next pending call.
func (s *renderState) nextMarker() string {
	return markerPrefix + s.nonce + "_" + strconv.Itoa(len(s.pending)) + markerSuffix
}

// fail records the first collection error. The host engine surfaces its own
// error for the failing expression; the recorded one carries the structured
// detail.
func (s *renderState) fail(err error) {
	if s.genErr == nil {
		s.genErr = err
	}
}

// parseGenKwargs resolves the keyword parameters of a gen() call. The
// parameter set is fixed; unknown names are rejected.
func parseGenKwargs(kwargs map[string]*exec.Value) (*GenerationParams, int, error) {
	params := &GenerationParams{}
	site := noSite

	for name, value := range kwargs {
		raw := value.Interface()
		switch name {
		case ParamMaxTokens:
			n, ok := toInt(raw)
			if !ok {
				return nil, 0, NewGenParamError(ErrMsgGenBadParamType, ParamMaxTokens)
			}
			params.MaxTokens = &n
		case ParamTemperature:
			f, ok := toFloat(raw)
			if !ok {
				return nil, 0, NewGenParamError(ErrMsgGenBadParamType, ParamTemperature)
			}
			params.Temperature = &f
		case ParamStop:
			stop, ok := toStringSlice(raw)
			if !ok {
				return nil, 0, NewGenParamError(ErrMsgGenBadParamType, ParamStop)
			}
			params.Stop = stop
		case ParamFilter:
			filterName, ok := raw.(string)
			if !ok {
				return nil, 0, NewGenParamError(ErrMsgGenBadParamType, ParamFilter)
			}
			if !HasFilter(filterName) {
				return nil, 0, NewUnknownFilterError(filterName)
			}
			params.Filter = filterName
		case siteParamName:
			n, ok := toInt(raw)
			if !ok {
				return nil, 0, NewGenParamError(ErrMsgGenBadParamType, siteParamName)
			}
			site = n
		default:
			return nil, 0, NewGenParamError(ErrMsgGenUnknownParam, name)
		}
	}

	return params, site, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case string:
		return []string{s}, true
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
