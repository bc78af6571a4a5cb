package weave

import (
	"errors"
	"sort"
	"strings"
)

// markerSpan is the literal position of one marker inside the skeleton.
type markerSpan struct {
	start int
	end   int
	call  *GenerationCall
}

// assemble replaces every marker in the skeleton with its filtered result
// and returns the final output text.
//
// All spans are located in the pristine skeleton before any replacement, and
// the output is spliced from those recorded positions in a single pass.
// Substituted content is never re-scanned, so generated text that happens to
// resemble a marker cannot trigger a second substitution.
//
// Any failed call aborts the whole render: structure without complete
// content is not a successful render, and partial output is never produced.
func assemble(skeleton string, calls []*GenerationCall, results *batchResult, defaultFilter string) (string, error) {
	if err := checkFailures(calls, results); err != nil {
		return "", err
	}

	spans, err := locateSpans(skeleton, calls)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	out.Grow(len(skeleton))

	prev := 0
	for _, span := range spans {
		outcome, _ := results.lookup(span.call.Marker)
		filtered, err := applyResolvedFilters(span.call, outcome.text, defaultFilter)
		if err != nil {
			return "", NewRenderError(ErrMsgRenderFailed, err)
		}
		out.WriteString(skeleton[prev:span.start])
		out.WriteString(filtered)
		prev = span.end
	}
	out.WriteString(skeleton[prev:])

	return out.String(), nil
}

// checkFailures sweeps the batch result before any substitution and turns a
// non-empty failure set into a single render error naming every failed
// prompt.
func checkFailures(calls []*GenerationCall, results *batchResult) error {
	var failed []error
	var prompts []string
	for _, call := range calls {
		outcome, ok := results.lookup(call.Marker)
		if !ok {
			return NewRenderError(ErrMsgMarkerMissing, nil)
		}
		if outcome.err != nil {
			failed = append(failed, outcome.err)
			prompts = append(prompts, truncateForError(call.Prompt))
		}
	}
	if len(failed) > 0 {
		return NewGenerationFailedError(prompts, errors.Join(failed...))
	}
	return nil
}

// locateSpans finds the exact, unique position of every marker in the
// skeleton. A missing or duplicated marker violates the rendering invariant
// (one marker occurrence per pending call) and aborts the render.
func locateSpans(skeleton string, calls []*GenerationCall) ([]markerSpan, error) {
	spans := make([]markerSpan, 0, len(calls))
	for _, call := range calls {
		idx := strings.Index(skeleton, call.Marker)
		if idx < 0 {
			return nil, NewRenderError(ErrMsgMarkerMissing, nil)
		}
		end := idx + len(call.Marker)
		if strings.Contains(skeleton[end:], call.Marker) {
			return nil, NewRenderError(ErrMsgMarkerDuplicated, nil)
		}
		spans = append(spans, markerSpan{start: idx, end: end, call: call})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans, nil
}

// applyResolvedFilters applies the filter pipeline resolved for a call to
// its generated text.
func applyResolvedFilters(call *GenerationCall, text string, defaultFilter string) (string, error) {
	result := text
	for _, spec := range resolveFilters(call, defaultFilter) {
		filtered, err := ApplyFilter(spec.Name, result, spec.Args...)
		if err != nil {
			return "", err
		}
		result = filtered
	}
	return result, nil
}

// resolveFilters picks the pipeline for one call. Precedence: explicit
// pipeline on the call, then the per-call filter parameter, then the
// template default, then raw. An explicit raw suppresses the default.
func resolveFilters(call *GenerationCall, defaultFilter string) []FilterSpec {
	if len(call.pipeline) > 0 {
		if len(call.pipeline) == 1 && call.pipeline[0].Name == FilterRaw {
			return nil
		}
		return call.pipeline
	}
	if call.Params != nil && call.Params.Filter != "" {
		if call.Params.Filter == FilterRaw {
			return nil
		}
		return []FilterSpec{{Name: call.Params.Filter}}
	}
	if defaultFilter != "" && defaultFilter != FilterRaw {
		return []FilterSpec{{Name: defaultFilter}}
	}
	return nil
}
