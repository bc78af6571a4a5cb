package weave

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// generationOutcome is the result of one dispatched call: generated text or
// the failure that produced none.
type generationOutcome struct {
	text string
	err  error
}

// batchResult maps each marker to its generation outcome. It is transient,
// scoped to one render invocation.
type batchResult struct {
	outcomes map[string]generationOutcome
}

// lookup returns the outcome recorded for a marker.
func (r *batchResult) lookup(marker string) (generationOutcome, bool) {
	outcome, ok := r.outcomes[marker]
	return outcome, ok
}

// dispatchBatch issues one backend request per pending call, all
// concurrently. The calls share no state and have no ordering dependency.
// This is a join point, not a race: it waits for every call to finish, and a
// failing call never drops a sibling's result. Failures are recorded
// per-marker rather than returned, so one render can report all of its
// failed prompts at once.
func dispatchBatch(ctx context.Context, backend Backend, calls []*GenerationCall, limit int, logger *zap.Logger) *batchResult {
	result := &batchResult{outcomes: make(map[string]generationOutcome, len(calls))}
	if len(calls) == 0 {
		return result
	}

	logger.Debug("dispatching generation batch",
		zap.Int("calls", len(calls)),
		zap.Int("concurrency_limit", limit),
	)

	slots := make([]generationOutcome, len(calls))

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i, call := range calls {
		group.Go(func() error {
			resp, err := backend.Generate(ctx, call.Request())
			if err != nil {
				slots[i] = generationOutcome{err: NewBackendCallError(call.Prompt, call.index, err)}
				return nil
			}
			slots[i] = generationOutcome{text: resp.Text}
			return nil
		})
	}
	// Goroutines record outcomes instead of returning errors, so Wait is a
	// pure join.
	_ = group.Wait()

	for i, call := range calls {
		result.outcomes[call.Marker] = slots[i]
	}
	return result
}
