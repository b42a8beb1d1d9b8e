package orchestrator

import (
	"fmt"
	"time"

	"github.com/makeasinger/studio/internal/model"
)

// Queue holds the ordered requests of one orchestrator, the cursor of the
// active one and the outcomes collected so far. It is not safe for
// concurrent use; the orchestrator guards it.
type Queue struct {
	items     []model.GenerationRequest
	cursor    int
	results   []model.JobResult
	failures  []model.JobFailure
	cooldown  time.Duration
	skipDelay time.Duration
}

// NewQueue creates a queue that waits cooldown after a completed item and
// skipDelay after any other terminal outcome.
func NewQueue(cooldown, skipDelay time.Duration) *Queue {
	return &Queue{cooldown: cooldown, skipDelay: skipDelay}
}

func (q *Queue) Enqueue(reqs ...model.GenerationRequest) {
	q.items = append(q.items, reqs...)
}

// Current returns the request under the cursor.
func (q *Queue) Current() (model.GenerationRequest, bool) {
	if q.cursor < 0 || q.cursor >= len(q.items) {
		return model.GenerationRequest{}, false
	}
	return q.items[q.cursor], true
}

// Advance moves past the current request, which must have ended with last.
// The returned delay is how long to wait before submitting the next one.
func (q *Queue) Advance(last model.JobStatus) (time.Duration, error) {
	if !last.IsTerminal() {
		return 0, fmt.Errorf("cannot advance queue while job is %s", last)
	}
	if q.IsComplete() {
		return 0, fmt.Errorf("queue already complete")
	}

	q.cursor++
	if q.IsComplete() {
		return 0, nil
	}
	if last == model.JobStatusCompleted {
		return q.cooldown, nil
	}
	return q.skipDelay, nil
}

// IsComplete is true once the cursor has passed the last request.
func (q *Queue) IsComplete() bool {
	return q.cursor >= len(q.items)
}

// Pending reports whether requests remain to be run.
func (q *Queue) Pending() bool {
	return len(q.items) > 0 && !q.IsComplete()
}

func (q *Queue) Record(result model.JobResult) {
	q.results = append(q.results, result)
}

// Fail records a request that ended without a result.
func (q *Queue) Fail(req model.GenerationRequest, jerr model.JobError) {
	q.failures = append(q.failures, model.JobFailure{Request: req, Error: jerr})
}

func (q *Queue) Failures() []model.JobFailure {
	out := make([]model.JobFailure, len(q.failures))
	copy(out, q.failures)
	return out
}

// Retryable returns the failed requests that may be submitted again, in
// queue order.
func (q *Queue) Retryable() []model.GenerationRequest {
	var out []model.GenerationRequest
	for _, f := range q.failures {
		if f.Error.Retryable {
			out = append(out, f.Request)
		}
	}
	return out
}

func (q *Queue) Results() []model.JobResult {
	out := make([]model.JobResult, len(q.results))
	copy(out, q.results)
	return out
}

func (q *Queue) Items() []model.GenerationRequest {
	out := make([]model.GenerationRequest, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Cursor() int { return q.cursor }

func (q *Queue) Len() int { return len(q.items) }

// Reset drops every request and outcome.
func (q *Queue) Reset() {
	q.items = nil
	q.cursor = 0
	q.results = nil
	q.failures = nil
}

// restore rebuilds the queue from a snapshot.
func (q *Queue) restore(items []model.GenerationRequest, cursor int, results []model.JobResult, failures []model.JobFailure) {
	q.items = append([]model.GenerationRequest(nil), items...)
	q.results = append([]model.JobResult(nil), results...)
	q.failures = append([]model.JobFailure(nil), failures...)
	switch {
	case cursor < 0:
		q.cursor = 0
	case cursor > len(items):
		q.cursor = len(items)
	default:
		q.cursor = cursor
	}
}
