// Package gateway wraps the scheduler's submit/query/cancel commands behind
// a mockable interface. The real implementation shells out to the Slurm
// command-line tools and parses their text output.
package gateway

import (
	"context"
	"fmt"

	"github.com/osctools/gpuscout/internal/domain"
)

// JobState is the scheduler-reported state of a submitted probe.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateUnknown   JobState = "unknown"
)

// QueryResult describes a probe's current state. Queries are idempotent:
// a probe in a terminal state reports that state on every subsequent call.
type QueryResult struct {
	State  JobState
	Detail string
}

// Terminal reports whether the state can no longer change.
func (r QueryResult) Terminal() bool {
	return r.State == StateCompleted || r.State == StateFailed
}

// Gateway is the scheduler collaborator consumed by the search core.
//
// Submit does not retry: a rejected spec is surfaced immediately since
// retrying it would waste a bisection step. Query failures are transient
// and cheap to retry; the caller owns the retry policy. Cancel is
// best-effort and treats an already-reaped job as success.
type Gateway interface {
	Submit(ctx context.Context, sub domain.Submission) (probeID string, err error)
	Query(ctx context.Context, probeID string) (QueryResult, error)
	Cancel(ctx context.Context, probeID string) error
}

// SubmissionError means the submit call failed. Non-retryable within the
// same bisection step. Rejected distinguishes the scheduler refusing the
// spec (an expected, search-narrowing outcome) from the submit machinery
// itself failing (unrecoverable: the binary is missing or its output could
// not be parsed).
type SubmissionError struct {
	Output   string
	Rejected bool
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("submission rejected: %s", e.Output)
	}
	return fmt.Sprintf("submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// QueryError is a transient failure of the query command.
type QueryError struct {
	ProbeID string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("querying probe %s: %v", e.ProbeID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NotFoundError on cancel means the job already completed or was reaped.
// Callers must treat it as success.
type NotFoundError struct {
	ProbeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("probe %s not found", e.ProbeID)
}
