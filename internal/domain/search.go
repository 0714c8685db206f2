package domain

import (
	"fmt"
	"time"
)

// SearchBounds frames one discovery run. Immutable for the lifetime of the
// run; supplied by the CLI layer.
type SearchBounds struct {
	GPUMin    int
	GPUMax    int
	TimeMin   time.Duration
	TimeMax   time.Duration
	Account   string
	Partition string
}

// Validate checks the ordering invariants.
func (b SearchBounds) Validate() error {
	if b.GPUMin < 1 {
		return fmt.Errorf("gpu min must be at least 1, got %d", b.GPUMin)
	}
	if b.GPUMin > b.GPUMax {
		return fmt.Errorf("gpu bounds inverted: min %d > max %d", b.GPUMin, b.GPUMax)
	}
	if b.TimeMin <= 0 {
		return fmt.Errorf("time min must be positive, got %s", b.TimeMin)
	}
	if b.TimeMin > b.TimeMax {
		return fmt.Errorf("time bounds inverted: min %s > max %s", b.TimeMin, b.TimeMax)
	}
	if b.Account == "" {
		return fmt.Errorf("account is required")
	}
	return nil
}

// Trial records one probe and its terminal outcome.
type Trial struct {
	Spec        ProbeSpec
	ProbeID     string
	Outcome     ProbeOutcome
	Detail      string
	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// SearchTrace is the ordered, append-only trial history of one phase.
type SearchTrace []Trial

// Admissions counts trials that ended admitted.
func (t SearchTrace) Admissions() int {
	n := 0
	for _, trial := range t {
		if trial.Outcome.Admitted() {
			n++
		}
	}
	return n
}

// SearchResult is the single entity handed back to the caller at the end of
// a run. Read-only thereafter.
type SearchResult struct {
	MaxAdmittedGPUs int
	MaxAdmittedTime time.Duration
	GPUTrace        SearchTrace
	TimeTrace       SearchTrace

	// GPUConfirmed/TimeConfirmed report whether the discovered bound was
	// witnessed by at least one admitted probe, as opposed to resting on
	// the unprobed assumption that the lower bound is admissible.
	GPUConfirmed  bool
	TimeConfirmed bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// EventKind distinguishes per-trial progress events.
type EventKind int

const (
	// EventSubmitted fires after a probe is accepted by the scheduler.
	EventSubmitted EventKind = iota
	// EventResolved fires once a probe reaches a terminal outcome.
	EventResolved
	// EventPhaseDone fires when a bisection phase finishes.
	EventPhaseDone
)

// Event is one entry in the finite per-trial progress stream consumed by
// live renderers. The core emits events; it never depends on a renderer.
type Event struct {
	Kind    EventKind
	Phase   ProbePhase
	Spec    ProbeSpec
	ProbeID string
	Outcome ProbeOutcome
	Detail  string
	At      time.Time
}

// EventFunc receives search progress events. Callbacks run on the search
// goroutine; they must not block for long.
type EventFunc func(Event)
