// Package search runs the two-phase resource-bound discovery: a GPU-count
// bisection followed by a walltime bisection, one probe at a time.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/domain"
	"github.com/osctools/gpuscout/internal/gateway"
	"github.com/osctools/gpuscout/internal/probe"
)

// Phases selects which search dimensions to run.
type Phases int

const (
	PhasesBoth Phases = iota
	PhasesGPU
	PhasesTime
)

// Options tunes one search run.
type Options struct {
	// DryRun builds specs and resolves outcomes via Simulate without ever
	// touching the Gateway.
	DryRun   bool
	Simulate SimulateFunc

	Phases Phases

	// FixedGPUs is the GPU count held during the time phase when the GPU
	// phase is not requested.
	FixedGPUs int
	// ProbeTime is the short fixed walltime requested by GPU-phase probes.
	// Probing with minimal wall-clock cost keeps trials cheap regardless of
	// the dimension under test. Defaults to the bounds' time minimum.
	ProbeTime time.Duration

	CPUs        int
	Memory      string
	NotifyEmail string

	OnEvent domain.EventFunc
}

// SearchAbortedError is returned when a phase hits an unrecoverable
// failure. It carries the partial traces so no probing work is lost.
type SearchAbortedError struct {
	Phase     domain.ProbePhase
	GPUTrace  domain.SearchTrace
	TimeTrace domain.SearchTrace
	Err       error
}

func (e *SearchAbortedError) Error() string {
	return fmt.Sprintf("search aborted during %s: %v", e.Phase, e.Err)
}

func (e *SearchAbortedError) Unwrap() error { return e.Err }

// observer abstracts probe observation for tests.
type observer interface {
	Observe(ctx context.Context, handle domain.ProbeHandle) (domain.ProbeOutcome, string, error)
}

// Controller drives the search. Trials are strictly sequential: one probe's
// outcome is known before the next is submitted, so the engine never
// contends with itself for queue slots.
type Controller struct {
	gw      gateway.Gateway
	builder *probe.Builder
	obs     observer
	logger  *zap.Logger
}

// New creates a Controller. gw and obs may be nil for dry-run-only use.
func New(gw gateway.Gateway, builder *probe.Builder, obs observer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{gw: gw, builder: builder, obs: obs, logger: logger}
}

// Run executes the requested phases over bounds and aggregates the result.
// The GPU phase runs first; the time phase then holds the discovered GPU
// count fixed. Phases never interleave: each one's probes must hold the
// other dimension constant for the bisection invariant to hold.
func (c *Controller) Run(ctx context.Context, bounds domain.SearchBounds, opts Options) (*domain.SearchResult, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if opts.DryRun && opts.Simulate == nil {
		return nil, fmt.Errorf("dry run requires a simulate function")
	}
	if opts.ProbeTime <= 0 {
		opts.ProbeTime = bounds.TimeMin
	}

	started := time.Now()
	var gpuTrace, timeTrace domain.SearchTrace

	maxGPUs := bounds.GPUMin
	gpuRan := false
	if opts.Phases == PhasesBoth || opts.Phases == PhasesGPU {
		gpuRan = true
		lo, trace, err := c.gpuPhase(ctx, bounds, opts)
		gpuTrace = trace
		if err != nil {
			return nil, &SearchAbortedError{Phase: domain.PhaseGPU, GPUTrace: gpuTrace, Err: err}
		}
		maxGPUs = lo
		c.emit(opts, domain.Event{Kind: domain.EventPhaseDone, Phase: domain.PhaseGPU, At: time.Now()})
	} else if opts.FixedGPUs > 0 {
		maxGPUs = opts.FixedGPUs
	}

	maxTime := bounds.TimeMin
	timeRan := false
	if opts.Phases == PhasesBoth || opts.Phases == PhasesTime {
		timeRan = true
		lo, trace, err := c.timePhase(ctx, bounds, opts, maxGPUs)
		timeTrace = trace
		if err != nil {
			return nil, &SearchAbortedError{Phase: domain.PhaseTime, GPUTrace: gpuTrace, TimeTrace: timeTrace, Err: err}
		}
		maxTime = lo
		c.emit(opts, domain.Event{Kind: domain.EventPhaseDone, Phase: domain.PhaseTime, At: time.Now()})
	}

	return aggregate(aggregateInput{
		bounds:    bounds,
		gpuRan:    gpuRan,
		timeRan:   timeRan,
		maxGPUs:   maxGPUs,
		maxTime:   maxTime,
		gpuTrace:  gpuTrace,
		timeTrace: timeTrace,
		started:   started,
	})
}

// gpuPhase bisects the GPU-count domain. lo is the largest known-admitted
// count, initialized to gpu_min which is assumed admitted without a probe;
// hi is the smallest known-not-admitted bound, initialized one past
// gpu_max. Terminates in at most ceil(log2(gpu_max - gpu_min + 1)) trials.
func (c *Controller) gpuPhase(ctx context.Context, bounds domain.SearchBounds, opts Options) (int, domain.SearchTrace, error) {
	var trace domain.SearchTrace
	lo := bounds.GPUMin
	hi := bounds.GPUMax + 1

	for hi-lo > 1 {
		mid := (lo + hi) / 2
		spec := domain.ProbeSpec{
			GPUCount:    mid,
			TimeWindow:  opts.ProbeTime,
			CPUs:        opts.CPUs,
			Memory:      opts.Memory,
			Account:     bounds.Account,
			Partition:   bounds.Partition,
			NotifyEmail: opts.NotifyEmail,
			Phase:       domain.PhaseGPU,
		}

		trial, err := c.runTrial(ctx, spec, opts)
		if trial.ProbeID != "" || trial.Outcome != domain.OutcomeError {
			trace = append(trace, trial)
		}
		if err != nil {
			return lo, trace, err
		}

		if trial.Outcome.Admitted() {
			lo = mid
		} else {
			hi = mid
		}
		c.logger.Info("gpu trial narrowed interval",
			zap.Int("trial", mid),
			zap.String("outcome", trial.Outcome.String()),
			zap.Int("lo", lo), zap.Int("hi", hi))
	}

	return lo, trace, nil
}

// timePhase bisects the walltime domain holding gpus fixed. Midpoints are
// truncated to the scheduler's minute granularity and the loop stops once
// the interval is within one granularity unit, so sub-minute differences
// never cause endless halving.
func (c *Controller) timePhase(ctx context.Context, bounds domain.SearchBounds, opts Options, gpus int) (time.Duration, domain.SearchTrace, error) {
	var trace domain.SearchTrace
	lo := bounds.TimeMin
	hi := bounds.TimeMax + domain.TimeGranularity

	for hi-lo > domain.TimeGranularity {
		mid := domain.TruncateToGranularity((lo + hi) / 2)
		if mid <= lo {
			break
		}
		spec := domain.ProbeSpec{
			GPUCount:    gpus,
			TimeWindow:  mid,
			CPUs:        opts.CPUs,
			Memory:      opts.Memory,
			Account:     bounds.Account,
			Partition:   bounds.Partition,
			NotifyEmail: opts.NotifyEmail,
			Phase:       domain.PhaseTime,
		}

		trial, err := c.runTrial(ctx, spec, opts)
		if trial.ProbeID != "" || trial.Outcome != domain.OutcomeError {
			trace = append(trace, trial)
		}
		if err != nil {
			return lo, trace, err
		}

		if trial.Outcome.Admitted() {
			lo = mid
		} else {
			hi = mid
		}
		c.logger.Info("time trial narrowed interval",
			zap.Duration("trial", mid),
			zap.String("outcome", trial.Outcome.String()),
			zap.Duration("lo", lo), zap.Duration("hi", hi))
	}

	return lo, trace, nil
}

// runTrial executes one probe: build, submit, observe. Expected negative
// outcomes (rejection, pending timeout) return a trial and nil error; only
// unrecoverable failures return an error, which aborts the phase.
func (c *Controller) runTrial(ctx context.Context, spec domain.ProbeSpec, opts Options) (domain.Trial, error) {
	if opts.DryRun {
		return c.runSimulatedTrial(spec, opts)
	}

	sub := c.builder.Build(spec)
	submittedAt := time.Now()

	probeID, err := c.gw.Submit(ctx, sub)
	if err != nil {
		var subErr *gateway.SubmissionError
		if errors.As(err, &subErr) && subErr.Rejected {
			// The scheduler refused the spec: expected, narrows the search.
			trial := domain.Trial{
				Spec:        spec,
				Outcome:     domain.OutcomeRejected,
				Detail:      subErr.Output,
				SubmittedAt: submittedAt,
				ResolvedAt:  time.Now(),
			}
			c.emit(opts, domain.Event{
				Kind: domain.EventResolved, Phase: spec.Phase, Spec: spec,
				Outcome: domain.OutcomeRejected, Detail: subErr.Output, At: trial.ResolvedAt,
			})
			return trial, nil
		}
		return domain.Trial{Spec: spec, Outcome: domain.OutcomeError, SubmittedAt: submittedAt}, err
	}

	c.emit(opts, domain.Event{
		Kind: domain.EventSubmitted, Phase: spec.Phase, Spec: spec,
		ProbeID: probeID, At: submittedAt,
	})

	handle := domain.ProbeHandle{ProbeID: probeID, SubmittedAt: submittedAt, Spec: spec}
	outcome, detail, obsErr := c.obs.Observe(ctx, handle)
	if outcome == domain.OutcomeError {
		// The probe may still hold a queue slot. The run context may
		// already be cancelled (Ctrl-C lands here), so the cleanup call
		// gets its own deadline.
		cleanupCtx, cleanup := context.WithTimeout(context.Background(), 10*time.Second)
		var nf *gateway.NotFoundError
		if cerr := c.gw.Cancel(cleanupCtx, probeID); cerr != nil && !errors.As(cerr, &nf) {
			c.logger.Warn("probe cleanup cancel failed",
				zap.String("id", probeID), zap.Error(cerr))
		}
		cleanup()
	}

	trial := domain.Trial{
		Spec:        spec,
		ProbeID:     probeID,
		Outcome:     outcome,
		Detail:      detail,
		SubmittedAt: submittedAt,
		ResolvedAt:  time.Now(),
	}
	c.emit(opts, domain.Event{
		Kind: domain.EventResolved, Phase: spec.Phase, Spec: spec,
		ProbeID: probeID, Outcome: outcome, Detail: detail, At: trial.ResolvedAt,
	})

	if outcome == domain.OutcomeError {
		return trial, obsErr
	}
	return trial, nil
}

func (c *Controller) runSimulatedTrial(spec domain.ProbeSpec, opts Options) (domain.Trial, error) {
	now := time.Now()
	c.emit(opts, domain.Event{
		Kind: domain.EventSubmitted, Phase: spec.Phase, Spec: spec,
		ProbeID: "dry-run", At: now,
	})
	outcome := opts.Simulate(spec)
	trial := domain.Trial{
		Spec:        spec,
		ProbeID:     "dry-run",
		Outcome:     outcome,
		Detail:      "simulated",
		SubmittedAt: now,
		ResolvedAt:  time.Now(),
	}
	c.emit(opts, domain.Event{
		Kind: domain.EventResolved, Phase: spec.Phase, Spec: spec,
		ProbeID: "dry-run", Outcome: outcome, Detail: "simulated", At: trial.ResolvedAt,
	})
	if outcome == domain.OutcomeError {
		return trial, fmt.Errorf("simulated gateway error")
	}
	return trial, nil
}

func (c *Controller) emit(opts Options, ev domain.Event) {
	if opts.OnEvent != nil {
		opts.OnEvent(ev)
	}
}
