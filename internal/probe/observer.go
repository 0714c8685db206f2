package probe

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/domain"
	"github.com/osctools/gpuscout/internal/gateway"
)

// Observation states. A probe moves SUBMITTED -> OBSERVING -> terminal.
type State int

const (
	StateSubmitted State = iota
	StateObserving
	StateAdmitted
	StatePendingTimeout
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateObserving:
		return "observing"
	case StateAdmitted:
		return "admitted"
	case StatePendingTimeout:
		return "pending-timeout"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Action is the side effect a transition asks the caller to perform.
type Action int

const (
	ActionNone Action = iota
	// ActionCancel asks the caller to cancel the probe before returning.
	ActionCancel
)

// Step is the result of one observation transition.
type Step struct {
	State  State
	Action Action
	Detail string
}

// Transition is the pure state function from (current state, query result,
// elapsed time) to (next state, side effect). Terminal classification
// policy:
//
//   - RUNNING, or COMPLETED without ever being seen RUNNING, is ADMITTED.
//     A completed job must have run; completion promptness is not consulted.
//   - FAILED or CANCELLED without ever being seen RUNNING is treated as
//     PENDING_TIMEOUT: the spec never got useful time, including the case
//     where the user cancelled the probe out-of-band. The cancel side
//     effect still fires once; cancelling an already-dead job is a no-op.
//   - Still QUEUED (or UNKNOWN) past the observation timeout is
//     PENDING_TIMEOUT with a cancel.
func Transition(state State, qr gateway.QueryResult, elapsed, timeout time.Duration) Step {
	if state != StateSubmitted && state != StateObserving {
		return Step{State: state}
	}

	switch qr.State {
	case gateway.StateRunning:
		return Step{State: StateAdmitted, Detail: qr.Detail}
	case gateway.StateCompleted:
		return Step{State: StateAdmitted, Detail: "completed before running was observed"}
	case gateway.StateFailed:
		return Step{State: StatePendingTimeout, Action: ActionCancel, Detail: "terminated without running: " + qr.Detail}
	}

	if elapsed >= timeout {
		return Step{State: StatePendingTimeout, Action: ActionCancel, Detail: "still queued at observation timeout"}
	}
	return Step{State: StateObserving, Detail: qr.Detail}
}

// Outcome maps a terminal observation state to a probe outcome.
func (s Step) Outcome() domain.ProbeOutcome {
	switch s.State {
	case StateAdmitted:
		return domain.OutcomeAdmitted
	case StatePendingTimeout:
		return domain.OutcomePendingTimeout
	default:
		return domain.OutcomeError
	}
}

// Observer polls one submitted probe until it reaches a terminal state or
// the observation timeout elapses. Polling blocks the calling goroutine;
// probes are strictly sequential so nothing else needs to run.
type Observer struct {
	Gateway      gateway.Gateway
	PollInterval time.Duration
	Timeout      time.Duration
	QueryRetries int
	Markers      *MarkerWatcher
	Logger       *zap.Logger
}

// NewObserver creates an Observer with the given polling parameters.
func NewObserver(gw gateway.Gateway, pollInterval, timeout time.Duration, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		Gateway:      gw,
		PollInterval: pollInterval,
		Timeout:      timeout,
		QueryRetries: 3,
		Logger:       logger,
	}
}

// Observe watches the probe until a terminal outcome. On PENDING_TIMEOUT it
// cancels the probe exactly once before returning so no zombie occupies a
// queue slot. The returned error is non-nil only for OutcomeError.
func (o *Observer) Observe(ctx context.Context, handle domain.ProbeHandle) (domain.ProbeOutcome, string, error) {
	start := time.Now()
	state := StateSubmitted

	for {
		// Marker files appear the moment the job script runs, often a poll
		// interval ahead of squeue reflecting RUNNING.
		if o.Markers != nil && o.Markers.Started(handle.ProbeID) {
			o.Logger.Debug("probe marker observed", zap.String("id", handle.ProbeID))
			return domain.OutcomeAdmitted, "marker file observed", nil
		}

		qr, err := o.queryWithRetry(ctx, handle.ProbeID)
		if err != nil {
			return domain.OutcomeError, "", err
		}

		step := Transition(state, qr, time.Since(start), o.Timeout)
		state = step.State

		switch state {
		case StateAdmitted:
			o.Logger.Info("probe admitted",
				zap.String("id", handle.ProbeID),
				zap.String("spec", handle.Spec.Summary()))
			return domain.OutcomeAdmitted, step.Detail, nil
		case StatePendingTimeout:
			if step.Action == ActionCancel {
				o.cancel(ctx, handle.ProbeID)
			}
			o.Logger.Info("probe not admitted",
				zap.String("id", handle.ProbeID),
				zap.String("detail", step.Detail))
			return domain.OutcomePendingTimeout, step.Detail, nil
		}

		if err := sleepCtx(ctx, o.PollInterval); err != nil {
			return domain.OutcomeError, "", err
		}
	}
}

func (o *Observer) queryWithRetry(ctx context.Context, probeID string) (gateway.QueryResult, error) {
	retries := o.QueryRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		qr, err := o.Gateway.Query(ctx, probeID)
		if err == nil {
			return qr, nil
		}
		lastErr = err
		o.Logger.Warn("query failed",
			zap.String("id", probeID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < retries-1 {
			if err := sleepCtx(ctx, o.PollInterval); err != nil {
				return gateway.QueryResult{}, err
			}
		}
	}
	return gateway.QueryResult{}, lastErr
}

func (o *Observer) cancel(ctx context.Context, probeID string) {
	err := o.Gateway.Cancel(ctx, probeID)
	if err == nil {
		return
	}
	var nf *gateway.NotFoundError
	if errors.As(err, &nf) {
		// Job already completed or reaped; that is success.
		return
	}
	o.Logger.Warn("cancel failed", zap.String("id", probeID), zap.Error(err))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
