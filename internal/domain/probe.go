package domain

import (
	"fmt"
	"time"
)

// ProbePhase tags which search dimension a probe belongs to.
type ProbePhase string

const (
	PhaseGPU  ProbePhase = "gpu-search"
	PhaseTime ProbePhase = "time-search"
)

// ProbeSpec is one candidate resource request submitted as a trial job.
// Created fresh per trial and never mutated after submission.
type ProbeSpec struct {
	GPUCount    int
	TimeWindow  time.Duration
	CPUs        int
	Memory      string
	Account     string
	Partition   string
	NotifyEmail string
	Phase       ProbePhase
}

// JobName builds the canonical Slurm job name for this probe,
// e.g. "1h30m-g4-gpuscout-probe".
func (p ProbeSpec) JobName(prefix string) string {
	return fmt.Sprintf("%s-g%d-%s", FormatCompact(p.TimeWindow), p.GPUCount, prefix)
}

// Summary returns a compact one-line description for logs and UI rows.
func (p ProbeSpec) Summary() string {
	return fmt.Sprintf("%s t=%s g=%d c=%d m=%s",
		p.Phase, FormatCompact(p.TimeWindow), p.GPUCount, p.CPUs, p.Memory)
}

// Submission is a fully built, submittable job description for one probe:
// the sbatch resource directives plus the wrapped script body whose only
// purpose is to signal that the job started.
type Submission struct {
	JobName string
	Args    []string
	Script  string
	Spec    ProbeSpec
}

// ProbeHandle identifies one in-flight probe. Owned by the controller for
// the duration of a single trial.
type ProbeHandle struct {
	ProbeID     string
	SubmittedAt time.Time
	Spec        ProbeSpec
}

// ProbeOutcome is the terminal classification of one probe.
type ProbeOutcome int

const (
	// OutcomeAdmitted means the probe began running within the observation
	// timeout (or completed, which implies it ran).
	OutcomeAdmitted ProbeOutcome = iota
	// OutcomePendingTimeout means the probe never left the queue within the
	// observation timeout and was cancelled.
	OutcomePendingTimeout
	// OutcomeRejected means the scheduler refused the spec outright.
	OutcomeRejected
	// OutcomeError means a gateway call failed unrecoverably.
	OutcomeError
)

func (o ProbeOutcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomePendingTimeout:
		return "pending-timeout"
	case OutcomeRejected:
		return "rejected"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Admitted reports whether the outcome narrows the search upward.
func (o ProbeOutcome) Admitted() bool { return o == OutcomeAdmitted }
