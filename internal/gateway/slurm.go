package gateway

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/domain"
)

// Runner executes an external command and returns its stdout. Injected so
// tests can fake the Slurm binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		// Surface stderr in the error so rejection reasons are readable.
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", &commandError{err: err, stderr: strings.TrimSpace(string(exitErr.Stderr))}
		}
		return "", err
	}
	return string(out), nil
}

type commandError struct {
	err    error
	stderr string
}

func (e *commandError) Error() string { return e.err.Error() + ": " + e.stderr }
func (e *commandError) Unwrap() error { return e.err }

var jobIDRe = regexp.MustCompile(`^\d+`)

// jobStateMap translates squeue/scontrol state tokens.
var jobStateMap = map[string]JobState{
	"PENDING":     StateQueued,
	"PD":          StateQueued,
	"CONFIGURING": StateRunning,
	"RUNNING":     StateRunning,
	"R":           StateRunning,
	"COMPLETING":  StateRunning,
	"COMPLETED":   StateCompleted,
	"CD":          StateCompleted,
	"FAILED":      StateFailed,
	"F":           StateFailed,
	"CANCELLED":   StateFailed,
	"CA":          StateFailed,
	"TIMEOUT":     StateFailed,
	"NODE_FAIL":   StateFailed,
	"PREEMPTED":   StateFailed,
}

// Slurm is the production Gateway backed by sbatch, squeue, scontrol and
// scancel.
type Slurm struct {
	runner Runner
	logger *zap.Logger
}

// NewSlurm creates a Slurm gateway. A nil logger disables logging.
func NewSlurm(runner Runner, logger *zap.Logger) *Slurm {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slurm{runner: runner, logger: logger}
}

// Submit runs sbatch with the built directives and parses the job id from
// its --parsable output.
func (s *Slurm) Submit(ctx context.Context, sub domain.Submission) (string, error) {
	args := append([]string{}, sub.Args...)
	args = append(args, "--wrap", sub.Script)

	out, err := s.runner.Run(ctx, "sbatch", args...)
	if err != nil {
		detail := ""
		rejected := false
		var cmdErr *commandError
		if errors.As(err, &cmdErr) {
			// sbatch ran and refused the spec; its stderr carries the reason.
			detail = cmdErr.stderr
			rejected = true
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rejected = true
		}
		s.logger.Warn("sbatch failed", zap.String("job", sub.JobName), zap.Error(err))
		return "", &SubmissionError{Output: detail, Rejected: rejected, Err: err}
	}

	// --parsable prints "jobid" or "jobid;cluster".
	id := jobIDRe.FindString(strings.TrimSpace(out))
	if id == "" {
		return "", &SubmissionError{Output: strings.TrimSpace(out), Err: errUnparsable}
	}
	s.logger.Debug("probe submitted", zap.String("job", sub.JobName), zap.String("id", id))
	return id, nil
}

// Query asks squeue for the job's state, falling back to scontrol when the
// job has already left the queue.
func (s *Slurm) Query(ctx context.Context, probeID string) (QueryResult, error) {
	out, err := s.runner.Run(ctx, "squeue", "-j", probeID, "-h", "-o", "%T|%R")
	if err != nil {
		return QueryResult{State: StateUnknown}, &QueryError{ProbeID: probeID, Err: err}
	}

	line := strings.TrimSpace(out)
	if line != "" {
		state, detail, _ := strings.Cut(line, "|")
		return QueryResult{State: mapState(state), Detail: strings.TrimSpace(detail)}, nil
	}

	// Not in the queue anymore: resolve the terminal state via scontrol.
	return s.queryControl(ctx, probeID)
}

var jobStateFieldRe = regexp.MustCompile(`JobState=(\w+)`)

func (s *Slurm) queryControl(ctx context.Context, probeID string) (QueryResult, error) {
	out, err := s.runner.Run(ctx, "scontrol", "show", "job", probeID)
	if err != nil {
		// scontrol errors on purged jobs; Slurm reaps completed jobs from
		// its active tables quickly, so report completed rather than lost.
		return QueryResult{State: StateCompleted, Detail: "reaped"}, nil
	}
	m := jobStateFieldRe.FindStringSubmatch(out)
	if m == nil {
		return QueryResult{State: StateUnknown}, nil
	}
	return QueryResult{State: mapState(m[1]), Detail: "scontrol"}, nil
}

// Cancel runs scancel. A job the scheduler no longer knows about yields
// NotFoundError, which callers treat as success.
func (s *Slurm) Cancel(ctx context.Context, probeID string) error {
	_, err := s.runner.Run(ctx, "scancel", probeID)
	if err != nil {
		if strings.Contains(err.Error(), "Invalid job id") {
			return &NotFoundError{ProbeID: probeID}
		}
		return err
	}
	s.logger.Debug("probe cancelled", zap.String("id", probeID))
	return nil
}

func mapState(token string) JobState {
	token = strings.ToUpper(strings.TrimSpace(token))
	// squeue can suffix states, e.g. "CANCELLED by 123".
	if idx := strings.IndexByte(token, ' '); idx > 0 {
		token = token[:idx]
	}
	if st, ok := jobStateMap[token]; ok {
		return st
	}
	return StateUnknown
}

var errUnparsable = errors.New("unparsable sbatch output")
