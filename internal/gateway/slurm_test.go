package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

// fakeRunner records invocations and plays back canned responses keyed by
// command name.
type fakeRunner struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	return f.responses[name], nil
}

func testSubmission() domain.Submission {
	spec := domain.ProbeSpec{
		GPUCount: 2, TimeWindow: 30 * time.Minute,
		CPUs: 4, Memory: "50G", Account: "PAS1234", Phase: domain.PhaseGPU,
	}
	return domain.Submission{
		JobName: spec.JobName("gpuscout-probe"),
		Args:    []string{"--parsable", "--gres=gpu:2"},
		Script:  "sleep 60",
		Spec:    spec,
	}
}

func TestSlurmSubmitParsesJobID(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{"sbatch": "123456\n"}}
	gw := NewSlurm(runner, nil)

	id, err := gw.Submit(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if id != "123456" {
		t.Errorf("probe id = %q, want 123456", id)
	}
	if !strings.Contains(runner.calls[0], "--wrap sleep 60") {
		t.Errorf("sbatch call missing wrap script: %s", runner.calls[0])
	}
}

func TestSlurmSubmitParsesClusterSuffix(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{"sbatch": "98765;cluster\n"}}
	gw := NewSlurm(runner, nil)

	id, err := gw.Submit(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if id != "98765" {
		t.Errorf("probe id = %q, want 98765", id)
	}
}

func TestSlurmSubmitFailure(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"sbatch": fmt.Errorf("exit status 1"),
	}}
	gw := NewSlurm(runner, nil)

	_, err := gw.Submit(context.Background(), testSubmission())
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
}

func TestSlurmSubmitRejectionCarriesReason(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"sbatch": &commandError{
			err:    fmt.Errorf("exit status 1"),
			stderr: "sbatch: error: Batch job submission failed: Requested node configuration is not available",
		},
	}}
	gw := NewSlurm(runner, nil)

	_, err := gw.Submit(context.Background(), testSubmission())
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
	if !subErr.Rejected {
		t.Error("sbatch refusal should be classified as rejected")
	}
	if !strings.Contains(subErr.Output, "node configuration is not available") {
		t.Errorf("Output = %q, want sbatch stderr", subErr.Output)
	}
}

func TestSlurmSubmitMachineryFailureNotRejected(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"sbatch": fmt.Errorf("fork/exec sbatch: no such file or directory"),
	}}
	gw := NewSlurm(runner, nil)

	_, err := gw.Submit(context.Background(), testSubmission())
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
	if subErr.Rejected {
		t.Error("a failure to run sbatch at all is not a scheduler rejection")
	}
}

func TestSlurmSubmitUnparsableOutput(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{"sbatch": "Submitted batch job"}}
	gw := NewSlurm(runner, nil)

	_, err := gw.Submit(context.Background(), testSubmission())
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
}

func TestSlurmQueryStates(t *testing.T) {
	cases := []struct {
		squeue string
		want   JobState
	}{
		{"PENDING|Priority\n", StateQueued},
		{"RUNNING|c0318\n", StateRunning},
		{"COMPLETING|c0318\n", StateRunning},
		{"FAILED|NonZeroExitCode\n", StateFailed},
	}
	for _, c := range cases {
		runner := &fakeRunner{responses: map[string]string{"squeue": c.squeue}}
		gw := NewSlurm(runner, nil)
		res, err := gw.Query(context.Background(), "42")
		if err != nil {
			t.Fatalf("Query(%q) error = %v", c.squeue, err)
		}
		if res.State != c.want {
			t.Errorf("Query(%q) state = %s, want %s", c.squeue, res.State, c.want)
		}
	}
}

func TestSlurmQueryFallsBackToScontrol(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{
		"squeue":   "",
		"scontrol": "JobId=42 JobName=probe JobState=COMPLETED Reason=None",
	}}
	gw := NewSlurm(runner, nil)

	res, err := gw.Query(context.Background(), "42")
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if res.State != StateCompleted {
		t.Errorf("state = %s, want completed", res.State)
	}
}

func TestSlurmQueryReapedJob(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]string{"squeue": ""},
		errs:      map[string]error{"scontrol": fmt.Errorf("slurm_load_jobs error: Invalid job id specified")},
	}
	gw := NewSlurm(runner, nil)

	res, err := gw.Query(context.Background(), "42")
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if res.State != StateCompleted {
		t.Errorf("reaped job state = %s, want completed", res.State)
	}
}

func TestSlurmQueryCommandFailure(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"squeue": fmt.Errorf("connection refused")}}
	gw := NewSlurm(runner, nil)

	_, err := gw.Query(context.Background(), "42")
	var qErr *QueryError
	if !errors.As(err, &qErr) {
		t.Fatalf("error = %v, want QueryError", err)
	}
}

func TestSlurmQueryIdempotentTerminalState(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{
		"squeue":   "",
		"scontrol": "JobState=COMPLETED",
	}}
	gw := NewSlurm(runner, nil)

	for i := 0; i < 3; i++ {
		res, err := gw.Query(context.Background(), "42")
		if err != nil {
			t.Fatalf("Query #%d error = %v", i, err)
		}
		if res.State != StateCompleted {
			t.Errorf("Query #%d state = %s, want completed", i, res.State)
		}
	}
}

func TestSlurmCancelNotFound(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"scancel": fmt.Errorf("scancel: error: Invalid job id 42")}}
	gw := NewSlurm(runner, nil)

	err := gw.Cancel(context.Background(), "42")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestSlurmCancelOK(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{"scancel": ""}}
	gw := NewSlurm(runner, nil)

	if err := gw.Cancel(context.Background(), "42"); err != nil {
		t.Errorf("Cancel error = %v", err)
	}
}

func TestMapStateUnknownToken(t *testing.T) {
	if got := mapState("SPECIAL_EXIT"); got != StateUnknown {
		t.Errorf("mapState = %s, want unknown", got)
	}
	if got := mapState("CANCELLED by 1000"); got != StateFailed {
		t.Errorf("mapState = %s, want failed", got)
	}
}
