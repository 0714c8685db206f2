// Package launch starts interactive and held Slurm allocations sized by a
// discovered resource bound.
package launch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/domain"
	"github.com/osctools/gpuscout/internal/gateway"
)

// jobIDRe matches the allocation line srun prints on stderr,
// e.g. "srun: job 12345 queued and waiting for resources".
var jobIDRe = regexp.MustCompile(`job\s+(\d+)`)

// DefaultJobIDWait bounds how long Hold waits for srun to print a job id.
const DefaultJobIDWait = 10 * time.Second

// Spec sizes one allocation.
type Spec struct {
	GPUs    int
	CPUs    int
	Time    time.Duration
	Account string
	Memory  string
	JobName string
}

// FromResult sizes an allocation to a discovered search result.
func FromResult(res *domain.SearchResult, cpus int, mem, account, jobName string) Spec {
	return Spec{
		GPUs:    res.MaxAdmittedGPUs,
		CPUs:    cpus,
		Time:    res.MaxAdmittedTime,
		Account: account,
		Memory:  mem,
		JobName: jobName,
	}
}

// SrunArgs builds the interactive srun command for a terminal session.
func SrunArgs(spec Spec, shell string) []string {
	args := []string{"srun"}
	if spec.GPUs > 0 {
		args = append(args, fmt.Sprintf("--gres=gpu:%d", spec.GPUs))
	}
	args = append(args,
		fmt.Sprintf("--cpus-per-task=%d", spec.CPUs),
		"--time="+domain.FormatWalltime(spec.Time),
		"--account="+spec.Account,
		"--mem="+spec.Memory,
	)
	if spec.JobName != "" {
		args = append(args, "--job-name="+spec.JobName)
	}
	return append(args, "--pty", shell)
}

// Allocation is a background srun holding resources until released.
type Allocation struct {
	JobID string
	cmd   *exec.Cmd
}

// Launcher starts and inspects allocations.
type Launcher struct {
	runner    gateway.Runner
	logger    *zap.Logger
	jobIDWait time.Duration
}

func New(runner gateway.Runner, logger *zap.Logger) *Launcher {
	if runner == nil {
		runner = gateway.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{runner: runner, logger: logger, jobIDWait: DefaultJobIDWait}
}

// Hold starts a background srun that sleeps forever, parking the granted
// resources until the allocation is cancelled. It returns once srun has
// printed the job id on stderr.
func (l *Launcher) Hold(ctx context.Context, spec Spec) (*Allocation, error) {
	args := SrunArgs(spec, "sleep")[1:]
	args = append(args, "infinity")

	cmd := exec.CommandContext(ctx, "srun", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting srun: %w", err)
	}

	jobID, err := scanJobID(stderr, l.jobIDWait)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("waiting for allocation: %w", err)
	}

	// Keep draining stderr so srun never blocks on a full pipe.
	go func() {
		_, _ = io.Copy(io.Discard, stderr)
	}()

	l.logger.Info("allocation held",
		zap.String("job", jobID),
		zap.Int("gpus", spec.GPUs),
		zap.String("time", domain.FormatWalltime(spec.Time)))
	return &Allocation{JobID: jobID, cmd: cmd}, nil
}

// Release cancels the held allocation and reaps the srun process.
func (l *Launcher) Release(ctx context.Context, alloc *Allocation) error {
	if _, err := l.runner.Run(ctx, "scancel", alloc.JobID); err != nil {
		return fmt.Errorf("releasing %s: %w", alloc.JobID, err)
	}
	if alloc.cmd != nil {
		_ = alloc.cmd.Wait()
	}
	return nil
}

// NodeForJob resolves the first node a job runs on, falling back to
// scontrol when the job has details squeue does not show.
func (l *Launcher) NodeForJob(ctx context.Context, jobID string) (string, error) {
	out, err := l.runner.Run(ctx, "squeue", "-j", jobID, "-h", "-o", "%N")
	if err == nil {
		if fields := strings.Fields(out); len(fields) > 0 {
			return fields[0], nil
		}
	}
	return l.nodeViaControl(ctx, jobID)
}

var nodeListRe = regexp.MustCompile(`NodeList=([\w\-,\[\]]+)`)

func (l *Launcher) nodeViaControl(ctx context.Context, jobID string) (string, error) {
	out, err := l.runner.Run(ctx, "scontrol", "show", "job", jobID)
	if err != nil {
		return "", fmt.Errorf("looking up node for %s: %w", jobID, err)
	}
	m := nodeListRe.FindStringSubmatch(out)
	if m == nil || m[1] == "(null)" {
		return "", fmt.Errorf("job %s has no assigned node", jobID)
	}
	expanded, err := l.runner.Run(ctx, "scontrol", "show", "hostnames", m[1])
	if err != nil {
		return "", fmt.Errorf("expanding node list for %s: %w", jobID, err)
	}
	for _, line := range strings.Split(expanded, "\n") {
		if host := strings.TrimSpace(line); host != "" {
			return host, nil
		}
	}
	return "", fmt.Errorf("job %s has no assigned node", jobID)
}

// scanJobID reads srun's stderr line by line until the allocation message
// appears or the wait budget runs out.
func scanJobID(r io.Reader, wait time.Duration) (string, error) {
	type scanResult struct {
		id  string
		err error
	}
	ch := make(chan scanResult, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if m := jobIDRe.FindStringSubmatch(scanner.Text()); m != nil {
				ch <- scanResult{id: m[1]}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- scanResult{err: err}
			return
		}
		ch <- scanResult{err: fmt.Errorf("srun exited before reporting a job id")}
	}()

	select {
	case res := <-ch:
		return res.id, res.err
	case <-time.After(wait):
		return "", fmt.Errorf("no job id within %s", wait)
	}
}
