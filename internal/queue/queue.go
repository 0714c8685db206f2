// Package queue lists and manages the user's pending and running jobs for
// the dashboard.
package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/gateway"
)

const (
	stateRunning = "R"
	statePending = "PD"

	// squeueFormat selects id, state, name, elapsed, remaining, reason,
	// nodes and workdir as tab-separated columns.
	squeueFormat = "%i\t%t\t%j\t%M\t%L\t%R\t%N\t%Z"
)

// Job is one dashboard row derived from squeue output.
type Job struct {
	ID       string
	State    string
	Name     string
	TimeUsed string
	TimeLeft string
	Reason   string
	NodeList string
	WorkDir  string
}

// Running reports whether the job is currently running.
func (j Job) Running() bool { return j.State == stateRunning }

// Pending reports whether the job is waiting in the queue.
func (j Job) Pending() bool { return j.State == statePending }

// Service wraps the squeue/scancel surface used by the dashboard.
type Service struct {
	runner gateway.Runner
	logger *zap.Logger
}

func New(runner gateway.Runner, logger *zap.Logger) *Service {
	if runner == nil {
		runner = gateway.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{runner: runner, logger: logger}
}

// List returns the user's pending and running jobs, running first, then by
// descending job id so the newest submissions sit on top.
func (s *Service) List(ctx context.Context, user string) ([]Job, error) {
	out, err := s.runner.Run(ctx, "squeue", "-h", "-u", user, "-t", "PD,R", "-o", squeueFormat)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for %s: %w", user, err)
	}

	jobs := parseJobs(out)
	sort.SliceStable(jobs, func(i, j int) bool {
		ri, rj := rank(jobs[i]), rank(jobs[j])
		if ri != rj {
			return ri < rj
		}
		return jobID(jobs[i]) > jobID(jobs[j])
	})
	return jobs, nil
}

// Cancel cancels the given jobs, deduplicating ids first.
func (s *Service) Cancel(ctx context.Context, ids ...string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.runner.Run(ctx, "scancel", id); err != nil {
			return fmt.Errorf("cancelling %s: %w", id, err)
		}
		s.logger.Info("job cancelled", zap.String("id", id))
	}
	return nil
}

// PrimaryHost resolves the first host of a Slurm node list, expanding
// compressed ranges like "c[0318-0320]" via scontrol.
func (s *Service) PrimaryHost(ctx context.Context, nodeList string) (string, error) {
	nodeList = strings.TrimSpace(nodeList)
	if nodeList == "" {
		return "", fmt.Errorf("empty node list")
	}
	if !strings.ContainsAny(nodeList, "[,") {
		return nodeList, nil
	}

	out, err := s.runner.Run(ctx, "scontrol", "show", "hostnames", nodeList)
	if err != nil {
		return "", fmt.Errorf("expanding node list %q: %w", nodeList, err)
	}
	for _, line := range strings.Split(out, "\n") {
		if host := strings.TrimSpace(line); host != "" {
			return host, nil
		}
	}
	return "", fmt.Errorf("node list %q expanded to nothing", nodeList)
}

func parseJobs(out string) []Job {
	var jobs []Job
	for _, line := range strings.Split(out, "\n") {
		if job, ok := parseLine(line); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func parseLine(line string) (Job, bool) {
	pieces := strings.SplitN(line, "\t", 8)
	if len(pieces) != 8 {
		return Job{}, false
	}
	state := strings.TrimSpace(pieces[1])
	if state != stateRunning && state != statePending {
		return Job{}, false
	}
	return Job{
		ID:       strings.TrimSpace(pieces[0]),
		State:    state,
		Name:     strings.TrimSpace(pieces[2]),
		TimeUsed: strings.TrimSpace(pieces[3]),
		TimeLeft: strings.TrimSpace(pieces[4]),
		Reason:   strings.TrimSpace(pieces[5]),
		NodeList: strings.TrimSpace(pieces[6]),
		WorkDir:  strings.TrimSpace(pieces[7]),
	}, true
}

func rank(j Job) int {
	if j.Running() {
		return 0
	}
	return 1
}

func jobID(j Job) int {
	n, _ := strconv.Atoi(j.ID)
	return n
}
