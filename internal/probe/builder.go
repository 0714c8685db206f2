// Package probe builds trial job submissions and observes their fate.
package probe

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

// DefaultJobPrefix names probe jobs so they are recognizable in squeue and
// easy to clean up by hand.
const DefaultJobPrefix = "gpuscout-probe"

// DefaultProbeSleep is how long an admitted probe lingers before exiting.
// Long enough for the observer to catch the RUNNING state between polls,
// short enough that probes consume almost no scheduler capacity.
const DefaultProbeSleep = 60 * time.Second

// Builder turns a ProbeSpec into a submittable job description. The job
// body's sole purpose is to signal "I started": it touches a marker file
// named after the Slurm job id, then sleeps briefly and exits.
type Builder struct {
	JobPrefix  string
	MarkerDir  string
	ProbeSleep time.Duration
}

// NewBuilder creates a Builder with defaults filled in.
func NewBuilder(markerDir string) *Builder {
	return &Builder{
		JobPrefix:  DefaultJobPrefix,
		MarkerDir:  markerDir,
		ProbeSleep: DefaultProbeSleep,
	}
}

// Build produces the sbatch directives and wrap script for one probe.
// The probe requests exactly the resources under test; all directives are
// fixed at submission time and never mutated afterwards.
func (b *Builder) Build(spec domain.ProbeSpec) domain.Submission {
	prefix := b.JobPrefix
	if prefix == "" {
		prefix = DefaultJobPrefix
	}
	jobName := spec.JobName(prefix)

	args := []string{
		"--parsable",
		fmt.Sprintf("--cpus-per-task=%d", spec.CPUs),
		fmt.Sprintf("--time=%s", domain.FormatWalltime(spec.TimeWindow)),
		fmt.Sprintf("--account=%s", spec.Account),
		fmt.Sprintf("--mem=%s", spec.Memory),
		fmt.Sprintf("--job-name=%s", jobName),
	}
	if spec.GPUCount > 0 {
		args = append(args, fmt.Sprintf("--gres=gpu:%d", spec.GPUCount))
	}
	if spec.Partition != "" {
		args = append(args, fmt.Sprintf("--partition=%s", spec.Partition))
	}
	if spec.NotifyEmail != "" {
		args = append(args,
			fmt.Sprintf("--mail-user=%s", spec.NotifyEmail),
			"--mail-type=BEGIN",
		)
	}

	return domain.Submission{
		JobName: jobName,
		Args:    args,
		Script:  b.script(),
		Spec:    spec,
	}
}

func (b *Builder) script() string {
	sleep := b.ProbeSleep
	if sleep <= 0 {
		sleep = DefaultProbeSleep
	}
	seconds := int(sleep / time.Second)
	if b.MarkerDir == "" {
		return fmt.Sprintf("sleep %d", seconds)
	}
	marker := filepath.Join(b.MarkerDir, "${SLURM_JOB_ID}.started")
	return fmt.Sprintf("touch %s; sleep %d", marker, seconds)
}
