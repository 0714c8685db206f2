package probe

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func TestBuilderBuild(t *testing.T) {
	b := NewBuilder("/fs/scratch/markers")
	spec := domain.ProbeSpec{
		GPUCount:    4,
		TimeWindow:  30 * time.Minute,
		CPUs:        8,
		Memory:      "50G",
		Account:     "PAS1234",
		NotifyEmail: "user@example.edu",
		Phase:       domain.PhaseGPU,
	}

	sub := b.Build(spec)

	if sub.JobName != "30m-g4-gpuscout-probe" {
		t.Errorf("job name = %q", sub.JobName)
	}
	args := strings.Join(sub.Args, " ")
	for _, want := range []string{
		"--parsable",
		"--gres=gpu:4",
		"--cpus-per-task=8",
		"--time=00:30:00",
		"--account=PAS1234",
		"--mem=50G",
		"--job-name=30m-g4-gpuscout-probe",
		"--mail-user=user@example.edu",
		"--mail-type=BEGIN",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
	if !strings.Contains(sub.Script, "touch /fs/scratch/markers/${SLURM_JOB_ID}.started") {
		t.Errorf("script missing marker touch: %s", sub.Script)
	}
	if !strings.Contains(sub.Script, "sleep 60") {
		t.Errorf("script missing sleep: %s", sub.Script)
	}
}

func TestBuilderZeroGPUOmitsGres(t *testing.T) {
	b := NewBuilder("")
	sub := b.Build(domain.ProbeSpec{
		TimeWindow: 10 * time.Minute, CPUs: 1, Memory: "8G", Account: "P1",
	})
	if strings.Contains(strings.Join(sub.Args, " "), "--gres") {
		t.Error("gres flag present for zero gpus")
	}
	if sub.Script != "sleep 60" {
		t.Errorf("script = %q, want plain sleep without marker dir", sub.Script)
	}
}

func TestBuilderPartitionFlag(t *testing.T) {
	b := NewBuilder("")
	sub := b.Build(domain.ProbeSpec{
		GPUCount: 1, TimeWindow: 10 * time.Minute, CPUs: 1,
		Memory: "8G", Account: "P1", Partition: "gpudebug",
	})
	if !strings.Contains(strings.Join(sub.Args, " "), "--partition=gpudebug") {
		t.Error("partition flag missing")
	}
}

func TestMarkerWatcher(t *testing.T) {
	dir := t.TempDir()
	mw, err := NewMarkerWatcher(dir)
	if err != nil {
		t.Fatalf("NewMarkerWatcher: %v", err)
	}
	defer mw.Close()

	if mw.Started("77") {
		t.Error("marker seen before file exists")
	}

	if err := writeFile(dir+"/77.started", nil); err != nil {
		t.Fatalf("writing marker: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !mw.Started("77") {
		if time.Now().After(deadline) {
			t.Fatal("marker never observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
