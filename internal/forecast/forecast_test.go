package forecast

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func slurmTime(t time.Time) string { return t.Format(slurmTimeLayout) }

func TestParseJobsFiltersAndFields(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	raw := strings.Join([]string{
		// Running GPU job with an allocation.
		fmt.Sprintf("JobId=101 JobState=RUNNING Partition=gpu StartTime=%s EndTime=%s TimeLimit=08:00:00 RunTime=02:00:00 NumNodes=1 NodeList=c0318 ReqTRES=cpu=8,mem=64G,gres/gpu=2 AllocTRES=cpu=8,mem=64G,gres/gpu=2",
			slurmTime(now.Add(-2*time.Hour)), slurmTime(now.Add(6*time.Hour))),
		// Pending with a scheduler estimate.
		fmt.Sprintf("JobId=102 JobState=PENDING Partition=gpu StartTime=%s EndTime=Unknown TimeLimit=04:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) SchedNodeList=c0319 ReqTRES=cpu=4,mem=32G,gres/gpu:a100=1",
			slurmTime(now.Add(time.Hour))),
		// Pending with no estimate.
		"JobId=103 JobState=PENDING Partition=gpu StartTime=Unknown EndTime=Unknown TimeLimit=02:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) ReqTRES=cpu=4,mem=32G,gres/gpu=1",
		// CPU-only job.
		"JobId=104 JobState=RUNNING Partition=cpu StartTime=Unknown EndTime=Unknown TimeLimit=01:00:00 RunTime=00:30:00 NumNodes=1 NodeList=c0001 ReqTRES=cpu=16,mem=64G",
		// Finished job.
		"JobId=105 JobState=COMPLETED Partition=gpu ReqTRES=cpu=4,gres/gpu=4",
	}, "\n")

	records := ParseJobs(raw)
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}

	running := records[0]
	if running.ID != 101 || !running.running() || running.ProjectedGPUs() != 2 {
		t.Errorf("running record = %+v", running)
	}
	if running.NodeExpr != "c0318" || running.RequestedCPUs != 8 {
		t.Errorf("running placement = %q cpus=%d", running.NodeExpr, running.RequestedCPUs)
	}
	if running.RequestedMem != 64*1024 {
		t.Errorf("mem = %d MiB, want 65536", running.RequestedMem)
	}

	pending := records[1]
	if pending.RequestedGPUs != 1 {
		t.Errorf("model-qualified gres not counted: %+v", pending)
	}
	if pending.NodeExpr != "c0319" {
		t.Errorf("pending should use the scheduled node list, got %q", pending.NodeExpr)
	}
	if pending.StartTime.IsZero() || !records[2].StartTime.IsZero() {
		t.Error("start time presence mixed up between jobs 102 and 103")
	}
}

func TestParseNodesCapacityAndAlloc(t *testing.T) {
	raw := strings.Join([]string{
		"NodeName=c0318 CPUAlloc=48 AllocMem=393216 Partitions=GPU*,quad CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=48,mem=384G,gres/gpu=2",
		// Alloc figures only present inside AllocTRES.
		"NodeName=c0319 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=12,mem=96G,gres/gpu=1",
		"NodeName=c0001 Partitions=cpu CfgTRES=cpu=128,mem=512G",
	}, "\n")

	nodes := ParseNodes(raw)
	if len(nodes) != 2 {
		t.Fatalf("nodes = %d, want 2 GPU nodes", len(nodes))
	}

	n := nodes["c0318"]
	if n.GPUs != 4 || n.CPUs != 48 || n.MemMiB != 384*1024 {
		t.Errorf("capacity = %+v", n)
	}
	if n.CPUAlloc != 48 || n.MemAllocMiB != 393216 || n.GPUAlloc != 2 {
		t.Errorf("alloc = %+v", n)
	}
	if !n.hostsPartition("gpu") || !n.hostsPartition("quad") {
		t.Errorf("partitions = %v, want default marker stripped and lowercased", n.Partitions)
	}
	if nodes["c0319"].CPUAlloc != 12 {
		t.Errorf("AllocTRES fallback cpu = %d, want 12", nodes["c0319"].CPUAlloc)
	}
}

func TestAvailabilityRecoversWhenJobsEnd(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rawJobs := strings.Join([]string{
		fmt.Sprintf("JobId=201 JobState=RUNNING Partition=gpu StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=02:00:00 NumNodes=1 NodeList=c0318 ReqTRES=cpu=8,mem=64G,gres/gpu=3 AllocTRES=cpu=8,mem=64G,gres/gpu=3",
			slurmTime(now.Add(-2*time.Hour)), slurmTime(now.Add(time.Hour))),
		fmt.Sprintf("JobId=202 JobState=PENDING Partition=gpu StartTime=%s EndTime=Unknown TimeLimit=01:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) ReqTRES=cpu=4,mem=32G,gres/gpu=2",
			slurmTime(now.Add(2*time.Hour))),
	}, "\n")
	nodes := ParseNodes("NodeName=c0318 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=8 AllocTRES=cpu=8,mem=64G,gres/gpu=3")

	svc := New(&fakeRunner{}, nil)
	snap, err := svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: 4 * time.Hour})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}

	if snap.Capacity != 8 {
		t.Fatalf("capacity = %d, want 8", snap.Capacity)
	}
	at := make(map[time.Duration]int)
	for _, p := range snap.Points {
		at[p.Offset] = p.Available
	}
	if at[0] != 5 {
		t.Errorf("now = %d available, want 5 with 3 GPUs running", at[0])
	}
	if at[90*time.Minute] != 8 {
		t.Errorf("+1.5h = %d, want 8 after the running job ends", at[90*time.Minute])
	}
	if at[2*time.Hour+30*time.Minute] != 6 {
		t.Errorf("+2.5h = %d, want 6 while the pending job holds 2", at[2*time.Hour+30*time.Minute])
	}
	if at[4*time.Hour] != 8 {
		t.Errorf("+4h = %d, want 8 after everything ends", at[4*time.Hour])
	}
	if snap.Stats.PendingWithStart != 1 || snap.Stats.RunningJobs != 1 {
		t.Errorf("stats = %+v", snap.Stats)
	}
}

func TestPendingWithoutStartIsCountedButNotProjected(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rawJobs := "JobId=301 JobState=PENDING Partition=gpu StartTime=Unknown EndTime=Unknown TimeLimit=02:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) ReqTRES=cpu=4,mem=32G,gres/gpu=4"
	nodes := ParseNodes("NodeName=c0318 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=8 AllocTRES=")

	svc := New(&fakeRunner{}, nil)
	snap, err := svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: time.Hour})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if snap.Stats.PendingWithoutStart != 1 || snap.Stats.Windows != 0 {
		t.Errorf("stats = %+v, want unplaceable pending job skipped", snap.Stats)
	}
	if snap.Current() != 8 {
		t.Errorf("current = %d, want full capacity", snap.Current())
	}
}

func TestPartitionFilterByNodeMembership(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rawJobs := strings.Join([]string{
		// On a quad node, partition field absent.
		fmt.Sprintf("JobId=401 JobState=RUNNING Partition=(null) StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=01:00:00 NumNodes=1 NodeList=q0001 ReqTRES=cpu=8,mem=64G,gres/gpu=2 AllocTRES=cpu=8,mem=64G,gres/gpu=2",
			slurmTime(now.Add(-time.Hour)), slurmTime(now.Add(3*time.Hour))),
		// Running elsewhere but declaring quad. The allocation wins.
		fmt.Sprintf("JobId=402 JobState=RUNNING Partition=quad StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=01:00:00 NumNodes=1 NodeList=c0318 ReqTRES=cpu=8,mem=64G,gres/gpu=2 AllocTRES=cpu=8,mem=64G,gres/gpu=2",
			slurmTime(now.Add(-time.Hour)), slurmTime(now.Add(3*time.Hour))),
		// Pending, declares the partition with scheduler casing.
		fmt.Sprintf("JobId=403 JobState=PENDING Partition=Quad StartTime=%s EndTime=Unknown TimeLimit=02:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) ReqTRES=cpu=4,mem=32G,gres/gpu=1",
			slurmTime(now.Add(time.Hour))),
	}, "\n")
	nodes := ParseNodes(strings.Join([]string{
		"NodeName=q0001 Partitions=Quad* CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=8,mem=64G,gres/gpu=2",
		"NodeName=c0318 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=8,mem=64G,gres/gpu=2",
	}, "\n"))

	svc := New(&fakeRunner{}, nil)
	snap, err := svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: time.Hour, Partition: "quad"})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}

	if snap.Capacity != 4 {
		t.Fatalf("capacity = %d, want the quad node only", snap.Capacity)
	}
	// Jobs 401 and 403 target quad; 402 runs outside it.
	if snap.Stats.ActiveJobs != 2 {
		t.Errorf("active = %d, want 2", snap.Stats.ActiveJobs)
	}
	if snap.Current() != 2 {
		t.Errorf("current = %d, want 2 with job 401 holding 2 of 4", snap.Current())
	}
}

func TestPartitionFilterLargeJobInference(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rawJobs := strings.Join([]string{
		fmt.Sprintf("JobId=501 JobState=PENDING Partition=(null) StartTime=%s EndTime=Unknown TimeLimit=02:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) ReqTRES=cpu=8,mem=64G,gres/gpu=4",
			slurmTime(now.Add(time.Hour))),
		fmt.Sprintf("JobId=502 JobState=PENDING Partition=(null) StartTime=%s EndTime=Unknown TimeLimit=02:00:00 RunTime=00:00:00 NumNodes=1 NodeList=(null) ReqTRES=cpu=8,mem=64G,gres/gpu=3",
			slurmTime(now.Add(time.Hour))),
	}, "\n")
	nodes := ParseNodes("NodeName=q0001 Partitions=quad CfgTRES=cpu=48,mem=384G,gres/gpu=8 AllocTRES=")

	svc := New(&fakeRunner{}, nil)
	snap, err := svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: time.Hour, Partition: "quad", InferLargeJobs: true})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	// Only the 4-GPU request counts toward the quad partition.
	if snap.Stats.ActiveJobs != 1 {
		t.Errorf("active = %d, want 1 inferred large job", snap.Stats.ActiveJobs)
	}

	snap, err = svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: time.Hour, Partition: "quad"})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if snap.Stats.ActiveJobs != 0 {
		t.Errorf("active = %d, want 0 without inference", snap.Stats.ActiveJobs)
	}
}

func TestFullNodeJobsProjectWholeNodeGPUs(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	// One GPU allocated, but every CPU on the node requested.
	rawJobs := fmt.Sprintf("JobId=601 JobState=RUNNING Partition=gpu StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=01:00:00 NumNodes=1 NodeList=c0318 ReqTRES=cpu=48,mem=64G,gres/gpu=1 AllocTRES=cpu=48,mem=64G,gres/gpu=1",
		slurmTime(now.Add(-time.Hour)), slurmTime(now.Add(3*time.Hour)))
	nodes := ParseNodes("NodeName=c0318 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=48,mem=64G,gres/gpu=1")

	svc := New(&fakeRunner{}, nil)
	snap, err := svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: time.Hour})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if snap.Stats.FullNodeJobs != 1 || snap.Stats.FullNodeExtraGPUs != 3 {
		t.Errorf("stats = %+v, want the 3 stranded GPUs attributed", snap.Stats)
	}
	if snap.Current() != 0 {
		t.Errorf("current = %d, want 0 while the node's CPUs are taken", snap.Current())
	}
}

func TestNodeLockBlocksFreeGPUsUntilFirstJobEnds(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	// Two running CPU-heavy GPU jobs exhaust the node's CPUs between them.
	rawJobs := strings.Join([]string{
		fmt.Sprintf("JobId=701 JobState=RUNNING Partition=gpu StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=01:00:00 NumNodes=1 NodeList=c0318 ReqTRES=cpu=24,mem=64G,gres/gpu=1 AllocTRES=cpu=24,mem=64G,gres/gpu=1",
			slurmTime(now.Add(-time.Hour)), slurmTime(now.Add(time.Hour))),
		fmt.Sprintf("JobId=702 JobState=RUNNING Partition=gpu StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=01:00:00 NumNodes=1 NodeList=c0318 ReqTRES=cpu=24,mem=64G,gres/gpu=1 AllocTRES=cpu=24,mem=64G,gres/gpu=1",
			slurmTime(now.Add(-time.Hour)), slurmTime(now.Add(3*time.Hour))),
	}, "\n")
	nodes := ParseNodes("NodeName=c0318 Partitions=gpu CPUAlloc=48 AllocMem=131072 CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=48,mem=128G,gres/gpu=2")

	svc := New(&fakeRunner{}, nil)
	snap, err := svc.build(context.Background(), now, rawJobs, nodes, Options{Horizon: 2 * time.Hour})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if snap.Stats.LockedNodes != 1 || snap.Stats.LockedGPUs != 2 {
		t.Errorf("stats = %+v, want the 2 free GPUs locked", snap.Stats)
	}
	if snap.Current() != 0 {
		t.Errorf("current = %d, want 0 while the node is CPU-full", snap.Current())
	}
	at := make(map[time.Duration]int)
	for _, p := range snap.Points {
		at[p.Offset] = p.Available
	}
	// Job 701 ends at +1h; its GPU and the lock release together.
	if at[90*time.Minute] != 3 {
		t.Errorf("+1.5h = %d, want 3 after the lock lifts", at[90*time.Minute])
	}
}

func TestTakeRunsScontrolAndExpandsHostRanges(t *testing.T) {
	now := time.Now()
	runner := &fakeRunner{responses: map[string]string{
		"scontrol show jobs -o": fmt.Sprintf("JobId=801 JobState=RUNNING Partition=gpu StartTime=%s EndTime=%s TimeLimit=04:00:00 RunTime=01:00:00 NumNodes=2 NodeList=c[0318-0319] ReqTRES=cpu=8,mem=64G,gres/gpu=4 AllocTRES=cpu=8,mem=64G,gres/gpu=4",
			slurmTime(now.Add(-time.Hour)), slurmTime(now.Add(3*time.Hour))),
		"scontrol show nodes -o": "NodeName=c0318 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=4,mem=32G,gres/gpu=2\n" +
			"NodeName=c0319 Partitions=gpu CfgTRES=cpu=48,mem=384G,gres/gpu=4 AllocTRES=cpu=4,mem=32G,gres/gpu=2",
		"scontrol show hostnames c[0318-0319]": "c0318\nc0319\n",
	}}

	svc := New(runner, nil)
	snap, err := svc.Take(context.Background(), Options{Horizon: time.Hour, Partition: "gpu"})
	if err != nil {
		t.Fatalf("Take error = %v", err)
	}
	if snap.Capacity != 8 || snap.Stats.ActiveJobs != 1 {
		t.Errorf("capacity = %d active = %d, want 8 and 1", snap.Capacity, snap.Stats.ActiveJobs)
	}
	expanded := false
	for _, call := range runner.calls {
		if call == "scontrol show hostnames c[0318-0319]" {
			expanded = true
		}
	}
	if !expanded {
		t.Error("node range should be expanded through scontrol")
	}
}

func TestFormatOffset(t *testing.T) {
	cases := map[time.Duration]string{
		0:                 "+0h",
		30 * time.Minute:  "+0.5h",
		2 * time.Hour:     "+2h",
		150 * time.Minute: "+2.5h",
	}
	for offset, want := range cases {
		if got := FormatOffset(offset); got != want {
			t.Errorf("FormatOffset(%v) = %q, want %q", offset, got, want)
		}
	}
}
