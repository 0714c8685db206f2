// Package forecast projects cluster-wide GPU availability from live
// scheduler state: running and pending GPU jobs occupy capacity until their
// projected end times, and what remains is free.
package forecast

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/gateway"
)

// JobRecord is one active GPU job parsed from `scontrol show jobs -o`.
type JobRecord struct {
	ID             int
	State          string // RUNNING or PENDING
	RequestedGPUs  int
	AllocatedGPUs  int
	StartTime      time.Time // zero when the scheduler has no estimate
	EndTime        time.Time
	TimeLimit      time.Duration
	RunTime        time.Duration
	RequestedCPUs  int
	RequestedMem   int // MiB
	RequestedNodes int
	NodeExpr       string
	Partitions     []string
}

// ProjectedGPUs is the occupancy a job contributes to the forecast.
func (r JobRecord) ProjectedGPUs() int {
	if r.State == "RUNNING" && r.AllocatedGPUs > 0 {
		return r.AllocatedGPUs
	}
	return r.RequestedGPUs
}

func (r JobRecord) running() bool { return r.State == "RUNNING" }

// projectedEnd is when the job's GPUs come back: the scheduler's end
// estimate, or start plus remaining walltime.
func (r JobRecord) projectedEnd(now time.Time) time.Time {
	if !r.EndTime.IsZero() {
		return r.EndTime
	}
	if r.running() {
		left := r.TimeLimit - r.RunTime
		if left < 0 {
			left = 0
		}
		return now.Add(left)
	}
	return r.StartTime.Add(r.TimeLimit)
}

// NodeCapacity is one GPU node parsed from `scontrol show nodes -o`.
type NodeCapacity struct {
	Name        string
	CPUs        int
	MemMiB      int
	GPUs        int
	CPUAlloc    int
	MemAllocMiB int
	GPUAlloc    int
	Partitions  []string
}

func (n NodeCapacity) hostsPartition(name string) bool {
	for _, p := range n.Partitions {
		if p == name {
			return true
		}
	}
	return false
}

// Window is one GPU occupancy interval [Start, End).
type Window struct {
	JobID int
	GPUs  int
	Start time.Time
	End   time.Time
}

// Stats summarizes forecast coverage for headers and logs.
type Stats struct {
	ActiveJobs          int
	RunningJobs         int
	PendingJobs         int
	PendingWithStart    int
	PendingWithoutStart int
	Windows             int
	// Full-node corrections: jobs whose CPU or memory request locks whole
	// nodes so their free GPUs are unschedulable anyway.
	FullNodeJobs      int
	FullNodeExtraGPUs int
	LockedNodes       int
	LockedGPUs        int
}

func (s Stats) Summary() string {
	return fmt.Sprintf("active=%d running=%d pending=%d pending_known_start=%d pending_unknown_start=%d full_node_jobs=%d node_locks=%d",
		s.ActiveJobs, s.RunningJobs, s.PendingJobs,
		s.PendingWithStart, s.PendingWithoutStart,
		s.FullNodeJobs, s.LockedNodes)
}

// ParseJobs extracts active GPU job records from raw scontrol job output.
// Jobs that are neither RUNNING nor PENDING, or request no GPUs, are out.
func ParseJobs(raw string) []JobRecord {
	var records []JobRecord
	for _, line := range strings.Split(raw, "\n") {
		fields := parseFields(line)
		state := fields["JobState"]
		if state != "RUNNING" && state != "PENDING" {
			continue
		}
		reqTRES := fields["ReqTRES"]
		gpus := parseGPUCount(reqTRES)
		if gpus <= 0 {
			continue
		}
		id, err := strconv.Atoi(fields["JobId"])
		if err != nil {
			continue
		}
		start, _ := parseSlurmTime(fields["StartTime"])
		end, _ := parseSlurmTime(fields["EndTime"])
		records = append(records, JobRecord{
			ID:             id,
			State:          state,
			RequestedGPUs:  gpus,
			AllocatedGPUs:  parseGPUCount(fields["AllocTRES"]),
			StartTime:      start,
			EndTime:        end,
			TimeLimit:      parseLimit(fields["TimeLimit"]),
			RunTime:        parseLimit(fields["RunTime"]),
			RequestedCPUs:  parseTRESInt(reqTRES, "cpu"),
			RequestedMem:   parseTRESMemMiB(reqTRES),
			RequestedNodes: parseNodeCount(fields["NumNodes"]),
			NodeExpr:       nodeExpr(state, fields),
			Partitions:     parsePartitions(fields["Partition"]),
		})
	}
	return records
}

// nodeExpr picks the node expression by state: a running job's allocation is
// authoritative, a pending job only has the scheduler's plan.
func nodeExpr(state string, fields map[string]string) string {
	keys := []string{"SchedNodeList", "NodeList"}
	if state == "RUNNING" {
		keys = []string{"NodeList", "SchedNodeList"}
	}
	for _, key := range keys {
		if v := fields[key]; !unset(v) {
			return v
		}
	}
	return ""
}

// ParseNodes extracts GPU node capacities from raw scontrol node output.
// Nodes without GPUs are out; they never affect GPU availability.
func ParseNodes(raw string) map[string]NodeCapacity {
	nodes := make(map[string]NodeCapacity)
	for _, line := range strings.Split(raw, "\n") {
		fields := parseFields(line)
		cfg := fields["CfgTRES"]
		gpus := parseGPUCount(cfg)
		if gpus <= 0 {
			continue
		}
		name := fields["NodeName"]
		cpus := parseTRESInt(cfg, "cpu")
		mem := parseTRESMemMiB(cfg)
		if name == "" || cpus <= 0 || mem <= 0 {
			continue
		}
		alloc := fields["AllocTRES"]
		cpuAlloc, _ := strconv.Atoi(fields["CPUAlloc"])
		if cpuAlloc <= 0 {
			cpuAlloc = parseTRESInt(alloc, "cpu")
		}
		memAlloc, _ := strconv.Atoi(fields["AllocMem"])
		if memAlloc <= 0 {
			memAlloc = parseTRESMemMiB(alloc)
		}
		nodes[name] = NodeCapacity{
			Name:        name,
			CPUs:        cpus,
			MemMiB:      mem,
			GPUs:        gpus,
			CPUAlloc:    cpuAlloc,
			MemAllocMiB: memAlloc,
			GPUAlloc:    parseGPUCount(alloc),
			Partitions:  parsePartitions(fields["Partitions"]),
		}
	}
	return nodes
}

// partitionNodes keeps the nodes hosting one partition.
func partitionNodes(nodes map[string]NodeCapacity, partition string) map[string]NodeCapacity {
	target := strings.ToLower(partition)
	subset := make(map[string]NodeCapacity)
	for name, node := range nodes {
		if node.hostsPartition(target) {
			subset[name] = node
		}
	}
	return subset
}

func totalGPUs(nodes map[string]NodeCapacity) int {
	total := 0
	for _, node := range nodes {
		total += node.GPUs
	}
	return total
}

// Options frames one forecast computation.
type Options struct {
	// Horizon bounds how far ahead availability is projected.
	Horizon time.Duration
	// Partition restricts the forecast to one partition's nodes and jobs.
	Partition string
	// InferLargeJobs counts partition-less jobs requesting more than three
	// GPUs toward the target partition. Useful for quad-GPU partitions whose
	// jobs often omit the partition field.
	InferLargeJobs bool
}

// Service computes availability snapshots against live scheduler state.
type Service struct {
	runner    gateway.Runner
	logger    *zap.Logger
	hostCache map[string][]string
}

// New creates a forecast service. A nil runner uses the real scontrol.
func New(runner gateway.Runner, logger *zap.Logger) *Service {
	if runner == nil {
		runner = gateway.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{runner: runner, logger: logger, hostCache: make(map[string][]string)}
}

// Take computes one availability snapshot.
func (s *Service) Take(ctx context.Context, opts Options) (*Snapshot, error) {
	if opts.Horizon <= 0 {
		opts.Horizon = 8 * time.Hour
	}

	rawJobs, err := s.runner.Run(ctx, "scontrol", "show", "jobs", "-o")
	if err != nil {
		return nil, fmt.Errorf("reading jobs: %w", err)
	}
	rawNodes, err := s.runner.Run(ctx, "scontrol", "show", "nodes", "-o")
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", err)
	}

	now := time.Now()
	return s.build(ctx, now, rawJobs, ParseNodes(rawNodes), opts)
}

func (s *Service) build(ctx context.Context, now time.Time, rawJobs string, nodes map[string]NodeCapacity, opts Options) (*Snapshot, error) {
	records := ParseJobs(rawJobs)
	if opts.Partition != "" {
		nodes = partitionNodes(nodes, opts.Partition)
		records = s.filterForPartition(ctx, records, opts.Partition, nodes, opts.InferLargeJobs)
	}

	windows, stats := s.collectWindows(ctx, records, nodes, now)
	capacity := totalGPUs(nodes)
	points := samplePoints(windows, now, capacity, opts.Horizon)

	return &Snapshot{
		GeneratedAt: now,
		Capacity:    capacity,
		Points:      points,
		Stats:       stats,
	}, nil
}

// filterForPartition keeps jobs expected to occupy the partition: placed on
// its nodes, declaring it, or (optionally) large partition-less requests.
func (s *Service) filterForPartition(ctx context.Context, records []JobRecord, partition string, nodes map[string]NodeCapacity, inferLarge bool) []JobRecord {
	target := strings.ToLower(partition)
	var kept []JobRecord
	for _, r := range records {
		if s.targetsPartition(ctx, r, target, nodes, inferLarge) {
			kept = append(kept, r)
		}
	}
	return kept
}

func (s *Service) targetsPartition(ctx context.Context, r JobRecord, target string, nodes map[string]NodeCapacity, inferLarge bool) bool {
	hosts := s.expandHosts(ctx, r.NodeExpr)
	if len(hosts) > 0 {
		for _, host := range hosts {
			if _, ok := nodes[host]; ok {
				return true
			}
		}
		// A running allocation outside the partition settles it.
		if r.running() {
			return false
		}
	}
	for _, p := range r.Partitions {
		if p == target {
			return true
		}
	}
	if len(r.Partitions) > 0 {
		return false
	}
	return inferLarge && r.RequestedGPUs > 3
}

// collectWindows converts records into occupancy windows, applying the
// full-node correction and node-lock windows so availability is not
// overstated on nodes whose CPUs or memory are already exhausted.
func (s *Service) collectWindows(ctx context.Context, records []JobRecord, nodes map[string]NodeCapacity, now time.Time) ([]Window, Stats) {
	var windows []Window
	stats := Stats{ActiveJobs: len(records)}

	for _, r := range records {
		if r.running() {
			stats.RunningJobs++
		} else {
			stats.PendingJobs++
			if r.StartTime.IsZero() {
				// No scheduler estimate; the job cannot be placed in time.
				stats.PendingWithoutStart++
				continue
			}
			stats.PendingWithStart++
		}

		gpus, adjusted := s.adjustedGPUs(ctx, r, nodes)
		if adjusted {
			stats.FullNodeJobs++
			stats.FullNodeExtraGPUs += gpus - r.ProjectedGPUs()
		}
		if w, ok := windowFor(r, now, gpus); ok {
			windows = append(windows, w)
		}
	}

	locks, lockedNodes, lockedGPUs := s.nodeLockWindows(ctx, records, nodes, now)
	windows = append(windows, locks...)
	stats.LockedNodes = lockedNodes
	stats.LockedGPUs = lockedGPUs
	stats.Windows = len(windows)
	return windows, stats
}

func windowFor(r JobRecord, now time.Time, gpus int) (Window, bool) {
	if gpus <= 0 {
		return Window{}, false
	}
	start := now
	if !r.running() {
		start = r.StartTime
		if start.Before(now) {
			start = now
		}
	}
	end := r.projectedEnd(now)
	if !end.After(start) {
		return Window{}, false
	}
	return Window{JobID: r.ID, GPUs: gpus, Start: start, End: end}, true
}

// adjustedGPUs raises a job's projected occupancy to whole nodes when its
// CPU or memory request effectively consumes them, since the leftover GPUs
// on those nodes cannot be scheduled.
func (s *Service) adjustedGPUs(ctx context.Context, r JobRecord, nodes map[string]NodeCapacity) (int, bool) {
	base := r.ProjectedGPUs()
	var caps []NodeCapacity
	for _, host := range s.expandHosts(ctx, r.NodeExpr) {
		if node, ok := nodes[host]; ok {
			caps = append(caps, node)
		}
	}
	if len(caps) == 0 {
		return base, false
	}
	nodeGPUs := 0
	for _, node := range caps {
		nodeGPUs += node.GPUs
	}
	if base >= nodeGPUs || !fullNodeByResources(r, caps) {
		return base, false
	}
	return nodeGPUs, true
}

func fullNodeByResources(r JobRecord, caps []NodeCapacity) bool {
	nodeCount := r.RequestedNodes
	if nodeCount <= 0 {
		nodeCount = len(caps)
	}
	cpuPerNode := float64(r.RequestedCPUs) / float64(nodeCount)
	memPerNode := float64(r.RequestedMem) / float64(nodeCount)
	for _, node := range caps {
		if r.RequestedCPUs > 0 && cpuPerNode >= float64(node.CPUs) {
			return true
		}
		if r.RequestedMem > 0 && memPerNode >= float64(node.MemMiB)*0.98 {
			return true
		}
	}
	return false
}

// nodeLockWindows blocks the free GPUs of nodes whose CPUs or memory are
// exhausted by multiple running jobs, until the first of them finishes.
func (s *Service) nodeLockWindows(ctx context.Context, records []JobRecord, nodes map[string]NodeCapacity, now time.Time) ([]Window, int, int) {
	ends := make(map[string][]time.Time)
	jobsOn := make(map[string]map[int]bool)
	for _, r := range records {
		if !r.running() {
			continue
		}
		end := r.projectedEnd(now)
		if !end.After(now) {
			continue
		}
		for _, host := range s.expandHosts(ctx, r.NodeExpr) {
			if _, ok := nodes[host]; !ok {
				continue
			}
			ends[host] = append(ends[host], end)
			if jobsOn[host] == nil {
				jobsOn[host] = make(map[int]bool)
			}
			jobsOn[host][r.ID] = true
		}
	}

	var locks []Window
	lockedGPUs := 0
	for host, hostEnds := range ends {
		node := nodes[host]
		free := node.GPUs - node.GPUAlloc
		cpuFull := node.CPUAlloc >= node.CPUs
		memFull := node.MemAllocMiB >= int(float64(node.MemMiB)*0.98)
		if free <= 0 || !(cpuFull || memFull) || len(jobsOn[host]) < 2 {
			continue
		}
		unlock := hostEnds[0]
		for _, end := range hostEnds[1:] {
			if end.Before(unlock) {
				unlock = end
			}
		}
		if !unlock.After(now) {
			continue
		}
		locks = append(locks, Window{JobID: -(len(locks) + 1), GPUs: free, Start: now, End: unlock})
		lockedGPUs += free
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].End.Before(locks[j].End) })
	return locks, len(locks), lockedGPUs
}

// expandHosts resolves a node expression into hostnames, caching scontrol
// lookups for the lifetime of one snapshot.
func (s *Service) expandHosts(ctx context.Context, expr string) []string {
	if unset(expr) {
		return nil
	}
	if !strings.ContainsAny(expr, "[,") {
		return []string{expr}
	}
	if hosts, ok := s.hostCache[expr]; ok {
		return hosts
	}
	out, err := s.runner.Run(ctx, "scontrol", "show", "hostnames", expr)
	if err != nil {
		s.logger.Warn("node expression expansion failed", zap.String("expr", expr), zap.Error(err))
		s.hostCache[expr] = nil
		return nil
	}
	var hosts []string
	for _, line := range strings.Split(out, "\n") {
		if host := strings.TrimSpace(line); host != "" {
			hosts = append(hosts, host)
		}
	}
	s.hostCache[expr] = hosts
	return hosts
}
