package runstore

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/osctools/gpuscout/internal/domain"
)

func testRunBounds() domain.SearchBounds {
	return domain.SearchBounds{
		GPUMin: 1, GPUMax: 8,
		TimeMin: time.Hour, TimeMax: 48 * time.Hour,
		Account: "PAS1234", Partition: "gpudebug",
	}
}

func TestStore_BeginFinishGet(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	id := uuid.NewString()
	started := time.Now()
	if err := store.Begin(id, testRunBounds(), started); err != nil {
		t.Fatal(err)
	}

	res := &domain.SearchResult{
		MaxAdmittedGPUs: 4,
		MaxAdmittedTime: 36 * time.Hour,
		GPUTrace: domain.SearchTrace{
			{Spec: domain.ProbeSpec{GPUCount: 4, TimeWindow: 30 * time.Minute, Phase: domain.PhaseGPU}, ProbeID: "1001", Outcome: domain.OutcomeAdmitted, SubmittedAt: started, ResolvedAt: started.Add(time.Minute)},
			{Spec: domain.ProbeSpec{GPUCount: 6, TimeWindow: 30 * time.Minute, Phase: domain.PhaseGPU}, ProbeID: "1002", Outcome: domain.OutcomePendingTimeout, SubmittedAt: started, ResolvedAt: started.Add(2 * time.Minute)},
		},
		TimeTrace: domain.SearchTrace{
			{Spec: domain.ProbeSpec{GPUCount: 4, TimeWindow: 36 * time.Hour, Phase: domain.PhaseTime}, ProbeID: "1003", Outcome: domain.OutcomeAdmitted, SubmittedAt: started, ResolvedAt: started.Add(3 * time.Minute)},
		},
		GPUConfirmed:  true,
		TimeConfirmed: true,
		StartedAt:     started,
		FinishedAt:    started.Add(5 * time.Minute),
	}
	if err := store.Finish(id, StatusFinished, "", res); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFinished {
		t.Errorf("status = %s, want finished", got.Status)
	}
	if got.Bounds.Account != "PAS1234" {
		t.Errorf("account = %q", got.Bounds.Account)
	}
	if got.Bounds.TimeMax != 48*time.Hour {
		t.Errorf("time max = %s, want 48h", got.Bounds.TimeMax)
	}
	if got.Result == nil {
		t.Fatal("result not loaded")
	}
	if got.Result.MaxAdmittedGPUs != 4 {
		t.Errorf("max gpus = %d, want 4", got.Result.MaxAdmittedGPUs)
	}
	if got.Result.MaxAdmittedTime != 36*time.Hour {
		t.Errorf("max time = %s, want 36h", got.Result.MaxAdmittedTime)
	}
	if len(got.Result.GPUTrace) != 2 {
		t.Errorf("gpu trials = %d, want 2", len(got.Result.GPUTrace))
	}
	if len(got.Result.TimeTrace) != 1 {
		t.Errorf("time trials = %d, want 1", len(got.Result.TimeTrace))
	}
	if got.Result.GPUTrace[1].Outcome != domain.OutcomePendingTimeout {
		t.Errorf("second gpu trial = %s, want pending-timeout", got.Result.GPUTrace[1].Outcome)
	}
	if got.Result.GPUTrace[0].Spec.TimeWindow != 30*time.Minute {
		t.Errorf("trial time window = %s, want 30m", got.Result.GPUTrace[0].Spec.TimeWindow)
	}
}

func TestStore_AbortedRunKeepsError(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	id := uuid.NewString()
	if err := store.Begin(id, testRunBounds(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(id, StatusAborted, "sbatch: command not found", nil); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusAborted {
		t.Errorf("status = %s, want aborted", got.Status)
	}
	if got.Error != "sbatch: command not found" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	bounds := testRunBounds()
	otherAccount := bounds
	otherAccount.Account = "PAS9999"

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	now := time.Now()
	if err := store.Begin(ids[0], bounds, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Begin(ids[1], bounds, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Begin(ids[2], otherAccount, now); err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(ids[0], StatusFinished, "", &domain.SearchResult{MaxAdmittedGPUs: 2, FinishedAt: now}); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListRuns(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all runs = %d, want 3", len(all))
	}
	if all[0].ID != ids[2] {
		t.Error("runs not ordered newest first")
	}

	byAccount, err := store.ListRuns(ListOptions{Account: "PAS1234"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAccount) != 2 {
		t.Errorf("account-filtered runs = %d, want 2", len(byAccount))
	}

	finished, err := store.ListRuns(ListOptions{Status: StatusFinished})
	if err != nil {
		t.Fatal(err)
	}
	if len(finished) != 1 {
		t.Errorf("finished runs = %d, want 1", len(finished))
	}

	limited, err := store.ListRuns(ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited runs = %d, want 1", len(limited))
	}
}
