package search

import (
	"fmt"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

// DegenerateSearchError flags a phase that probed at least once and never
// saw an admission: the discovered bound is just the unprobed lower bound,
// so reporting it as a maximum would be misleading.
type DegenerateSearchError struct {
	Phase  domain.ProbePhase
	Result *domain.SearchResult
}

func (e *DegenerateSearchError) Error() string {
	return fmt.Sprintf("%s never saw an admission; result rests on the unprobed lower bound", e.Phase)
}

type aggregateInput struct {
	bounds    domain.SearchBounds
	gpuRan    bool
	timeRan   bool
	maxGPUs   int
	maxTime   time.Duration
	gpuTrace  domain.SearchTrace
	timeTrace domain.SearchTrace
	started   time.Time
}

// aggregate assembles the final result and decides whether each bound was
// actually witnessed. A phase whose interval was already degenerate (a
// single candidate) runs zero trials and its bound counts as confirmed by
// construction. A phase that ran trials but admitted none returns the
// result wrapped in DegenerateSearchError so callers can caveat it.
func aggregate(in aggregateInput) (*domain.SearchResult, error) {
	res := &domain.SearchResult{
		MaxAdmittedGPUs: in.maxGPUs,
		MaxAdmittedTime: in.maxTime,
		GPUTrace:        in.gpuTrace,
		TimeTrace:       in.timeTrace,
		StartedAt:       in.started,
		FinishedAt:      time.Now(),
	}

	res.GPUConfirmed = !in.gpuRan || len(in.gpuTrace) == 0 || in.gpuTrace.Admissions() > 0
	res.TimeConfirmed = !in.timeRan || len(in.timeTrace) == 0 || in.timeTrace.Admissions() > 0

	if in.gpuRan && len(in.gpuTrace) > 0 && in.gpuTrace.Admissions() == 0 {
		return res, &DegenerateSearchError{Phase: domain.PhaseGPU, Result: res}
	}
	if in.timeRan && len(in.timeTrace) > 0 && in.timeTrace.Admissions() == 0 {
		return res, &DegenerateSearchError{Phase: domain.PhaseTime, Result: res}
	}
	return res, nil
}
