package search

import (
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

// SimulateFunc resolves a probe spec without touching the scheduler.
type SimulateFunc func(domain.ProbeSpec) domain.ProbeOutcome

// ThresholdSimulator admits probes at or below the given capacity in both
// dimensions and times out everything above. Used by --dry-run to preview
// the probe sequence the real search would submit.
func ThresholdSimulator(gpuCap int, timeCap time.Duration) SimulateFunc {
	return func(spec domain.ProbeSpec) domain.ProbeOutcome {
		if spec.GPUCount > gpuCap || spec.TimeWindow > timeCap {
			return domain.OutcomePendingTimeout
		}
		return domain.OutcomeAdmitted
	}
}
