package forecast

import (
	"fmt"
	"time"
)

// Point is projected availability at one offset from now.
type Point struct {
	Offset    time.Duration
	Available int
}

// Snapshot is one forecast over a horizon.
type Snapshot struct {
	GeneratedAt time.Time
	Capacity    int
	Points      []Point
	Stats       Stats
}

// Current is availability right now.
func (s *Snapshot) Current() int {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[0].Available
}

// Min returns the lowest availability across the horizon.
func (s *Snapshot) Min() int {
	if len(s.Points) == 0 {
		return 0
	}
	min := s.Points[0].Available
	for _, p := range s.Points[1:] {
		if p.Available < min {
			min = p.Available
		}
	}
	return min
}

// Max returns the highest availability across the horizon.
func (s *Snapshot) Max() int {
	if len(s.Points) == 0 {
		return 0
	}
	max := s.Points[0].Available
	for _, p := range s.Points[1:] {
		if p.Available > max {
			max = p.Available
		}
	}
	return max
}

const sampleStep = 30 * time.Minute

// samplePoints evaluates occupied GPUs at half-hour offsets across the
// horizon. A window counts at a sample time t when t is inside [Start, End).
func samplePoints(windows []Window, now time.Time, capacity int, horizon time.Duration) []Point {
	var points []Point
	for offset := time.Duration(0); offset <= horizon; offset += sampleStep {
		at := now.Add(offset)
		used := 0
		for _, w := range windows {
			if !at.Before(w.Start) && at.Before(w.End) {
				used += w.GPUs
			}
		}
		available := capacity - used
		if available < 0 {
			available = 0
		}
		points = append(points, Point{Offset: offset, Available: available})
	}
	return points
}

// FormatOffset renders a sample offset as "+0h", "+0.5h", "+2h".
func FormatOffset(offset time.Duration) string {
	hours := offset.Hours()
	if hours == float64(int(hours)) {
		return fmt.Sprintf("+%dh", int(hours))
	}
	return fmt.Sprintf("+%.1fh", hours)
}
