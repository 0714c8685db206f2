package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeGranularity is the smallest walltime unit Slurm schedules at.
// Time bisection never produces candidates below this resolution.
const TimeGranularity = time.Minute

// ParseWalltime parses a Slurm walltime string (HH:MM:SS or DD-HH:MM:SS)
// into a duration.
func ParseWalltime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty walltime")
	}

	var days int
	timePart := value
	if idx := strings.Index(value, "-"); idx >= 0 {
		d, err := strconv.Atoi(value[:idx])
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid walltime %q", value)
		}
		days = d
		timePart = value[idx+1:]
	}

	pieces := strings.Split(timePart, ":")
	if len(pieces) != 3 {
		return 0, fmt.Errorf("invalid walltime %q: want HH:MM:SS or DD-HH:MM:SS", value)
	}

	var vals [3]int
	for i, p := range pieces {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid walltime %q", value)
		}
		vals[i] = v
	}
	if vals[1] >= 60 || vals[2] >= 60 {
		return 0, fmt.Errorf("invalid walltime %q: minutes/seconds out of range", value)
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second, nil
}

// ParseDuration accepts either a Slurm walltime ("01:30:00", "2-04:00:00")
// or compact text with an optional day prefix ("90m", "1h30m", "2d4h").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.Contains(value, ":") {
		return ParseWalltime(value)
	}

	rest := value
	var days int
	if idx := strings.IndexByte(rest, 'd'); idx > 0 {
		d, err := strconv.Atoi(rest[:idx])
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		days = d
		rest = rest[idx+1:]
	}

	var tail time.Duration
	if rest != "" {
		var err error
		tail, err = time.ParseDuration(rest)
		if err != nil || tail < 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
	}
	if days == 0 && rest == "" {
		return 0, fmt.Errorf("empty duration")
	}
	return time.Duration(days)*24*time.Hour + tail, nil
}

// FormatWalltime renders a duration as a Slurm walltime string,
// rounded down to whole minutes.
func FormatWalltime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	days, rem := minutes/1440, minutes%1440
	hours, mins := rem/60, rem%60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:00", days, hours, mins)
	}
	return fmt.Sprintf("%02d:%02d:00", hours, mins)
}

// FormatCompact renders a duration as compact text ("2d4h", "1h30m", "30m")
// used in probe job names and report lines.
func FormatCompact(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	days, rem := minutes/1440, minutes%1440
	hours, mins := rem/60, rem%60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if mins > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%dm", mins)
	}
	return b.String()
}

// TruncateToGranularity rounds a duration down to the scheduler's minimum
// time granularity.
func TruncateToGranularity(d time.Duration) time.Duration {
	return d - d%TimeGranularity
}
