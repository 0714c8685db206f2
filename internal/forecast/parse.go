package forecast

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

// Slurm prints these for unset fields in -o output.
var unsetValues = map[string]bool{
	"Unknown": true,
	"N/A":     true,
	"None":    true,
	"(null)":  true,
	"":        true,
}

func unset(v string) bool { return unsetValues[v] }

const slurmTimeLayout = "2006-01-02T15:04:05"

var (
	// Generic TRES form "gres/gpu=4" and model-qualified "gres/gpu:a100=2".
	gpuGenericRe = regexp.MustCompile(`(?:^|,)gres/gpu=(\d+)`)
	gpuModelRe   = regexp.MustCompile(`(?:^|,)gres/gpu:[^=,]+=(\d+)`)
	tresMemRe    = regexp.MustCompile(`(?:^|,)mem=([0-9]+(?:\.[0-9]+)?)([KMGTP]?)`)
	firstNumRe   = regexp.MustCompile(`\d+`)
)

// parseFields splits one `scontrol show ... -o` line into key=value pairs.
func parseFields(line string) map[string]string {
	fields := make(map[string]string)
	for _, token := range strings.Fields(line) {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

// parseGPUCount reads the total GPU count from a TRES string, summing
// model-qualified entries when no generic entry is present.
func parseGPUCount(tres string) int {
	if m := gpuGenericRe.FindStringSubmatch(tres); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	total := 0
	for _, m := range gpuModelRe.FindAllStringSubmatch(tres, -1) {
		n, _ := strconv.Atoi(m[1])
		total += n
	}
	return total
}

func parseTRESInt(tres, key string) int {
	re := regexp.MustCompile(`(?:^|,)` + regexp.QuoteMeta(key) + `=(\d+)`)
	m := re.FindStringSubmatch(tres)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// parseTRESMemMiB reads a TRES memory value normalized to MiB.
func parseTRESMemMiB(tres string) int {
	m := tresMemRe.FindStringSubmatch(tres)
	if m == nil {
		return 0
	}
	value, _ := strconv.ParseFloat(m[1], 64)
	switch m[2] {
	case "":
		value /= 1024
	case "K":
		value /= 1024 * 1024
	case "M":
	case "G":
		value *= 1024
	case "T":
		value *= 1024 * 1024
	case "P":
		value *= 1024 * 1024 * 1024
	}
	return int(value + 0.5)
}

// parsePartitions normalizes a partition list: lowercase, default-partition
// "*" suffix stripped, duplicates removed.
func parsePartitions(v string) []string {
	if unset(v) {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(v, ",") {
		name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(raw), "*"))
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func parseSlurmTime(v string) (time.Time, bool) {
	if unset(v) {
		return time.Time{}, false
	}
	t, err := time.Parse(slurmTimeLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseLimit reads a TimeLimit/RunTime field. UNLIMITED jobs are treated as
// year-long so they occupy the whole forecast horizon.
func parseLimit(v string) time.Duration {
	if v == "UNLIMITED" {
		return 365 * 24 * time.Hour
	}
	d, err := domain.ParseWalltime(v)
	if err != nil {
		return 0
	}
	return d
}

func parseNodeCount(v string) int {
	m := firstNumRe.FindString(v)
	if m == "" {
		return 1
	}
	n, _ := strconv.Atoi(m)
	return n
}
