// Package textparse turns console progress-bar lines into progress updates.
//
// Batch jobs that only print progress bars (for example
// "Processing: 50%|█████     | 500/1000 rows [01:00<01:00, 8.33 rows/s]")
// can write their output into a Capture, which forwards every line it can
// parse to the task registry and silently drops the rest.
package textparse

import (
	"regexp"
	"strconv"
)

// Result is the structured form of one progress line.
type Result struct {
	Current    int
	Total      int
	Percentage float64
}

// barPattern matches "<pct>%|<bar>| <current>/<total><unit> [" anywhere in a
// line. The unit is optional and may be any non-space text.
var barPattern = regexp.MustCompile(`(\d+)%\|[^|]*\|\s*(\d+)/(\d+)\s*[^\s\[]*\s*\[`)

// Parse extracts the counters from a progress-bar line. It reports false for
// anything that does not look like one.
func Parse(line string) (Result, bool) {
	m := barPattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return Result{}, false
	}
	current, err := strconv.Atoi(m[2])
	if err != nil {
		return Result{}, false
	}
	total, err := strconv.Atoi(m[3])
	if err != nil {
		return Result{}, false
	}
	return Result{Current: current, Total: total, Percentage: float64(pct)}, true
}
