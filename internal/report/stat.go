// Package report answers day-scoped aggregate queries over the log store
// and renders the results as markdown reports.
package report

import (
	"fmt"
	"sort"
)

// Summarize reduces a series of response times to a display string and the
// sample count.
//
// With three or more values the extreme minimum and maximum are dropped
// before averaging, so a single outlier cannot dominate a small sample:
//
//	"{min} ... **{mean-of-the-rest}** ... {max}"
//
// One or two values are shown as-is; two values keep their original order.
// The returned count is always the pre-trim length.
func Summarize(values []float64) (string, int) {
	count := len(values)
	switch count {
	case 0:
		return "[]", 0
	case 1:
		return fmt.Sprintf("%.3f", values[0]), 1
	case 2:
		return fmt.Sprintf("%.3f, %.3f", values[0], values[1]), 2
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	trimmed := sorted[1 : count-1]
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	mean := sum / float64(len(trimmed))

	return fmt.Sprintf("%.3f ... **%.3f** ... %.3f", sorted[0], mean, sorted[count-1]), count
}
