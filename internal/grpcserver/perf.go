package grpcserver

import (
	"fmt"
	"sort"
	"time"
)

// performanceReport renders the final summary message sent ahead of
// the stream's Finish: a min/mean/
// max/p99 table over the per-frame latencies observed on one
// connection, where a frame's latency is the time elapsed between it
// and the previous emitOutput (or connection start, for the first
// frame).
func performanceReport(samples []time.Duration) string {
	if len(samples) == 0 {
		return "frames=0"
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))
	p99Idx := (len(sorted)*99)/100 - 1
	if p99Idx < 0 {
		p99Idx = 0
	}
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}

	return fmt.Sprintf(
		"frames=%d min=%s mean=%s max=%s p99=%s",
		len(sorted), sorted[0], mean, sorted[len(sorted)-1], sorted[p99Idx],
	)
}
