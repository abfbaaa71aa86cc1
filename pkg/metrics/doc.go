// Package metrics defines and registers Prometheus metrics for the
// volume service.
//
// Metrics fall into three groups: request metrics (per-command counters
// and latency histograms), volume metrics (created, removed, currently
// attached), and transport metrics (receive errors and malformed
// requests). All metrics register against the default registry at
// package init, and Handler exposes them for scraping.
//
// The Timer helper wraps the measure-then-observe pattern:
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDuration(metrics.RequestDuration.WithLabelValues(cmd))
package metrics
