// Package metrics publishes service telemetry. The CloudWatch collector
// buffers datums in memory and ships them in batches; Nop discards them.
package metrics

import "time"

// Collector is every metric the service records. It satisfies
// core.MetricsCollector, scheduler.LoopMetrics and handlers.DeliveryMetrics.
type Collector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
	RecordPromoted(n int)
	RecordDrained(n int)
	RecordQueueDepth(n int)
	RecordSkippedRows(n int)
}

// Nop discards everything. Used when metrics are disabled.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) RecordRequest(string, string, string, time.Duration) {}
func (Nop) RecordPromoted(int)                                  {}
func (Nop) RecordDrained(int)                                   {}
func (Nop) RecordQueueDepth(int)                                {}
func (Nop) RecordSkippedRows(int)                               {}
