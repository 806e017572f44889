// Package observability provides the metrics surface for the nestor
// runtime: one Metrics interface covering workflow, delegation, oracle,
// LLM, and tool instrumentation, with a Prometheus-backed recorder and
// a process-global sink that instrumented code reads through
// GetGlobalMetrics.
package observability

import (
	"context"
	"sync"
	"time"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records runtime measurements. Implementations must be safe
// for concurrent use and must never fail the instrumented operation.
type Metrics interface {
	// RecordWorkflow records one completed delegation-loop run.
	RecordWorkflow(ctx context.Context, duration time.Duration, iterations int, err error)

	// RecordDelegation records one worker invocation.
	RecordDelegation(ctx context.Context, target string, duration time.Duration, err error)

	// RecordOracleCall records one decision call, corrective or not.
	RecordOracleCall(ctx context.Context, duration time.Duration, corrective bool, err error)

	// RecordValidationFailure counts one decision-protocol violation
	// by rule name.
	RecordValidationFailure(ctx context.Context, rule string)

	// RecordLLMCall records one provider round trip.
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)

	// RecordToolExecution records one tool call made by a worker.
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
}

// SetGlobalMetrics installs the process-wide metrics sink.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics sink, or nil when
// none was installed.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
