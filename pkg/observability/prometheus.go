package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusMetrics records all runtime measurements as OpenTelemetry
// instruments exported in Prometheus format. The zero value is a
// usable no-op.
type PrometheusMetrics struct {
	workflowDuration   metric.Float64Histogram
	workflowIterations metric.Int64Histogram
	workflowsTotal     metric.Int64Counter
	workflowErrors     metric.Int64Counter

	delegationDuration metric.Float64Histogram
	delegationsTotal   metric.Int64Counter
	delegationErrors   metric.Int64Counter

	oracleDuration metric.Float64Histogram
	oracleTotal    metric.Int64Counter
	oracleErrors   metric.Int64Counter

	validationFailures metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolsTotal   metric.Int64Counter
	toolErrors   metric.Int64Counter
}

// InitMetrics builds the Prometheus-backed recorder and the HTTP
// handler that serves the scrape endpoint. The caller installs the
// recorder with SetGlobalMetrics and mounts the handler.
func InitMetrics() (*PrometheusMetrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("nestor")

	metrics, err := newPrometheusMetrics(meter)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return metrics, handler, nil
}

func newPrometheusMetrics(meter metric.Meter) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{}
	var err error

	if m.workflowDuration, err = meter.Float64Histogram(
		"nestor_workflow_duration_seconds",
		metric.WithDescription("Delegation-loop run duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow duration histogram: %w", err)
	}
	if m.workflowIterations, err = meter.Int64Histogram(
		"nestor_workflow_iterations",
		metric.WithDescription("Iterations per delegation-loop run"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow iterations histogram: %w", err)
	}
	if m.workflowsTotal, err = meter.Int64Counter(
		"nestor_workflows_total",
		metric.WithDescription("Total delegation-loop runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflows counter: %w", err)
	}
	if m.workflowErrors, err = meter.Int64Counter(
		"nestor_workflow_errors_total",
		metric.WithDescription("Delegation-loop runs ended by cancellation or error"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow errors counter: %w", err)
	}

	if m.delegationDuration, err = meter.Float64Histogram(
		"nestor_delegation_duration_seconds",
		metric.WithDescription("Worker invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delegation duration histogram: %w", err)
	}
	if m.delegationsTotal, err = meter.Int64Counter(
		"nestor_delegations_total",
		metric.WithDescription("Total worker invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delegations counter: %w", err)
	}
	if m.delegationErrors, err = meter.Int64Counter(
		"nestor_delegation_errors_total",
		metric.WithDescription("Failed worker invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delegation errors counter: %w", err)
	}

	if m.oracleDuration, err = meter.Float64Histogram(
		"nestor_oracle_call_duration_seconds",
		metric.WithDescription("Oracle decision call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oracle duration histogram: %w", err)
	}
	if m.oracleTotal, err = meter.Int64Counter(
		"nestor_oracle_calls_total",
		metric.WithDescription("Total oracle decision calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oracle calls counter: %w", err)
	}
	if m.oracleErrors, err = meter.Int64Counter(
		"nestor_oracle_errors_total",
		metric.WithDescription("Failed oracle decision calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oracle errors counter: %w", err)
	}

	if m.validationFailures, err = meter.Int64Counter(
		"nestor_validation_failures_total",
		metric.WithDescription("Decision-protocol violations by rule"),
	); err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"nestor_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"nestor_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"nestor_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		"nestor_llm_errors_total",
		metric.WithDescription("Failed LLM requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"nestor_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if m.toolsTotal, err = meter.Int64Counter(
		"nestor_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter(
		"nestor_tool_errors_total",
		metric.WithDescription("Failed tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordWorkflow(ctx context.Context, duration time.Duration, iterations int, err error) {
	if m == nil || m.workflowDuration == nil {
		return
	}

	m.workflowDuration.Record(ctx, duration.Seconds())
	m.workflowIterations.Record(ctx, int64(iterations))
	m.workflowsTotal.Add(ctx, 1)
	if err != nil {
		m.workflowErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordDelegation(ctx context.Context, target string, duration time.Duration, err error) {
	if m == nil || m.delegationDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("target", target))
	m.delegationDuration.Record(ctx, duration.Seconds(), attrs)
	m.delegationsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.delegationErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordOracleCall(ctx context.Context, duration time.Duration, corrective bool, err error) {
	if m == nil || m.oracleDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("corrective", corrective))
	m.oracleDuration.Record(ctx, duration.Seconds(), attrs)
	m.oracleTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.oracleErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordValidationFailure(ctx context.Context, rule string) {
	if m == nil || m.validationFailures == nil {
		return
	}

	m.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}
