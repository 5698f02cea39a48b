/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics provides OpenTelemetry instruments for scoring calls. Instruments
// that fail to initialize fall back to no-ops.
type Metrics struct {
	calls            metric.Int64Counter
	attempts         metric.Int64Counter
	latency          metric.Float64Histogram
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
}

// NewMetrics creates the instruments on the named meter.
func NewMetrics(meterName string) *Metrics {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	calls, err := meter.Int64Counter("vlm.score.calls",
		metric.WithDescription("Scoring calls by backend, model and outcome"),
		metric.WithUnit("{calls}"))
	if err != nil {
		slog.Warn("Failed to create call counter, metrics will be disabled", "error", err, "meter", meterName)
		calls = noop.Int64Counter{}
	}

	attempts, err := meter.Int64Counter("vlm.score.attempts",
		metric.WithDescription("Backend invocations including retries"),
		metric.WithUnit("{attempts}"))
	if err != nil {
		slog.Warn("Failed to create attempt counter, metrics will be disabled", "error", err, "meter", meterName)
		attempts = noop.Int64Counter{}
	}

	latency, err := meter.Float64Histogram("vlm.score.latency",
		metric.WithDescription("Wall time of a scoring call including retries"),
		metric.WithUnit("s"))
	if err != nil {
		slog.Warn("Failed to create latency histogram, metrics will be disabled", "error", err, "meter", meterName)
		latency = noop.Float64Histogram{}
	}

	promptTokens, err := meter.Int64Counter("genai.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create prompt tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("genai.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create completion tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		completionTokens = noop.Int64Counter{}
	}

	return &Metrics{
		calls:            calls,
		attempts:         attempts,
		latency:          latency,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
	}
}

// Record records one finished scoring call.
func (m *Metrics) Record(ctx context.Context, r *Response) {
	base := []attribute.KeyValue{
		attribute.String("backend", string(r.Backend)),
		attribute.String("model", r.Model),
	}
	withOutcome := metric.WithAttributes(append(base, attribute.String("outcome", string(r.Outcome)))...)

	m.calls.Add(ctx, 1, withOutcome)
	m.attempts.Add(ctx, int64(r.Attempts), metric.WithAttributes(base...))
	m.latency.Record(ctx, r.Latency.Seconds(), withOutcome)
	if r.Usage.PromptTokens > 0 || r.Usage.CompletionTokens > 0 {
		m.promptTokens.Add(ctx, r.Usage.PromptTokens, metric.WithAttributes(base...))
		m.completionTokens.Add(ctx, r.Usage.CompletionTokens, metric.WithAttributes(base...))
	}
}
