// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the metrics and tracer shared by the livecode
// services.
//
// Counters and histograms are Prometheus collectors registered on the
// default registry with the "livecode_" prefix. Activation latency is an
// OpenTelemetry histogram so it follows whatever meter provider the
// embedding process installs. Spans use the global tracer provider.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the tracer for all livecode spans.
var Tracer trace.Tracer = otel.Tracer("aleutian.livecode")

var meter = otel.Meter("aleutian.livecode")

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecode_turns_total",
		Help: "Total agent turns by final status",
	}, []string{"status"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livecode_turn_duration_seconds",
		Help:    "Agent turn duration by final status",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecode_tool_calls_total",
		Help: "Total tool calls by tool and status",
	}, []string{"tool", "status"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livecode_tool_call_duration_seconds",
		Help:    "Tool call duration by tool",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"tool"})

	applyOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecode_apply_outcomes_total",
		Help: "Total apply requests by outcome and error code",
	}, []string{"status", "error_code"})

	pseudoCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecode_pseudo_tool_calls_total",
		Help: "Tool calls recovered from textual markup by dialect",
	}, []string{"dialect"})
)

var (
	activationLatency metric.Float64Histogram
	metricsOnce       sync.Once
)

func initMeter() {
	metricsOnce.Do(func() {
		h, err := meter.Float64Histogram(
			"livecode_activation_delay_seconds",
			metric.WithDescription("Delay between scheduling and applying a code change"),
			metric.WithUnit("s"),
		)
		if err == nil {
			activationLatency = h
		}
	})
}

// RecordTurn records a finished turn.
func RecordTurn(status string, d time.Duration) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordToolCall records a dispatched tool call.
func RecordToolCall(tool, status string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordApply records an apply outcome. errorCode is empty when scheduled.
func RecordApply(status, errorCode string) {
	applyOutcomesTotal.WithLabelValues(status, errorCode).Inc()
}

// RecordPseudoCall records a tool call parsed from textual markup.
func RecordPseudoCall(dialect string) {
	pseudoCallsTotal.WithLabelValues(dialect).Inc()
}

// RecordActivation records how long a scheduled change waited and whether
// it was applied.
func RecordActivation(ctx context.Context, delay time.Duration, applied bool) {
	initMeter()
	if activationLatency == nil {
		return
	}
	activationLatency.Record(ctx, delay.Seconds(), metric.WithAttributes(attribute.Bool("applied", applied)))
}
