// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for version management operations.
var (
	tracer = otel.Tracer("rewind.engine")
	meter  = otel.Meter("rewind.engine")
)

// Metrics for version management operations.
var (
	checkpointTotal metric.Int64Counter
	undoTotal       metric.Int64Counter
	rollbackTotal   metric.Int64Counter
	reversedTotal   metric.Int64Counter
	undoLatency     metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkpointTotal, err = meter.Int64Counter(
			"versioning_checkpoint_total",
			metric.WithDescription("Total number of checkpoint create requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		undoTotal, err = meter.Int64Counter(
			"versioning_undo_total",
			metric.WithDescription("Total number of undo requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"versioning_rollback_total",
			metric.WithDescription("Total number of rollback requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reversedTotal, err = meter.Int64Counter(
			"versioning_operations_reversed_total",
			metric.WithDescription("Total number of operations reversed by undo or rollback"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		undoLatency, err = meter.Float64Histogram(
			"versioning_undo_duration_seconds",
			metric.WithDescription("Duration of undo and rollback execution"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startSpan creates a span for an engine entry point.
func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// recordOutcome increments a request counter tagged with success.
func recordOutcome(ctx context.Context, counter metric.Int64Counter, err error) {
	if initMetrics() != nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", err == nil),
	))
}

// recordReversal records reversal metrics for an undo or rollback run.
func recordReversal(ctx context.Context, mode string, reversed int, duration time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	reversedTotal.Add(ctx, int64(reversed), attrs)
	undoLatency.Record(ctx, duration.Seconds(), attrs)
}
