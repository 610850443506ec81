// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Package telemetry wires the two histograms the executor emits --
// task_waiting_seconds{task_type} and task_execution_seconds{task_type,
// result} -- to a pluggable Sink. PrometheusSink records each observation in
// a Prometheus summary with a rolling window, which serves both scraping and
// its own p50/p90 queries; NopSink, the executor's fallback when no Sink is
// configured, discards them.
package telemetry

import "time"

// Sink is the Telemetry Sink external collaborator from section 6.
type Sink interface {
	// ObserveWait records a task_waiting_seconds sample for task_type.
	ObserveWait(taskType string, d time.Duration)
	// ObserveExecution records a task_execution_seconds sample for
	// task_type, tagged with result (one of the record.State terminal
	// values, lower-cased).
	ObserveExecution(taskType, result string, d time.Duration)
}

// NopSink discards all observations. Useful for tests that don't care
// about telemetry.
type NopSink struct{}

func (NopSink) ObserveWait(string, time.Duration)         {}
func (NopSink) ObserveExecution(string, string, time.Duration) {}

var _ Sink = NopSink{}
