// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package telemetry

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// AppMetrics wraps the ambient go-metrics instance the runner and executor
// use for lifecycle counters, the same way Nomad's AllocRunner tags
// lifecycle events with metrics.IncrCounterWithLabels. It is deliberately
// separate from Sink: Sink is the spec's externally-injected histogram
// contract, AppMetrics is in-process operational counters.
type AppMetrics struct {
	m          *gometrics.Metrics
	baseLabels []gometrics.Label
}

// NewAppMetrics builds an AppMetrics instance backed by an in-memory sink
// with a 1h retention window, service-tagged as "taskexec", plus any
// always-present labels (e.g. the executor's owner host).
func NewAppMetrics(owner string) *AppMetrics {
	inm := gometrics.NewInmemSink(10*time.Second, rollingWindow)
	cfg := gometrics.DefaultConfig("taskexec")
	cfg.EnableHostname = false
	// Lifecycle counters only: no background runtime-stats goroutine.
	cfg.EnableRuntimeMetrics = false
	m, _ := gometrics.New(cfg, inm)

	var labels []gometrics.Label
	if owner != "" {
		labels = append(labels, gometrics.Label{Name: "owner", Value: owner})
	}
	return &AppMetrics{m: m, baseLabels: labels}
}

func (a *AppMetrics) labels(extra ...gometrics.Label) []gometrics.Label {
	return append(append([]gometrics.Label{}, a.baseLabels...), extra...)
}

// TaskSubmitted records a task entering the live-tasks map.
func (a *AppMetrics) TaskSubmitted(taskType string) {
	a.m.IncrCounterWithLabels([]string{"taskexec", "task", "submit"}, 1,
		a.labels(gometrics.Label{Name: "task_type", Value: taskType}))
}

// TaskCompleted records a top-level task reaching a terminal state.
func (a *AppMetrics) TaskCompleted(taskType, result string) {
	a.m.IncrCounterWithLabels([]string{"taskexec", "task", "complete"}, 1,
		a.labels(
			gometrics.Label{Name: "task_type", Value: taskType},
			gometrics.Label{Name: "result", Value: result},
		))
}

// TaskAborted records an abort request being accepted.
func (a *AppMetrics) TaskAborted(taskType string) {
	a.m.IncrCounterWithLabels([]string{"taskexec", "task", "abort"}, 1,
		a.labels(gometrics.Label{Name: "task_type", Value: taskType}))
}

// SubtaskCompleted records a subtask reaching a terminal state.
func (a *AppMetrics) SubtaskCompleted(taskType, result string) {
	a.m.IncrCounterWithLabels([]string{"taskexec", "subtask", "complete"}, 1,
		a.labels(
			gometrics.Label{Name: "task_type", Value: taskType},
			gometrics.Label{Name: "result", Value: result},
		))
}

// ShutdownDuration records how long a drain took.
func (a *AppMetrics) ShutdownDuration(start time.Time) {
	a.m.MeasureSinceWithLabels([]string{"taskexec", "shutdown", "drain"}, start, a.baseLabels)
}
