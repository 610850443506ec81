// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package telemetry

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// rollingWindow and the p50/p90 objectives match section 6's contract
// verbatim: two histograms with p50 and p90 quantiles over a rolling 1h
// window. prometheus.Summary's MaxAge/AgeBuckets give us the rolling window
// for free; Objectives gives us the quantiles.
const (
	rollingWindow = time.Hour
	ageBuckets    = 5
)

var summaryObjectives = map[float64]float64{
	0.5: 0.05,
	0.9: 0.01,
}

// PrometheusSink is the Prometheus-backed Sink (the demo CLI uses it), backed
// by two prometheus SummaryVecs. The executor does not create one itself: with
// no Sink configured it uses NopSink. It is safe to register with any prometheus.Registerer,
// including the global DefaultRegisterer.
type PrometheusSink struct {
	wait *prometheus.SummaryVec
	exec *prometheus.SummaryVec
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink builds a sink and registers its collectors with reg. A
// nil reg registers with prometheus.DefaultRegisterer.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	wait := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "task_waiting_seconds",
		Help:       "Time a subtask spent queued before it began executing.",
		Objectives: summaryObjectives,
		MaxAge:     rollingWindow,
		AgeBuckets: ageBuckets,
	}, []string{"task_type"})

	exec := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "task_execution_seconds",
		Help:       "Time a subtask spent executing, labeled by terminal result.",
		Objectives: summaryObjectives,
		MaxAge:     rollingWindow,
		AgeBuckets: ageBuckets,
	}, []string{"task_type", "result"})

	reg.MustRegister(wait, exec)

	return &PrometheusSink{wait: wait, exec: exec}
}

// ObserveWait implements Sink.
func (s *PrometheusSink) ObserveWait(taskType string, d time.Duration) {
	s.wait.WithLabelValues(taskType).Observe(d.Seconds())
}

// ObserveExecution implements Sink.
func (s *PrometheusSink) ObserveExecution(taskType, result string, d time.Duration) {
	s.exec.WithLabelValues(taskType, result).Observe(d.Seconds())
}

// Quantiles is a point-in-time read of a summary's tracked quantiles.
type Quantiles struct {
	P50 float64
	P90 float64
}

// WaitQuantiles reads the current p50/p90 of task_waiting_seconds for
// taskType out of the rolling window.
func (s *PrometheusSink) WaitQuantiles(taskType string) (Quantiles, error) {
	return readQuantiles(s.wait.WithLabelValues(taskType))
}

// ExecutionQuantiles reads the current p50/p90 of task_execution_seconds
// for taskType and result out of the rolling window.
func (s *PrometheusSink) ExecutionQuantiles(taskType, result string) (Quantiles, error) {
	return readQuantiles(s.exec.WithLabelValues(taskType, result))
}

func readQuantiles(obs prometheus.Observer) (Quantiles, error) {
	metric, ok := obs.(prometheus.Metric)
	if !ok {
		return Quantiles{}, nil
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return Quantiles{}, err
	}
	var q Quantiles
	for _, qv := range m.GetSummary().GetQuantile() {
		// A summary with no observations reports NaN quantiles; those read
		// as zero.
		if math.IsNaN(qv.GetValue()) {
			continue
		}
		switch qv.GetQuantile() {
		case 0.5:
			q.P50 = qv.GetValue()
		case 0.9:
			q.P90 = qv.GetValue()
		}
	}
	return q, nil
}
