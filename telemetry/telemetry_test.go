// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shoenig/test/must"
)

func TestPrometheusSink_WaitAndExecutionQuantiles(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	for i := 0; i < 20; i++ {
		sink.ObserveWait("demo", time.Duration(i+1)*time.Millisecond)
		sink.ObserveExecution("demo", "success", time.Duration(i+1)*10*time.Millisecond)
	}

	waitQ, err := sink.WaitQuantiles("demo")
	must.NoError(t, err)
	must.True(t, waitQ.P50 > 0)
	must.True(t, waitQ.P90 >= waitQ.P50)

	execQ, err := sink.ExecutionQuantiles("demo", "success")
	must.NoError(t, err)
	must.True(t, execQ.P50 > 0)
}

func TestPrometheusSink_UnobservedLabelIsZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	q, err := sink.WaitQuantiles("never-seen")
	must.NoError(t, err)
	must.Eq(t, Quantiles{}, q)
}

func TestNopSink_DiscardsObservations(t *testing.T) {
	var s Sink = NopSink{}
	s.ObserveWait("demo", time.Second)
	s.ObserveExecution("demo", "success", time.Second)
}

func TestAppMetrics_DoesNotPanic(t *testing.T) {
	m := NewAppMetrics("host-a")
	m.TaskSubmitted("demo")
	m.TaskCompleted("demo", "success")
	m.TaskAborted("demo")
	m.SubtaskCompleted("demo", "success")
	m.ShutdownDuration(time.Now().Add(-time.Second))
}
