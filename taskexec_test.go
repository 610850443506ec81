// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package taskexec

import (
	"context"
	"errors"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
	"github.com/taskexec/taskexec/runner"
	"github.com/taskexec/taskexec/store"
	"github.com/taskexec/taskexec/telemetry"
)

// scenarioTask is a demo task type whose Run body is supplied per test via
// a build closure, so each of the scenarios in section 8 can shape exactly
// the groups and subtasks it needs.
type scenarioTask struct {
	build func(tc *runner.TaskContext)
}

func (s *scenarioTask) Initialize(map[string]any) error { return nil }
func (s *scenarioTask) Run(tc *runner.TaskContext) error {
	s.build(tc)
	return tc.RunGroups()
}
func (s *scenarioTask) Abortable() bool { return true }

func newTestExecutor(t *testing.T, taskType string, build func(tc *runner.TaskContext)) (*Executor, *pool.BoundedPool) {
	t.Helper()
	registry := NewRegistry()
	registry.Register(taskType, func() runner.Task { return &scenarioTask{build: build} }, Descriptor{Abortable: true})

	wp := pool.NewBoundedPool("default", 8)
	provider := pool.NewStaticProvider(wp)

	exec := New(Config{
		Registry: registry,
		Store:    store.NewMemStore(),
		Provider: provider,
		Sink:     telemetry.NopSink{},
		Logger:   hclog.NewNullLogger(),
		Owner:    "test-host",
	})
	return exec, wp
}

func submitAndWait(t *testing.T, exec *Executor, wp *pool.BoundedPool, taskType string, timeout time.Duration) (*runner.RunnableTask, error) {
	t.Helper()
	rt, err := exec.CreateRunnable(taskType, nil, runner.Listener{})
	must.NoError(t, err)
	must.NoError(t, exec.Submit(rt, wp))
	return rt, exec.WaitFor(rt.ID(), timeout)
}

// Scenario 1: happy path.
func TestScenario_HappyPath(t *testing.T) {
	const taskType = "happy-path"
	exec, wp := newTestExecutor(t, taskType, func(tc *runner.TaskContext) {
		g := runner.NewGroup("g1", record.GroupTypeValidate)
		for i := 0; i < 3; i++ {
			g.AddSubtask("sub", pool.RunnableFunc(func(ctx context.Context) error { return nil }), nil, runner.Listener{})
		}
		tc.AddGroup(g)
	})

	rt, err := submitAndWait(t, exec, wp, taskType, 5*time.Second)
	must.NoError(t, err)
	must.Eq(t, record.StateSuccess, rt.Record().CurrentState())
}

// Scenario 2: fail-fast group.
func TestScenario_FailFastGroup(t *testing.T) {
	const taskType = "fail-fast"
	boom := errors.New("b exploded")
	exec, wp := newTestExecutor(t, taskType, func(tc *runner.TaskContext) {
		g := runner.NewGroup("g1", record.GroupTypeConfigure)
		g.AddSubtask("a", pool.RunnableFunc(func(ctx context.Context) error { return nil }), nil, runner.Listener{})
		g.AddSubtask("b", pool.RunnableFunc(func(ctx context.Context) error { return boom }), nil, runner.Listener{})
		g.AddSubtask("c", pool.RunnableFunc(func(ctx context.Context) error { return nil }), nil, runner.Listener{})
		tc.AddGroup(g)
	})

	rt, err := submitAndWait(t, exec, wp, taskType, 5*time.Second)
	must.Error(t, err)
	must.True(t, errors.Is(err, boom))
	must.Eq(t, record.StateFailure, rt.Record().CurrentState())
}

// Scenario 3: ignore-errors group.
func TestScenario_IgnoreErrorsGroup(t *testing.T) {
	const taskType = "ignore-errors"
	boom := errors.New("b exploded")
	exec, wp := newTestExecutor(t, taskType, func(tc *runner.TaskContext) {
		g := runner.NewGroup("g1", record.GroupTypeConfigure).WithIgnoreErrors(true)
		g.AddSubtask("a", pool.RunnableFunc(func(ctx context.Context) error { return nil }), nil, runner.Listener{})
		g.AddSubtask("b", pool.RunnableFunc(func(ctx context.Context) error { return boom }), nil, runner.Listener{})
		tc.AddGroup(g)
	})

	rt, err := submitAndWait(t, exec, wp, taskType, 5*time.Second)
	must.NoError(t, err)
	must.Eq(t, record.StateSuccess, rt.Record().CurrentState())
}

// Scenario 4: cooperative abort. Two groups, G1 holds a long-sleeping
// abortable subtask; aborting mid-G1 must stop G2 from ever starting.
func TestScenario_CooperativeAbort(t *testing.T) {
	origGrace, origSpin := runner.DefaultAbortGrace, runner.DefaultSpinInterval
	runner.DefaultAbortGrace = 30 * time.Millisecond
	runner.DefaultSpinInterval = 10 * time.Millisecond
	defer func() { runner.DefaultAbortGrace, runner.DefaultSpinInterval = origGrace, origSpin }()

	const taskType = "cooperative-abort"
	g2Started := make(chan struct{})
	exec, wp := newTestExecutor(t, taskType, func(tc *runner.TaskContext) {
		g1 := runner.NewGroup("g1", record.GroupTypeProvision)
		g1.AddSubtask("a", pool.RunnableFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil, runner.Listener{})
		tc.AddGroup(g1)

		g2 := runner.NewGroup("g2", record.GroupTypeUpgrade)
		g2.AddSubtask("b", pool.RunnableFunc(func(ctx context.Context) error {
			close(g2Started)
			return nil
		}), nil, runner.Listener{})
		tc.AddGroup(g2)
	})

	rt, err := exec.CreateRunnable(taskType, nil, runner.Listener{})
	must.NoError(t, err)
	must.NoError(t, exec.Submit(rt, wp))

	time.Sleep(5 * time.Millisecond)
	_, err = exec.Abort(rt.ID())
	must.NoError(t, err)

	waitErr := exec.WaitFor(rt.ID(), 5*time.Second)
	must.Error(t, waitErr)
	must.Eq(t, record.StateAborted, rt.Record().CurrentState())

	select {
	case <-g2Started:
		t.Fatal("G2 must never start once G1 is aborted")
	default:
	}
}

// Scenario 5: subtask timeout.
func TestScenario_SubtaskTimeout(t *testing.T) {
	origSpin := runner.DefaultSpinInterval
	runner.DefaultSpinInterval = 10 * time.Millisecond
	defer func() { runner.DefaultSpinInterval = origSpin }()

	const taskType = "subtask-timeout"
	exec, wp := newTestExecutor(t, taskType, func(tc *runner.TaskContext) {
		g := runner.NewGroup("g1", record.GroupTypeHealthCheck)
		g.AddSubtask("slow", pool.RunnableFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}), map[string]any{"timeLimitMins": 0.0005}, runner.Listener{}) // 30ms
		tc.AddGroup(g)
	})

	rt, err := submitAndWait(t, exec, wp, taskType, 5*time.Second)
	must.Error(t, err)
	must.True(t, errors.Is(err, runner.ErrTimeout))
	must.Eq(t, record.StateFailure, rt.Record().CurrentState())
}

// Scenario 6: shutdown drain.
func TestScenario_ShutdownDrain(t *testing.T) {
	const taskType = "shutdown-drain"
	exec, wp := newTestExecutor(t, taskType, func(tc *runner.TaskContext) {
		g := runner.NewGroup("g1", record.GroupTypeTeardown)
		g.AddSubtask("s", pool.RunnableFunc(func(ctx context.Context) error {
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}), nil, runner.Listener{})
		tc.AddGroup(g)
	})

	for i := 0; i < 2; i++ {
		rt, err := exec.CreateRunnable(taskType, nil, runner.Listener{})
		must.NoError(t, err)
		must.NoError(t, exec.Submit(rt, wp))
	}

	ok := exec.Shutdown(5 * time.Second)
	must.True(t, ok)

	// Idempotent: a subsequent call against the now-empty map returns
	// true immediately.
	must.True(t, exec.Shutdown(time.Millisecond))
}

func TestUnknownTaskType(t *testing.T) {
	exec, _ := newTestExecutor(t, "known", func(tc *runner.TaskContext) {})
	_, err := exec.CreateRunnable("unregistered", nil, runner.Listener{})
	must.Error(t, err)
	must.True(t, errors.Is(err, ErrUnknownTaskType))
}

func TestAbort_NotAbortable(t *testing.T) {
	registry := NewRegistry()
	registry.Register("not-abortable", func() runner.Task {
		return &scenarioTask{build: func(tc *runner.TaskContext) {}}
	}, Descriptor{Abortable: false})

	wp := pool.NewBoundedPool("default", 2)
	provider := pool.NewStaticProvider(wp)
	exec := New(Config{
		Registry: registry,
		Store:    store.NewMemStore(),
		Provider: provider,
		Sink:     telemetry.NopSink{},
		Logger:   hclog.NewNullLogger(),
	})

	rt, err := exec.CreateRunnable("not-abortable", nil, runner.Listener{})
	must.NoError(t, err)
	must.NoError(t, exec.Submit(rt, wp))

	_, err = exec.Abort(rt.ID())
	must.True(t, errors.Is(err, ErrNotAbortable))

	must.NoError(t, exec.WaitFor(rt.ID(), 5*time.Second))
}

func TestSubmit_FailsAfterShutdown(t *testing.T) {
	exec, wp := newTestExecutor(t, "demo", func(tc *runner.TaskContext) {})
	must.True(t, exec.Shutdown(time.Second))

	rt, err := exec.CreateRunnable("demo", nil, runner.Listener{})
	must.NoError(t, err)

	err = exec.Submit(rt, wp)
	must.True(t, errors.Is(err, ErrExecutorShuttingDown))
}
