// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
	"github.com/taskexec/taskexec/store"
	"github.com/taskexec/taskexec/telemetry"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// noopTask is a bare runner.Task whose Run body does nothing but run
// whatever groups the test attaches directly to the RunnableTask before
// invoking Run.
type noopTask struct{}

func (noopTask) Initialize(map[string]any) error { return nil }
func (noopTask) Run(tc *TaskContext) error        { return tc.RunGroups() }

func newTestTask(t *testing.T, wp pool.WorkerPool) *RunnableTask {
	t.Helper()
	s := store.NewMemStore()
	rec := record.New("task-"+t.Name(), "demo", "host-a", "", record.TopLevelPosition, nil)
	must.NoError(t, rec.Transition(record.StateInitializing, ""))
	must.NoError(t, s.Save(rec))

	provider := pool.NewStaticProvider(wp)
	rt := NewRunnableTask(noopTask{}, rec, Listener{}, Deps{
		Store:                     s,
		Provider:                  provider,
		Sink:                      telemetry.NopSink{},
		AppMetrics:                telemetry.NewAppMetrics("host-a"),
		Logger:                    hclog.NewNullLogger(),
		SkipSubtaskAbortableCheck: true,
	})
	return rt
}

func succeedAfter(d time.Duration) pool.Runnable {
	return pool.RunnableFunc(func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func failAfter(d time.Duration, cause error) pool.Runnable {
	return pool.RunnableFunc(func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return cause
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func TestGroup_HappyPath(t *testing.T) {
	wp := pool.NewBoundedPool("default", 4)
	rt := newTestTask(t, wp)

	g := NewGroup("g1", record.GroupTypeProvision)
	g.AddSubtask("a", succeedAfter(10*time.Millisecond), nil, Listener{})
	g.AddSubtask("b", succeedAfter(10*time.Millisecond), nil, Listener{})
	g.AddSubtask("c", succeedAfter(10*time.Millisecond), nil, Listener{})
	must.NoError(t, rt.AddGroup(g))

	out, err := g.run(context.Background(), rt)
	must.NoError(t, err)
	must.NoError(t, out.firstErr)

	for _, rs := range g.Members() {
		must.Eq(t, record.StateSuccess, rs.Record().CurrentState())
	}
}

func TestGroup_FailFast_AllMembersStillRunToCompletion(t *testing.T) {
	wp := pool.NewBoundedPool("default", 4)
	rt := newTestTask(t, wp)
	boom := errors.New("b exploded")

	g := NewGroup("g1", record.GroupTypeConfigure)
	g.AddSubtask("a", succeedAfter(5*time.Millisecond), nil, Listener{})
	g.AddSubtask("b", failAfter(5*time.Millisecond, boom), nil, Listener{})
	g.AddSubtask("c", succeedAfter(5*time.Millisecond), nil, Listener{})
	must.NoError(t, rt.AddGroup(g))

	out, err := g.run(context.Background(), rt)
	must.NoError(t, err)
	must.Error(t, out.firstErr)
	must.True(t, errors.Is(out.firstErr, boom))

	states := map[string]record.State{}
	for _, rs := range g.Members() {
		states[rs.Record().Snapshot().ID] = rs.Record().CurrentState()
	}
	successCount, failureCount := 0, 0
	for _, s := range states {
		switch s {
		case record.StateSuccess:
			successCount++
		case record.StateFailure:
			failureCount++
		}
	}
	must.Eq(t, 2, successCount)
	must.Eq(t, 1, failureCount)
}

func TestRunnableTask_IgnoreErrorsAbsorbsFailure(t *testing.T) {
	wp := pool.NewBoundedPool("default", 4)
	rt := newTestTask(t, wp)
	boom := errors.New("absorbed")

	g := NewGroup("g1", record.GroupTypeConfigure).WithIgnoreErrors(true)
	g.AddSubtask("a", failAfter(1*time.Millisecond, boom), nil, Listener{})
	must.NoError(t, rt.AddGroup(g))

	err := rt.RunGroups(context.Background())
	must.NoError(t, err)
}

func TestRunnableTask_PropagatesFirstGroupError(t *testing.T) {
	wp := pool.NewBoundedPool("default", 4)
	rt := newTestTask(t, wp)
	boom := errors.New("not absorbed")

	g1 := NewGroup("g1", record.GroupTypeConfigure)
	g1.AddSubtask("a", failAfter(1*time.Millisecond, boom), nil, Listener{})
	must.NoError(t, rt.AddGroup(g1))

	started := make(chan struct{})
	g2 := NewGroup("g2", record.GroupTypeUpgrade)
	g2.AddSubtask("b", pool.RunnableFunc(func(ctx context.Context) error {
		close(started)
		return nil
	}), nil, Listener{})
	must.NoError(t, rt.AddGroup(g2))

	err := rt.RunGroups(context.Background())
	must.Error(t, err)
	must.True(t, errors.Is(err, boom))

	select {
	case <-started:
		t.Fatal("second group must not start once the first group's error propagates")
	default:
	}
}

func TestSubtask_TimeLimitForcesAbort(t *testing.T) {
	orig := DefaultSpinInterval
	DefaultSpinInterval = 10 * time.Millisecond
	defer func() { DefaultSpinInterval = orig }()

	wp := pool.NewBoundedPool("default", 1)
	rt := newTestTask(t, wp)

	blocked := make(chan struct{})
	g := NewGroup("g1", record.GroupTypeHealthCheck)
	g.AddSubtask("slow", pool.RunnableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		close(blocked)
		return ctx.Err()
	}), map[string]any{"timeLimitMins": 0.0005}, Listener{}) // 30ms
	must.NoError(t, rt.AddGroup(g))

	out, err := g.run(context.Background(), rt)
	must.NoError(t, err)
	must.True(t, errors.Is(out.firstErr, ErrTimeout))

	rs := g.Members()[0]
	must.Eq(t, record.StateAborted, rs.Record().CurrentState())

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("cancelled subtask's context was never closed")
	}
}

func TestSubtask_AbortGraceCancelsRunningMember(t *testing.T) {
	origSpin, origGrace := DefaultSpinInterval, DefaultAbortGrace
	DefaultSpinInterval = 10 * time.Millisecond
	DefaultAbortGrace = 20 * time.Millisecond
	defer func() { DefaultSpinInterval, DefaultAbortGrace = origSpin, origGrace }()

	wp := pool.NewBoundedPool("default", 1)
	rt := newTestTask(t, wp)

	started := make(chan struct{})
	g := NewGroup("g1", record.GroupTypeTeardown)
	g.AddSubtask("slow", pool.RunnableFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), nil, Listener{})
	must.NoError(t, rt.AddGroup(g))

	// Abort only once the member is running, so it is cancelled by the
	// grace path rather than by its own pre-start abort check.
	go func() {
		<-started
		rt.SetAbortTime()
	}()

	out, err := g.run(context.Background(), rt)
	must.NoError(t, err)
	must.True(t, errors.Is(out.firstErr, ErrCancelled))
	must.Eq(t, record.StateAborted, g.Members()[0].Record().CurrentState())
}

func TestRunnableSubtask_FinalizeFiresOnce(t *testing.T) {
	wp := pool.NewBoundedPool("default", 1)
	rt := newTestTask(t, wp)

	var afterCalls int
	listener := Listener{After: func(rec record.TaskRecord, cause error) { afterCalls++ }}

	g := NewGroup("g1", record.GroupTypeValidate)
	g.AddSubtask("a", succeedAfter(1*time.Millisecond), nil, listener)
	must.NoError(t, rt.AddGroup(g))

	out, err := g.run(context.Background(), rt)
	must.NoError(t, err)
	must.NoError(t, out.firstErr)

	rs := g.Members()[0]
	rs.finalize(nil) // simulate a racing forced-cancel path losing the race
	must.Eq(t, 1, afterCalls)
}
