// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
	"github.com/taskexec/taskexec/store"
	"github.com/taskexec/taskexec/telemetry"
)

// CompletionNotifier fans out the three completion side effects section 4.4
// lists for on_completion: marking an owning customer-facing task complete,
// marking a scheduled-job record complete, and triggering a one-off HA
// replication sync. All three are external collaborators the core doesn't
// implement; NopCompletionNotifier is the default for callers with none of
// them wired up.
type CompletionNotifier interface {
	NotifyCustomerTaskComplete(taskID string)
	NotifyScheduledJobComplete(taskID string)
	TriggerHASync()
}

// NopCompletionNotifier discards every completion side effect.
type NopCompletionNotifier struct{}

func (NopCompletionNotifier) NotifyCustomerTaskComplete(string)  {}
func (NopCompletionNotifier) NotifyScheduledJobComplete(string) {}
func (NopCompletionNotifier) TriggerHASync()                    {}

var _ CompletionNotifier = NopCompletionNotifier{}

// RunnableTask is a top-level job: it owns a FIFO queue of subtask groups,
// the abort-time signal, and the listener/store/telemetry wiring every
// group and subtask beneath it shares. Authors obtain one from the Task
// Executor's CreateRunnable, never construct it directly.
type RunnableTask struct {
	mu     sync.Mutex
	rec    *record.TaskRecord
	groups []*SubtaskGroup

	abortMu sync.Mutex
	abortAt time.Time
	aborted bool

	task     Task
	listener Listener

	store      store.TaskStore
	provider   pool.ExecutorProvider
	sink       telemetry.Sink
	appMetrics *telemetry.AppMetrics
	logger     hclog.Logger

	skipSubtaskAbortableCheck bool
	abortableFn               func(taskType string) bool

	onCompletion func(*RunnableTask)
	notifier     CompletionNotifier
}

// Deps bundles the external collaborators a RunnableTask needs; the
// executor assembles one per task at create_runnable time.
type Deps struct {
	Store                     store.TaskStore
	Provider                  pool.ExecutorProvider
	Sink                      telemetry.Sink
	AppMetrics                *telemetry.AppMetrics
	Logger                    hclog.Logger
	SkipSubtaskAbortableCheck bool
	AbortableFn               func(taskType string) bool
	Notifier                  CompletionNotifier
}

// NewRunnableTask wraps task with its record and external collaborators.
// The record is expected to already be in record.StateInitializing.
func NewRunnableTask(task Task, rec *record.TaskRecord, listener Listener, deps Deps) *RunnableTask {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopCompletionNotifier{}
	}
	abortableFn := deps.AbortableFn
	if abortableFn == nil {
		abortableFn = func(string) bool { return false }
	}
	logger := deps.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &RunnableTask{
		rec:                       rec,
		task:                      task,
		listener:                  listener,
		store:                     deps.Store,
		provider:                  deps.Provider,
		sink:                      deps.Sink,
		appMetrics:                deps.AppMetrics,
		logger:                    logger.Named(rec.ID),
		skipSubtaskAbortableCheck: deps.SkipSubtaskAbortableCheck,
		abortableFn:               abortableFn,
		notifier:                  notifier,
	}
}

// ID returns the task's record id.
func (rt *RunnableTask) ID() string { return rt.rec.ID }

// Record returns the task's durable record. Internal callers (this
// package) use the pointer directly; external callers should prefer
// TaskContext.Record, which returns a snapshot.
func (rt *RunnableTask) Record() *record.TaskRecord { return rt.rec }

// SetOnCompletion registers the live-tasks-map removal callback. Called by
// the executor at submission time.
func (rt *RunnableTask) SetOnCompletion(fn func(*RunnableTask)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.onCompletion = fn
}

// AddGroup attaches group at the next monotonic position. Not safe to call
// concurrently with RunGroups.
func (rt *RunnableTask) AddGroup(group *SubtaskGroup) error {
	rt.mu.Lock()
	position := len(rt.groups)
	rt.mu.Unlock()
	return rt.AddGroupAt(group, position)
}

// AddGroupAt attaches group at an explicit position, overriding the
// monotonic counter -- used when replaying previously scheduled work.
func (rt *RunnableTask) AddGroupAt(group *SubtaskGroup, position int) error {
	if err := group.attach(rt, position); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.groups = append(rt.groups, group)
	rt.mu.Unlock()
	return nil
}

// Reset clears the group queue and position counter, used when a retryable
// task is replayed. It does not clear any already-persisted subtask
// records.
func (rt *RunnableTask) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.groups = nil
}

// Heartbeat marks the record dirty and writes it through the store.
func (rt *RunnableTask) Heartbeat() {
	rt.rec.Heartbeat()
	if err := rt.store.MarkDirty(rt.rec); err != nil {
		rt.logger.Warn("failed to persist heartbeat", "error", err)
	}
}

// AbortTime reports the abort signal's timestamp, if one has been set.
func (rt *RunnableTask) AbortTime() (time.Time, bool) {
	rt.abortMu.Lock()
	defer rt.abortMu.Unlock()
	if !rt.aborted {
		return time.Time{}, false
	}
	return rt.abortAt, true
}

// SetAbortTime idempotently records "now" as the abort signal's timestamp.
// Later calls are no-ops; they observe the same instant as the first call.
func (rt *RunnableTask) SetAbortTime() time.Time {
	rt.abortMu.Lock()
	defer rt.abortMu.Unlock()
	if !rt.aborted {
		rt.aborted = true
		rt.abortAt = time.Now()
	}
	return rt.abortAt
}

// RunGroups executes every attached group in attachment order, applying
// each group's ignore_errors policy. Must be called at most once, from
// inside the task's Run.
func (rt *RunnableTask) RunGroups(ctx context.Context) error {
	rt.mu.Lock()
	groups := append([]*SubtaskGroup(nil), rt.groups...)
	rt.mu.Unlock()

	var firstErr error
	for _, group := range groups {
		out, err := group.run(ctx, rt)
		if err != nil {
			// Pool resolution or another structural failure: the call ends
			// in Failure regardless of ignore_errors.
			return err
		}
		if out.firstErr == nil {
			continue
		}
		if group.IgnoreErrors() {
			rt.logger.Warn("group completed with ignored errors", "group", group.Name(), "error", out.firstErr)
			continue
		}
		firstErr = out.firstErr
		break
	}
	return firstErr
}

// Run implements pool.Runnable: the worker-side body for a top-level task.
func (rt *RunnableTask) Run(ctx context.Context) error {
	if _, ok := rt.AbortTime(); ok {
		_ = rt.rec.Transition(record.StateAborted, ErrCancelled.Error())
		rt.persist()
		rt.onCompletionHook()
		rt.listener.runAfter(rt.logger, rt.rec.Snapshot(), ErrCancelled)
		return ErrCancelled
	}

	if berr := rt.listener.runBefore(rt.logger, rt.rec.Snapshot()); berr != nil {
		_ = rt.rec.Transition(record.StateAborted, berr.Error())
		rt.persist()
		rt.onCompletionHook()
		rt.listener.runAfter(rt.logger, rt.rec.Snapshot(), berr)
		return berr
	}

	if err := rt.rec.Transition(record.StateRunning, ""); err != nil {
		rt.logger.Error("illegal transition to running", "error", err)
	}
	rt.persist()

	tc := &TaskContext{Context: ctx, rt: rt}
	runErr := rt.task.Run(tc)

	outcome := classifyOutcome(ctx, runErr)
	if err := rt.rec.Transition(outcome.state, errString(outcome.cause)); err != nil {
		rt.logger.Error("illegal terminal transition", "error", err, "target", outcome.state)
	}
	rt.persist()
	rt.onCompletionHook()
	rt.listener.runAfter(rt.logger, rt.rec.Snapshot(), outcome.cause)

	if rt.appMetrics != nil {
		rt.appMetrics.TaskCompleted(rt.rec.Type, string(rt.rec.CurrentState()))
	}
	return runErr
}

// onCompletionHook fires the section 4.4 on_completion side effects:
// live-tasks map removal, customer-task/scheduled-job completion, and an HA
// sync trigger.
func (rt *RunnableTask) onCompletionHook() {
	rt.mu.Lock()
	onCompletion := rt.onCompletion
	rt.mu.Unlock()

	if onCompletion != nil {
		onCompletion(rt)
	}
	rt.notifier.NotifyCustomerTaskComplete(rt.ID())
	rt.notifier.NotifyScheduledJobComplete(rt.ID())
	rt.notifier.TriggerHASync()
}

func (rt *RunnableTask) persist() {
	if err := rt.store.Update(rt.rec); err != nil {
		rt.logger.Error("failed to persist task record", "id", rt.rec.ID, "error", err)
	}
}
