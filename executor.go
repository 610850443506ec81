// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Package taskexec is the concurrent execution engine for hierarchical
// orchestration jobs: a caller creates a Runnable Task from a registered
// task type, submits it to a worker pool, and the executor coordinates its
// subtask groups through to a terminal state -- persisting every
// transition, honoring cooperative abort and per-subtask time limits, and
// draining cleanly on shutdown.
package taskexec

import (
	"context"
	"errors"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
	"github.com/taskexec/taskexec/runner"
	"github.com/taskexec/taskexec/store"
	"github.com/taskexec/taskexec/telemetry"
)

// Config assembles the Task Executor's external collaborators and policy
// knobs. Store, Provider and Registry are required; everything else
// defaults to a usable value.
type Config struct {
	Registry *Registry
	Store    store.TaskStore
	Provider pool.ExecutorProvider

	Sink       telemetry.Sink
	AppMetrics *telemetry.AppMetrics
	Logger     hclog.Logger
	Notifier   runner.CompletionNotifier

	// Owner identifies the host process running this executor; stamped on
	// every TaskRecord it creates.
	Owner string

	// SkipSubtaskAbortableCheck defaults to true -- on executor shutdown,
	// in-flight subtasks are cancelled past the abort grace regardless of
	// their abortable marker. A nil value keeps the default; set to a
	// non-nil false only if callers genuinely need per-subtask opt-in.
	SkipSubtaskAbortableCheck *bool
}

// Executor is the singleton facade described in section 4.5: it holds the
// live-tasks map, the shutdown flag, and the injected external
// collaborators every RunnableTask it creates shares.
type Executor struct {
	registry *Registry
	store    store.TaskStore
	provider pool.ExecutorProvider
	sink     telemetry.Sink
	appMetrics *telemetry.AppMetrics
	logger   hclog.Logger
	notifier runner.CompletionNotifier
	owner    string

	skipSubtaskAbortableCheck bool

	live *liveTaskMap

	shutdownMu sync.Mutex
	shutdownAt bool

	futuresMu sync.Mutex
	futures   map[string]pool.Future
}

// New builds an Executor from cfg.
func New(cfg Config) *Executor {
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	appMetrics := cfg.AppMetrics
	if appMetrics == nil {
		appMetrics = telemetry.NewAppMetrics(cfg.Owner)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = runner.NopCompletionNotifier{}
	}
	skipCheck := true
	if cfg.SkipSubtaskAbortableCheck != nil {
		skipCheck = *cfg.SkipSubtaskAbortableCheck
	}

	return &Executor{
		registry:                  cfg.Registry,
		store:                     cfg.Store,
		provider:                  cfg.Provider,
		sink:                      sink,
		appMetrics:                appMetrics,
		logger:                    logger,
		notifier:                  notifier,
		owner:                     cfg.Owner,
		skipSubtaskAbortableCheck: skipCheck,
		live:                      newLiveTaskMap(),
		futures:                   make(map[string]pool.Future),
	}
}

// CreateRunnable looks up taskType, constructs and initializes the user
// task, and wraps it in a RunnableTask with a freshly persisted Created ->
// Initializing record at position record.TopLevelPosition.
func (e *Executor) CreateRunnable(taskType string, params map[string]any, listener runner.Listener) (*runner.RunnableTask, error) {
	factory, _, err := e.registry.Lookup(taskType)
	if err != nil {
		return nil, err
	}

	task := factory()
	if err := task.Initialize(params); err != nil {
		return nil, err
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}

	rec := record.New(id, taskType, e.owner, "", record.TopLevelPosition, params)
	if err := rec.Transition(record.StateInitializing, ""); err != nil {
		return nil, err
	}
	if err := e.store.Save(rec); err != nil {
		return nil, err
	}

	deps := runner.Deps{
		Store:                     e.store,
		Provider:                  e.provider,
		Sink:                      e.sink,
		AppMetrics:                e.appMetrics,
		Logger:                    e.logger,
		SkipSubtaskAbortableCheck: e.skipSubtaskAbortableCheck,
		AbortableFn:               e.registry.Abortable,
		Notifier:                  e.notifier,
	}
	return runner.NewRunnableTask(task, rec, listener, deps), nil
}

// Submit inserts rt into the live-tasks map, stamps its scheduled time, and
// submits it to wp. Fails with ErrExecutorShuttingDown once Shutdown has
// begun.
func (e *Executor) Submit(rt *runner.RunnableTask, wp pool.WorkerPool) error {
	e.shutdownMu.Lock()
	shuttingDown := e.shutdownAt
	e.shutdownMu.Unlock()
	if shuttingDown {
		return ErrExecutorShuttingDown
	}

	rt.SetOnCompletion(func(rt *runner.RunnableTask) {
		e.live.remove(rt.ID())
		e.futuresMu.Lock()
		delete(e.futures, rt.ID())
		e.futuresMu.Unlock()
	})

	if !e.live.insert(rt) {
		return ErrExecutorShuttingDown
	}

	rt.Record().MarkScheduled()
	if err := e.store.Update(rt.Record()); err != nil {
		e.logger.Warn("failed to persist scheduled timestamp", "task", rt.ID(), "error", err)
	}

	f, err := wp.Submit(rt)
	if err != nil {
		e.live.remove(rt.ID())
		_ = rt.Record().Transition(record.StateFailure, err.Error())
		if uerr := e.store.Update(rt.Record()); uerr != nil {
			e.logger.Error("failed to persist submission failure", "task", rt.ID(), "error", uerr)
		}
		return err
	}

	e.futuresMu.Lock()
	e.futures[rt.ID()] = f
	e.futuresMu.Unlock()

	e.appMetrics.TaskSubmitted(rt.Record().Type)
	return nil
}

// WaitFor blocks until taskID's top-level future completes or timeout
// elapses (a non-positive timeout waits forever). The future carries the
// task's Run error itself, which is returned as-is.
func (e *Executor) WaitFor(taskID string, timeout time.Duration) error {
	e.futuresMu.Lock()
	f, ok := e.futures[taskID]
	e.futuresMu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	err := f.Get(context.Background(), timeout)
	if errors.Is(err, pool.ErrGetTimeout) {
		return ErrWaitTimeout
	}
	return err
}

// Abort requests cooperative cancellation of taskID. It is idempotent: a
// second call observes the same abort instant and returns the current
// record without error.
func (e *Executor) Abort(taskID string) (record.TaskRecord, error) {
	rt, ok := e.live.get(taskID)
	if !ok {
		return record.TaskRecord{}, ErrTaskNotFound
	}
	if !e.registry.Abortable(rt.Record().Type) {
		return record.TaskRecord{}, ErrNotAbortable
	}

	rt.SetAbortTime()
	if rt.Record().CompareAndSetState(record.StateAborted, record.StateInitializing, record.StateCreated, record.StateRunning) {
		if err := e.store.Update(rt.Record()); err != nil {
			e.logger.Error("failed to persist aborted task record", "id", taskID, "error", err)
		}
	}
	e.appMetrics.TaskAborted(rt.Record().Type)

	return rt.Record().Snapshot(), nil
}

// Shutdown seals the live-tasks map, broadcasts the abort signal to every
// in-flight task, and waits up to timeout for the map to drain. It is
// idempotent via the shutdown flag; a subsequent call on an already-empty
// map returns true immediately. External worker pools are expected to be
// shut down separately by their owners.
func (e *Executor) Shutdown(timeout time.Duration) bool {
	e.shutdownMu.Lock()
	alreadyShutdown := e.shutdownAt
	e.shutdownAt = true
	e.shutdownMu.Unlock()

	e.live.seal()
	if !alreadyShutdown {
		for _, rt := range e.live.snapshot() {
			rt.SetAbortTime()
		}
	}

	start := time.Now()
	ok := e.live.waitUntilEmpty(timeout)
	e.appMetrics.ShutdownDuration(start)
	return ok
}
