// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
	"github.com/taskexec/taskexec/store"
	"github.com/taskexec/taskexec/telemetry"
)

// RunnableSubtask wraps a single unit of author-supplied work (anything
// shaped like a pool.Runnable) plus its durable record. Authors never
// construct one directly: SubtaskGroup.AddSubtask queues the work, and the
// group builds the RunnableSubtask when it is attached to its parent task.
type RunnableSubtask struct {
	logger hclog.Logger
	work   pool.Runnable
	rec    *record.TaskRecord
	listener Listener

	store      store.TaskStore
	sink       telemetry.Sink
	appMetrics *telemetry.AppMetrics
	owner      *RunnableTask

	once    sync.Once
	future  pool.Future
}

// newRunnableSubtask is called by SubtaskGroup.attach, after rec has been
// created with its parent link and position and saved through the Task
// Store.
func newRunnableSubtask(work pool.Runnable, rec *record.TaskRecord, listener Listener, owner *RunnableTask) *RunnableSubtask {
	return &RunnableSubtask{
		work:       work,
		rec:        rec,
		listener:   listener,
		owner:      owner,
		store:      owner.store,
		sink:       owner.sink,
		appMetrics: owner.appMetrics,
		logger:     owner.logger.Named(rec.ID),
	}
}

// Record returns the subtask's durable record.
func (rs *RunnableSubtask) Record() *record.TaskRecord { return rs.rec }

// TimeLimit parses the optional timeLimitMins payload field. Zero means
// unbounded.
func (rs *RunnableSubtask) TimeLimit() time.Duration {
	snap := rs.rec.Snapshot()
	raw, ok := snap.Payload["timeLimitMins"]
	if !ok {
		return 0
	}

	var mins float64
	switch v := raw.(type) {
	case float64:
		mins = v
	case int:
		mins = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		mins = parsed
	default:
		return 0
	}
	if mins <= 0 {
		return 0
	}
	return time.Duration(mins * float64(time.Minute))
}

// SubmitTo records the scheduled-at timestamp and submits the subtask to
// pool. A submission error is caught here: the record transitions straight
// to Failure, the after listener fires, and the error is returned to the
// caller (the group keeps submitting the remaining members).
func (rs *RunnableSubtask) SubmitTo(wp pool.WorkerPool) error {
	rs.rec.MarkScheduled()
	if err := rs.store.Update(rs.rec); err != nil {
		rs.logger.Warn("failed to persist scheduled timestamp", "error", err)
	}

	f, err := wp.Submit(rs)
	if err != nil {
		wrapped := fmt.Errorf("submit subtask %s: %w", rs.rec.ID, err)
		rs.finishFailedSubmission(wrapped)
		return wrapped
	}
	rs.future = f
	return nil
}

func (rs *RunnableSubtask) finishFailedSubmission(err error) {
	if terr := rs.rec.Transition(record.StateFailure, err.Error()); terr != nil {
		rs.logger.Error("illegal transition on submission failure", "error", terr)
	}
	rs.persist()
	rs.finalize(err)
}

// Future returns the handle produced by SubmitTo, or nil if submission
// failed or hasn't happened yet.
func (rs *RunnableSubtask) Future() pool.Future { return rs.future }

// Run implements pool.Runnable: the worker-side body described in section
// 4.2 -- abort check, before listener, Running transition, user work,
// terminal transition, finalize-on-all-exits.
func (rs *RunnableSubtask) Run(ctx context.Context) error {
	waitStart := rs.rec.Snapshot().ScheduledAt
	if !waitStart.IsZero() {
		rs.sink.ObserveWait(rs.rec.Type, time.Since(waitStart))
	}

	if _, ok := rs.owner.AbortTime(); ok {
		if terr := rs.rec.Transition(record.StateAborted, ErrCancelled.Error()); terr != nil {
			rs.logger.Error("illegal transition on pre-start abort", "error", terr)
		}
		rs.persist()
		rs.finalize(ErrCancelled)
		return ErrCancelled
	}

	if berr := rs.listener.runBefore(rs.logger, rs.rec.Snapshot()); berr != nil {
		if terr := rs.rec.Transition(record.StateAborted, berr.Error()); terr != nil {
			rs.logger.Error("illegal transition on before-listener veto", "error", terr)
		}
		rs.persist()
		rs.finalize(berr)
		return berr
	}

	if terr := rs.rec.Transition(record.StateRunning, ""); terr != nil {
		rs.logger.Error("illegal transition to running", "error", terr)
	}
	rs.persist()

	runErr := rs.work.Run(ctx)

	final := classifyOutcome(ctx, runErr)
	if terr := rs.rec.Transition(final.state, errString(final.cause)); terr != nil {
		rs.logger.Error("illegal terminal transition", "error", terr, "target", final.state)
	}
	rs.persist()
	rs.finalize(final.cause)
	return runErr
}

type outcome struct {
	state record.State
	cause error
}

func classifyOutcome(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcome{state: record.StateSuccess}
	case isCancellation(ctx, err):
		return outcome{state: record.StateAborted, cause: err}
	default:
		return outcome{state: record.StateFailure, cause: err}
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrCancelled) || errors.Is(err, pool.ErrCancelled) || errors.Is(err, pool.ErrInterrupted)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// finalize runs exactly once per subtask regardless of which goroutine
// reaches a terminal outcome first: the subtask's own Run body on natural
// completion, or the owning group's wait loop forcing a cancellation via
// future.Cancel. Whichever path calls finalize first wins; the other is a
// no-op, since by the time both could run the record has already reached a
// terminal state and there is nothing further to report.
func (rs *RunnableSubtask) finalize(cause error) {
	rs.once.Do(func() {
		snap := rs.rec.Snapshot()
		execDur := snap.CompletedAt.Sub(snap.StartedAt)
		if snap.StartedAt.IsZero() {
			execDur = 0
		}
		rs.sink.ObserveExecution(snap.Type, string(snap.State), execDur)
		rs.appMetrics.SubtaskCompleted(snap.Type, string(snap.State))
		rs.listener.runAfter(rs.logger, snap, cause)
	})
}

// forceTerminal is called by the owning group's wait loop when a subtask
// must be cancelled from the outside -- its own time_limit elapsed, or the
// parent's abort grace did. It races with the subtask's own Run goroutine
// reaching a terminal transition naturally; Transition is a no-op once the
// record is already terminal, and finalize's sync.Once makes the second
// caller's work a no-op too.
func (rs *RunnableSubtask) forceTerminal(state record.State, cause error) {
	if terr := rs.rec.Transition(state, errString(cause)); terr != nil {
		rs.logger.Debug("forceTerminal: record already terminal", "error", terr)
	}
	rs.persist()
	rs.finalize(cause)
}

func (rs *RunnableSubtask) persist() {
	if err := rs.store.Update(rs.rec); err != nil {
		rs.logger.Error("failed to persist subtask record", "id", rs.rec.ID, "error", err)
	}
}
