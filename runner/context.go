// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"

	"github.com/taskexec/taskexec/record"
)

// Task is implemented by user code registered with the Task Registry.
// Initialize runs synchronously inside create_runnable, before the record is
// persisted; Run is the worker-side body, invoked with a TaskContext that
// lets the author declare subtask groups and run them.
type Task interface {
	Initialize(params map[string]any) error
	Run(tc *TaskContext) error
}

// Abortable is implemented by task types that may receive an abort signal
// while running. Types that don't implement it are treated as
// non-abortable, per section 4.1's "default to false if unmarked."
type Abortable interface {
	Abortable() bool
}

// Retryable is implemented by task types that may be resubmitted with the
// same params after a failure.
type Retryable interface {
	Retryable() bool
}

// TaskContext is the handle an author's Run body uses to declare and
// execute subtask groups. It embeds context.Context so user code can pass
// it straight through to anything that takes one. That context is the one
// the worker pool passed to the task's Run: Done/Err fire only when the
// task's own future is cancelled with interrupt. Executor.Abort and
// Executor.Shutdown set the task's abort time and do not cancel it.
type TaskContext struct {
	context.Context

	rt *RunnableTask
}

// AddGroup attaches group to the owning task at the next position.
func (tc *TaskContext) AddGroup(group *SubtaskGroup) {
	tc.rt.AddGroup(group)
}

// AddGroupAt attaches group at an explicit position, overriding the
// monotonic counter. Used when replaying previously-scheduled work.
func (tc *TaskContext) AddGroupAt(group *SubtaskGroup, position int) {
	tc.rt.AddGroupAt(group, position)
}

// RunGroups executes every attached group in attachment order. It must be
// called at most once per Run invocation.
func (tc *TaskContext) RunGroups() error {
	return tc.rt.RunGroups(tc.Context)
}

// Heartbeat marks the owning task's record dirty and bumps its modified
// timestamp, giving external watchers a liveness signal during long runs.
func (tc *TaskContext) Heartbeat() {
	tc.rt.Heartbeat()
}

// Record returns a point-in-time snapshot of the owning task's record.
func (tc *TaskContext) Record() record.TaskRecord {
	return tc.rt.Record().Snapshot()
}
