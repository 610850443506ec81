// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package taskexec

import "errors"

// ErrUnknownTaskType is returned by CreateRunnable when no factory is
// registered for the requested task type.
var ErrUnknownTaskType = errors.New("taskexec: unknown task type")

// ErrExecutorShuttingDown is returned by Submit once Shutdown has begun.
var ErrExecutorShuttingDown = errors.New("taskexec: executor is shutting down")

// ErrNotAbortable is returned by Abort when the target task's type does not
// carry the abortable capability marker.
var ErrNotAbortable = errors.New("taskexec: task type is not abortable")

// ErrTaskNotFound is returned by Abort and WaitFor when no live task
// matches the given id.
var ErrTaskNotFound = errors.New("taskexec: no such task")

// ErrWaitTimeout is returned by WaitFor when the given timeout elapses
// before the task completes.
var ErrWaitTimeout = errors.New("taskexec: wait for task timed out")
