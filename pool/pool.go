// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Package pool supplies the worker-pool primitives the executor coordinates
// but does not itself own: a Runnable/Future pair modeling submitted work,
// and an ExecutorProvider that hands out a WorkerPool keyed by task type.
// The executor is a coordinator, never a pool, per section 5: a top-level
// task occupies one worker for the duration of its run; each subtask
// occupies one worker of (possibly) a different pool.
package pool

import (
	"context"
	"errors"
	"time"
)

// Runnable is anything a WorkerPool can execute. Run's return value becomes
// the Future's result. ctx is cancelled when the Future is cancelled with
// interrupt=true (or while still queued, regardless of interrupt); a
// well-behaved Runnable checks ctx at its natural suspension points.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error { return f(ctx) }

// Sentinel errors a Future.Get may return. Callers distinguish execution
// error, cancellation, interruption and timeout per section 6.
var (
	ErrCancelled   = errors.New("taskexec: future cancelled")
	ErrInterrupted = errors.New("taskexec: future interrupted")
	ErrGetTimeout  = errors.New("taskexec: future get timed out")
)

// Future is the handle returned by WorkerPool.Submit.
type Future interface {
	// Get blocks until the runnable completes, the context is done, or
	// timeout elapses (a non-positive timeout waits forever). It returns
	// the runnable's error, ErrCancelled if the future was cancelled before
	// it started, ErrInterrupted if it was cancelled while running,
	// ErrGetTimeout if the wait timed out, or ctx's error if ctx ended first.
	Get(ctx context.Context, timeout time.Duration) error
	// Cancel attempts to cancel the runnable. interrupt requests that an
	// already-running runnable be interrupted via its context rather than
	// merely prevented from starting. Returns true if this call caused
	// the cancellation.
	Cancel(interrupt bool) bool
	// Done reports whether the future has reached a terminal state.
	Done() bool
}

// WorkerPool submits Runnables for execution and returns a Future for each.
type WorkerPool interface {
	Submit(r Runnable) (Future, error)
}

// ExecutorProvider supplies a WorkerPool for a given task-type tag. It is an
// external collaborator: the executor never constructs pools itself.
type ExecutorProvider interface {
	PoolFor(taskType string) (WorkerPool, error)
}
