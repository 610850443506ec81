// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// BoundedPool is a WorkerPool backed by a fixed number of concurrent
// goroutines, gated by a weighted semaphore. Submit never blocks: a
// Runnable that can't immediately acquire a slot waits in its own
// goroutine, which is exactly where a caller's Future.Cancel can reach it.
type BoundedPool struct {
	name string
	sem  *semaphore.Weighted
}

var _ WorkerPool = (*BoundedPool)(nil)

// NewBoundedPool creates a pool named name that runs at most capacity
// Runnables concurrently.
func NewBoundedPool(name string, capacity int64) *BoundedPool {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedPool{name: name, sem: semaphore.NewWeighted(capacity)}
}

// Name returns the pool's label, used for logging and metrics.
func (p *BoundedPool) Name() string { return p.name }

// Submit implements WorkerPool.
func (p *BoundedPool) Submit(r Runnable) (Future, error) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFuture(cancel)

	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.finish(err)
			return
		}
		defer p.sem.Release(1)

		f.markStarted()
		f.finish(r.Run(ctx))
	}()

	return f, nil
}
