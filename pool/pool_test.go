// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoenig/test/must"
)

func TestBoundedPool_RunsAndGet(t *testing.T) {
	wp := NewBoundedPool("demo", 2)

	f, err := wp.Submit(RunnableFunc(func(ctx context.Context) error {
		return nil
	}))
	must.NoError(t, err)

	must.NoError(t, f.Get(context.Background(), time.Second))
	must.True(t, f.Done())
}

func TestBoundedPool_PropagatesRunError(t *testing.T) {
	wp := NewBoundedPool("demo", 1)
	boom := errors.New("boom")

	f, err := wp.Submit(RunnableFunc(func(ctx context.Context) error { return boom }))
	must.NoError(t, err)

	err = f.Get(context.Background(), time.Second)
	must.Error(t, err)
	must.True(t, errors.Is(err, boom))
}

func TestBoundedPool_Concurrency(t *testing.T) {
	wp := NewBoundedPool("demo", 3)

	started := make(chan struct{}, 3)
	release := make(chan struct{})

	futures := make([]Future, 0, 3)
	for i := 0; i < 3; i++ {
		f, err := wp.Submit(RunnableFunc(func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		}))
		must.NoError(t, err)
		futures = append(futures, f)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("not all three runnables started concurrently")
		}
	}
	close(release)

	for _, f := range futures {
		must.NoError(t, f.Get(context.Background(), time.Second))
	}
}

func TestFuture_CancelQueued(t *testing.T) {
	wp := NewBoundedPool("demo", 1)

	blocker := make(chan struct{})
	_, err := wp.Submit(RunnableFunc(func(ctx context.Context) error {
		<-blocker
		return nil
	}))
	must.NoError(t, err)

	f, err := wp.Submit(RunnableFunc(func(ctx context.Context) error { return nil }))
	must.NoError(t, err)

	must.True(t, f.Cancel(false))
	err = f.Get(context.Background(), time.Second)
	must.True(t, errors.Is(err, ErrCancelled))

	close(blocker)
}

func TestFuture_CancelRunningRequiresInterrupt(t *testing.T) {
	wp := NewBoundedPool("demo", 1)

	started := make(chan struct{})
	var f Future
	var err error
	f, err = wp.Submit(RunnableFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	must.NoError(t, err)

	<-started
	must.False(t, f.Cancel(false))
	must.True(t, f.Cancel(true))

	err = f.Get(context.Background(), time.Second)
	must.True(t, errors.Is(err, ErrInterrupted))
}

func TestFuture_GetTimeout(t *testing.T) {
	wp := NewBoundedPool("demo", 1)

	block := make(chan struct{})
	f, err := wp.Submit(RunnableFunc(func(ctx context.Context) error {
		<-block
		return nil
	}))
	must.NoError(t, err)

	err = f.Get(context.Background(), 10*time.Millisecond)
	must.True(t, errors.Is(err, ErrGetTimeout))
	close(block)
}

func TestStaticProvider_FallbackAndRegistered(t *testing.T) {
	fallback := NewBoundedPool("fallback", 1)
	dedicated := NewBoundedPool("dedicated", 1)

	p := NewStaticProvider(fallback)
	p.Register("special", dedicated)

	got, err := p.PoolFor("special")
	must.NoError(t, err)
	must.True(t, got == WorkerPool(dedicated))

	got, err = p.PoolFor("anything-else")
	must.NoError(t, err)
	must.True(t, got == WorkerPool(fallback))
}

func TestStaticProvider_NoFallbackFails(t *testing.T) {
	p := NewStaticProvider(nil)
	_, err := p.PoolFor("unknown")
	must.Error(t, err)
}
