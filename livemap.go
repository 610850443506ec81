// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package taskexec

import (
	"context"
	"sync"
	"time"

	"github.com/taskexec/taskexec/runner"
)

// liveTaskMap is the in-memory registry of submitted top-level tasks
// described in section 5: a thread-safe map with an explicit seal terminal
// state and a wait-until-empty primitive, replacing a generic concurrent
// map with a purpose-built wrapper.
type liveTaskMap struct {
	mu     sync.Mutex
	tasks  map[string]*runner.RunnableTask
	sealed bool
	empty  *sync.Cond
}

func newLiveTaskMap() *liveTaskMap {
	m := &liveTaskMap{tasks: make(map[string]*runner.RunnableTask)}
	m.empty = sync.NewCond(&m.mu)
	return m
}

// insert adds rt to the map. Returns false if the map is sealed.
func (m *liveTaskMap) insert(rt *runner.RunnableTask) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return false
	}
	m.tasks[rt.ID()] = rt
	return true
}

// remove drops id from the map and wakes any waitUntilEmpty waiters once
// the map drains.
func (m *liveTaskMap) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	if len(m.tasks) == 0 {
		m.empty.Broadcast()
	}
}

// get returns the live task for id, if any.
func (m *liveTaskMap) get(id string) (*runner.RunnableTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.tasks[id]
	return rt, ok
}

// seal prevents any further inserts. Idempotent.
func (m *liveTaskMap) seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}

// snapshot returns every live task, for broadcasting the abort signal at
// shutdown.
func (m *liveTaskMap) snapshot() []*runner.RunnableTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*runner.RunnableTask, 0, len(m.tasks))
	for _, rt := range m.tasks {
		out = append(out, rt)
	}
	return out
}

// waitUntilEmpty blocks until the map drains to zero entries or timeout
// elapses, whichever comes first. Returns true on a clean drain. A drain
// that completes after the timeout still wakes this goroutine eventually,
// since every remove() that empties the map broadcasts.
func (m *liveTaskMap) waitUntilEmpty(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		for len(m.tasks) > 0 {
			m.empty.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
