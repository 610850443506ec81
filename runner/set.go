// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"sync"

	"github.com/hashicorp/go-set/v3"
)

// subtaskSet is the group's concurrent member set described in section 5:
// members may be appended from the single author goroutine while listeners
// on other goroutines read the set. hashicorp/go-set supplies the
// collection; the mutex is the concurrency guard go-set itself doesn't
// provide.
type subtaskSet struct {
	mu  sync.Mutex
	set *set.Set[*RunnableSubtask]
}

func newSubtaskSet() *subtaskSet {
	return &subtaskSet{set: set.New[*RunnableSubtask](0)}
}

func (s *subtaskSet) insert(rs *RunnableSubtask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.Insert(rs)
}

func (s *subtaskSet) slice() []*RunnableSubtask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Slice()
}

func (s *subtaskSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Size()
}
