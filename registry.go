// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package taskexec

import (
	"sync"

	"github.com/taskexec/taskexec/runner"
)

// Factory constructs a fresh, zero-value task instance ready to be
// initialized with params.
type Factory func() runner.Task

// Descriptor carries the two capability markers section 4.1 reads at abort
// time and resubmission time. Unmarked types default to false for both.
type Descriptor struct {
	Abortable bool
	Retryable bool
}

type registryEntry struct {
	factory    Factory
	descriptor Descriptor
}

// Registry is the static task-type -> factory mapping described in section
// 4.1. It replaces a reflection-driven class lookup with an explicit
// registration table: every task type is registered once, at startup, with
// a constructor closure and a flat capability descriptor.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register records factory under taskType with an explicit descriptor.
// Registering the same type twice overwrites the previous entry.
func (r *Registry) Register(taskType string, factory Factory, descriptor Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[taskType] = registryEntry{factory: factory, descriptor: descriptor}
}

// RegisterAuto records factory under taskType, deriving the descriptor by
// probing a freshly constructed instance against the runner.Abortable and
// runner.Retryable interfaces -- the flat-table equivalent of the source's
// inheritance-chain capability lookup.
func (r *Registry) RegisterAuto(taskType string, factory Factory) {
	probe := factory()
	var d Descriptor
	if a, ok := probe.(runner.Abortable); ok {
		d.Abortable = a.Abortable()
	}
	if rt, ok := probe.(runner.Retryable); ok {
		d.Retryable = rt.Retryable()
	}
	r.Register(taskType, factory, d)
}

// Lookup returns the factory and descriptor for taskType, or
// ErrUnknownTaskType.
func (r *Registry) Lookup(taskType string) (Factory, Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[taskType]
	if !ok {
		return nil, Descriptor{}, ErrUnknownTaskType
	}
	return entry.factory, entry.descriptor, nil
}

// Abortable reports whether taskType is registered and marked abortable.
// Unregistered types report false.
func (r *Registry) Abortable(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[taskType].descriptor.Abortable
}

// Retryable reports whether taskType is registered and marked retryable.
func (r *Registry) Retryable(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[taskType].descriptor.Retryable
}
