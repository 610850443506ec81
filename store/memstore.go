// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"sync"

	"github.com/taskexec/taskexec/record"
)

// MemStore is an in-memory TaskStore, useful for tests and for single-node
// deployments that accept losing in-flight tasks on crash (recovery of
// partially executed tasks after a process restart is out of scope; a task
// in flight at crash time is considered failed on recovery regardless of
// the store backing it).
type MemStore struct {
	mu       sync.RWMutex
	records  map[string]*record.TaskRecord
	redactor *record.SecretRedactor
}

var _ TaskStore = (*MemStore)(nil)
var _ Redactor = (*MemStore)(nil)

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*record.TaskRecord)}
}

// SetRedactor installs the secret redaction filter applied to payloads
// before they are retained by Save/Update.
func (s *MemStore) SetRedactor(r *record.SecretRedactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redactor = r
}

func (s *MemStore) persist(rec *record.TaskRecord) {
	snap := rec.Snapshot()
	snap.Payload = s.redactor.Redact(snap.Payload)
	s.records[snap.ID] = &snap
	rec.ClearDirty()
}

// Save persists rec for the first time.
func (s *MemStore) Save(rec *record.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist(rec)
	return nil
}

// Update overwrites the persisted copy of rec.
func (s *MemStore) Update(rec *record.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return wrapf("update", rec.ID, ErrNotFound)
	}
	s.persist(rec)
	return nil
}

// MarkDirty persists the liveness stamp written by TaskRecord.Heartbeat.
func (s *MemStore) MarkDirty(rec *record.TaskRecord) error {
	return s.Update(rec)
}

// Refresh overwrites rec's fields with the persisted snapshot.
func (s *MemStore) Refresh(rec *record.TaskRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.records[rec.ID]
	if !ok {
		return wrapf("refresh", rec.ID, ErrNotFound)
	}
	rec.ApplySnapshot(stored.Snapshot())
	return nil
}

// Get fetches the persisted record for id.
func (s *MemStore) Get(id string) (*record.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.records[id]
	if !ok {
		return nil, wrapf("get", id, ErrNotFound)
	}
	snap := stored.Snapshot()
	return &snap, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
