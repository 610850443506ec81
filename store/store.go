// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Package store defines the Task Store contract: the durable collaborator
// that the executor writes every TaskRecord transition through before any
// external effect is allowed to depend on it. This package is the external
// boundary named in section 6 of the design; concrete implementations
// (Bolt-backed, in-memory) live alongside the interface so callers can pick
// the one that matches their deployment.
package store

import (
	"errors"
	"fmt"

	"github.com/taskexec/taskexec/record"
)

// ErrNotFound is returned by Get when no record exists for the given id.
var ErrNotFound = errors.New("taskexec: record not found")

// TaskStore is the durable record collaborator. Implementations are not
// expected to provide read-modify-write guards beyond what callers already
// enforce by synchronizing on the TaskRecord instance itself; Save, Update
// and MarkDirty are full-record writes.
type TaskStore interface {
	// Save persists a record for the first time.
	Save(rec *record.TaskRecord) error
	// Update overwrites the persisted record with the current in-memory
	// state. It is called after every legal state transition.
	Update(rec *record.TaskRecord) error
	// Refresh re-reads the record from durable storage into rec.
	Refresh(rec *record.TaskRecord) error
	// MarkDirty persists a record whose only change is its ModifiedAt
	// liveness stamp (see TaskRecord.Heartbeat).
	MarkDirty(rec *record.TaskRecord) error
	// Get fetches a record by id.
	Get(id string) (*record.TaskRecord, error)
	// Close releases any resources held by the store.
	Close() error
}

// Redactor is implemented by a store that wants to strip sensitive payload
// fields before a record crosses the persistence boundary. Stores that
// don't hold one persist payloads verbatim.
type Redactor interface {
	SetRedactor(r *record.SecretRedactor)
}

func wrapf(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("taskexec: store %s %q: %w", op, id, err)
}
