// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taskexec/taskexec/record"
	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("task_records")

// wireRecord is the on-disk shape of a TaskRecord. It mirrors the exported
// fields of record.TaskRecord; the record's internal mutex never crosses
// the persistence boundary.
type wireRecord struct {
	ID           string
	ParentID     string
	Type         string
	State        record.State
	Position     int
	GroupTypeTag record.GroupTypeTag
	Owner        string
	Payload      map[string]any
	Error        string
	ScheduledAt  int64
	StartedAt    int64
	CompletedAt  int64
	ModifiedAt   int64
}

// BoltStore persists TaskRecords to a single bbolt bucket, keyed by record
// id. It is the durable backing store for a single-node deployment; HA
// replication of these records is an external collaborator's concern.
type BoltStore struct {
	db       *bolt.DB
	mu       sync.Mutex
	redactor *record.SecretRedactor
}

var _ TaskStore = (*BoltStore)(nil)
var _ Redactor = (*BoltStore)(nil)

// NewBoltStore opens (creating if necessary) a bbolt database at path and
// ensures the records bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("taskexec: open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("taskexec: init bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// SetRedactor installs the secret redaction filter applied to payloads
// before they are written to disk.
func (s *BoltStore) SetRedactor(r *record.SecretRedactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redactor = r
}

func toWire(rec *record.TaskRecord, redactor *record.SecretRedactor) *wireRecord {
	snap := rec.Snapshot()
	return &wireRecord{
		ID:           snap.ID,
		ParentID:     snap.ParentID,
		Type:         snap.Type,
		State:        snap.State,
		Position:     snap.Position,
		GroupTypeTag: snap.GroupTypeTag,
		Owner:        snap.Owner,
		Payload:      redactor.Redact(snap.Payload),
		Error:        snap.Error,
		ScheduledAt:  snap.ScheduledAt.UnixNano(),
		StartedAt:    snap.StartedAt.UnixNano(),
		CompletedAt:  snap.CompletedAt.UnixNano(),
		ModifiedAt:   snap.ModifiedAt.UnixNano(),
	}
}

func (s *BoltStore) put(rec *record.TaskRecord) error {
	s.mu.Lock()
	w := toWire(rec, s.redactor)
	s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(recordsBucket)
		buf, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(w.ID), buf)
	})
	if err != nil {
		return err
	}
	rec.ClearDirty()
	return nil
}

// Save persists rec for the first time.
func (s *BoltStore) Save(rec *record.TaskRecord) error {
	return wrapf("save", rec.ID, s.put(rec))
}

// Update overwrites the persisted copy of rec.
func (s *BoltStore) Update(rec *record.TaskRecord) error {
	return wrapf("update", rec.ID, s.put(rec))
}

// MarkDirty persists the liveness stamp written by TaskRecord.Heartbeat.
func (s *BoltStore) MarkDirty(rec *record.TaskRecord) error {
	return wrapf("mark-dirty", rec.ID, s.put(rec))
}

// Refresh re-reads rec's persisted fields from disk.
func (s *BoltStore) Refresh(rec *record.TaskRecord) error {
	stored, err := s.Get(rec.ID)
	if err != nil {
		return wrapf("refresh", rec.ID, err)
	}
	rec.ApplySnapshot(stored.Snapshot())
	return nil
}

// Get fetches the persisted record for id.
func (s *BoltStore) Get(id string) (*record.TaskRecord, error) {
	var w wireRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(recordsBucket)
		buf := bkt.Get([]byte(id))
		if buf == nil {
			return nil
		}
		found = true
		return json.Unmarshal(buf, &w)
	})
	if err != nil {
		return nil, wrapf("get", id, err)
	}
	if !found {
		return nil, wrapf("get", id, ErrNotFound)
	}

	rec := record.New(w.ID, w.Type, w.Owner, w.ParentID, w.Position, w.Payload)
	rec.GroupTypeTag = w.GroupTypeTag
	rec.State = w.State
	rec.Error = w.Error
	rec.ScheduledAt = fromUnixNano(w.ScheduledAt)
	rec.StartedAt = fromUnixNano(w.StartedAt)
	rec.CompletedAt = fromUnixNano(w.CompletedAt)
	rec.ModifiedAt = fromUnixNano(w.ModifiedAt)
	rec.ClearDirty()
	return rec, nil
}

// Close flushes and closes the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
