// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Package record defines the durable TaskRecord and its legal state
// transitions. A TaskRecord is written through to the Task Store before any
// external effect is allowed to depend on it.
package record

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"
)

// State is the lifecycle state of a task or subtask record.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateSuccess      State = "success"
	StateFailure      State = "failure"
	StateAborted      State = "aborted"
)

// Terminal reports whether the state is one from which no further
// transition is legal.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateAborted:
		return true
	default:
		return false
	}
}

// legalTransitions encodes the state graph from section 3 of the task
// record contract: Created -> Initializing -> Running -> {Success, Failure,
// Aborted}; Created or Initializing may also jump straight to Aborted
// (pre-start cancellation) or Failure (submission error).
var legalTransitions = map[State]map[State]bool{
	StateCreated: {
		StateInitializing: true,
		StateAborted:       true,
		StateFailure:       true,
	},
	StateInitializing: {
		StateRunning: true,
		StateAborted: true,
		StateFailure: true,
	},
	StateRunning: {
		StateSuccess: true,
		StateFailure: true,
		StateAborted: true,
	},
}

// GroupTypeTag is a coarse, author-supplied phase label attached to every
// member of a subtask group. The zero value is intentionally invalid so a
// forgotten tag is caught in review rather than silently defaulted to a
// meaningful phase.
type GroupTypeTag string

const (
	GroupTypeInvalid     GroupTypeTag = ""
	GroupTypeValidate    GroupTypeTag = "validate"
	GroupTypeProvision   GroupTypeTag = "provision"
	GroupTypeConfigure   GroupTypeTag = "configure"
	GroupTypeUpgrade     GroupTypeTag = "upgrade"
	GroupTypeHealthCheck GroupTypeTag = "health_check"
	GroupTypeTeardown    GroupTypeTag = "teardown"
)

// TopLevelPosition is the position value stored on a top-level task's
// record; subtasks store the zero-based index of their owning group.
const TopLevelPosition = -1

// Payload excerpt and error truncation limits from the wire contract.
const (
	payloadExcerptLimit = 500
	errorMiddleLimit     = 3000
)

// SecretRedactor removes sensitive fields from a payload before it is
// persisted. Callers register the field names that must never reach the
// Task Store.
type SecretRedactor struct {
	fields map[string]struct{}
}

// NewSecretRedactor builds a redactor for the given field names.
func NewSecretRedactor(fields ...string) *SecretRedactor {
	r := &SecretRedactor{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		r.fields[f] = struct{}{}
	}
	return r
}

// Redact returns a shallow copy of payload with registered fields replaced
// by a fixed marker. A nil redactor is a no-op passthrough.
func (r *SecretRedactor) Redact(payload map[string]any) map[string]any {
	if r == nil || len(payload) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, secret := r.fields[k]; secret {
			out[k] = "<redacted>"
			continue
		}
		out[k] = v
	}
	return out
}

// TruncateError trims an error string to the wire contract's middle-3000
// rule: the head and tail are preserved and the middle is collapsed so the
// cause and the most recent frames both survive truncation.
func TruncateError(s string) string {
	if len(s) <= errorMiddleLimit {
		return s
	}
	half := (errorMiddleLimit - len("...")) / 2
	return s[:half] + "..." + s[len(s)-half:]
}

// TruncatePayloadExcerpt trims a serialized payload for storage in logs or
// error context, never in the persisted record itself.
func TruncatePayloadExcerpt(s string) string {
	if len(s) <= payloadExcerptLimit {
		return s
	}
	return s[:payloadExcerptLimit]
}

// TaskRecord is the durable representation of a task or subtask. All
// mutators synchronize on the record instance per the concurrency model in
// section 5: cross-record ordering is not guaranteed, but writes to a
// single record are serialized.
type TaskRecord struct {
	mu sync.Mutex

	ID           string
	ParentID     string
	Type         string
	State        State
	Position     int
	GroupTypeTag GroupTypeTag
	Owner        string
	Payload      map[string]any
	Error        string

	ScheduledAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// ModifiedAt is bumped by Heartbeat to give external watchers a
	// liveness signal independent of state transitions.
	ModifiedAt time.Time

	// Dirty is set whenever the record has changed since its last
	// successful write through the Task Store.
	Dirty bool
}

// New creates a record in StateCreated. Top-level tasks pass
// record.TopLevelPosition; subtasks pass the index of their owning group.
func New(id, taskType, owner string, parentID string, position int, payload map[string]any) *TaskRecord {
	return &TaskRecord{
		ID:         id,
		ParentID:   parentID,
		Type:       taskType,
		State:      StateCreated,
		Position:   position,
		Owner:      owner,
		Payload:    payload,
		ModifiedAt: time.Now(),
		Dirty:      true,
	}
}

// Transition moves the record to the given state, failing if the edge is
// not legal per the state graph. errText, when non-empty, is recorded
// before the state is written, per section 7: "A Failure or Aborted
// transition writes the error string into the record before the state is
// written."
func (r *TaskRecord) Transition(to State, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.State
	if from == to {
		return nil
	}
	allowed := legalTransitions[from]
	if allowed == nil || !allowed[to] {
		return fmt.Errorf("record %s: illegal transition %s -> %s", r.ID, from, to)
	}

	if errText != "" {
		r.Error = TruncateError(errText)
	}

	now := time.Now()
	switch to {
	case StateRunning:
		r.StartedAt = now
	case StateSuccess, StateFailure, StateAborted:
		r.CompletedAt = now
	}

	r.State = to
	r.ModifiedAt = now
	r.Dirty = true
	return nil
}

// MarkScheduled stamps the scheduled_at timestamp. Scheduling does not
// change the persisted state by itself.
func (r *TaskRecord) MarkScheduled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ScheduledAt = time.Now()
	r.ModifiedAt = r.ScheduledAt
	r.Dirty = true
}

// Heartbeat marks the record dirty and bumps ModifiedAt without touching
// state, letting external watchers detect liveness.
func (r *TaskRecord) Heartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ModifiedAt = time.Now()
	r.Dirty = true
}

// CurrentState returns the record's state under lock.
func (r *TaskRecord) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State
}

// CompareAndSetState performs the abort CAS described in section 4.5:
// transition to `to` only if the current state is one of `from`. Like
// Transition, it stamps CompletedAt when `to` is terminal, so a later
// natural Transition call that finds from == to (a no-op) never leaves the
// record missing its completion timestamp.
func (r *TaskRecord) CompareAndSetState(to State, from ...State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range from {
		if r.State == f {
			now := time.Now()
			r.State = to
			if to.Terminal() {
				r.CompletedAt = now
			}
			r.ModifiedAt = now
			r.Dirty = true
			return true
		}
	}
	return false
}

// Snapshot returns a value copy of the record safe for callers to read
// without holding the record's lock. Payload is deep-copied via
// copystructure so a caller mutating a nested map or slice in the snapshot
// can never reach back into the live record.
func (r *TaskRecord) Snapshot() TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r
	cp.mu = sync.Mutex{}
	cp.Payload = deepCopyPayload(r.Payload)
	return cp
}

func deepCopyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	copied, err := copystructure.Copy(payload)
	if err != nil {
		// Only returned when a value in the payload isn't copyable
		// (channels, funcs); fall back to the original reference rather
		// than drop the payload entirely.
		return payload
	}
	return copied.(map[string]any)
}

// ApplySnapshot overwrites r's fields with those of snap under r's own
// lock, per the same "mutators synchronize on the record instance"
// contract Transition and Heartbeat honor. Used by Task Store
// implementations to refresh a caller's record from the persisted copy
// without racing a concurrent Transition/Heartbeat on the same record.
func (r *TaskRecord) ApplySnapshot(snap TaskRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ParentID = snap.ParentID
	r.Type = snap.Type
	r.State = snap.State
	r.Position = snap.Position
	r.GroupTypeTag = snap.GroupTypeTag
	r.Owner = snap.Owner
	r.Payload = snap.Payload
	r.Error = snap.Error
	r.ScheduledAt = snap.ScheduledAt
	r.StartedAt = snap.StartedAt
	r.CompletedAt = snap.CompletedAt
	r.ModifiedAt = snap.ModifiedAt
	r.Dirty = snap.Dirty
}

// ClearDirty marks the record as having been persisted.
func (r *TaskRecord) ClearDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Dirty = false
}

// IsDirty reports whether the record has unpersisted changes.
func (r *TaskRecord) IsDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Dirty
}
