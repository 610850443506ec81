// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"errors"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/taskexec/taskexec/record"
)

// BeforeFunc runs just before a task or subtask transitions into
// record.StateRunning. Returning an error that wraps ErrCancelled skips
// execution and transitions the record straight to Aborted; any other
// error is logged and ignored, matching section 7's "listener exceptions
// are caught and logged but do not re-enter the state machine."
type BeforeFunc func(rec record.TaskRecord) error

// AfterFunc runs once a task or subtask reaches a terminal state. cause is
// nil on success.
type AfterFunc func(rec record.TaskRecord, cause error)

// Listener is the before/after hook pair callers register on a task or
// subtask.
type Listener struct {
	Before BeforeFunc
	After  AfterFunc
}

func (l Listener) runBefore(logger hclog.Logger, rec record.TaskRecord) (err error) {
	if l.Before == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("before listener panicked; ignoring", "panic", p)
			err = nil
		}
	}()

	if berr := l.Before(rec); berr != nil {
		if errors.Is(berr, ErrCancelled) {
			return ErrCancelled
		}
		logger.Warn("before listener returned a non-cancellation error; ignoring", "error", berr)
	}
	return nil
}

func (l Listener) runAfter(logger hclog.Logger, rec record.TaskRecord, cause error) {
	if l.After == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("after listener panicked; ignoring", "panic", p)
		}
	}()
	l.After(rec, cause)
}
