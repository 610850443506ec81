// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import "errors"

// ErrCancelled is raised when a before-listener vetoes a task/subtask, when
// the abort grace elapses for a still-running subtask, or when a future is
// externally cancelled. It maps to record.StateAborted wherever it surfaces.
var ErrCancelled = errors.New("taskexec: cancelled")

// ErrTimeout is raised when a subtask exceeds its own time_limit. It also
// maps to record.StateAborted, distinct from a group-level or
// wait_for-level timeout which never touches task state.
var ErrTimeout = errors.New("taskexec: subtask exceeded its time limit")
