// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Package echo is a minimal demonstration task type: it runs a single group
// of subtasks that each sleep for a configurable delay before returning,
// giving the task-executor CLI something concrete to submit and wait for.
package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
	"github.com/taskexec/taskexec/runner"
)

// TaskType is the registry key this package's factory is registered under.
const TaskType = "echo"

// Task says message once per subtask, after sleeping delay. params:
//   - "message" (string, required)
//   - "delay_ms" (number, optional)
//   - "count" (number, optional, default 1) -- number of subtasks in the
//     single group
type Task struct {
	message string
	delay   time.Duration
	count   int

	said []string
}

var _ runner.Task = (*Task)(nil)

// New constructs a fresh, uninitialized echo task. Registered with the Task
// Registry as this type's Factory.
func New() runner.Task { return &Task{} }

// Initialize implements runner.Task.
func (t *Task) Initialize(params map[string]any) error {
	msg, _ := params["message"].(string)
	if msg == "" {
		return fmt.Errorf("echo: params.message is required")
	}
	t.message = msg

	if d, ok := params["delay_ms"].(float64); ok && d > 0 {
		t.delay = time.Duration(d) * time.Millisecond
	}

	t.count = 1
	if c, ok := params["count"].(float64); ok && c > 0 {
		t.count = int(c)
	}
	return nil
}

// Run implements runner.Task: it adds one group with t.count subtasks, each
// of which sleeps t.delay and then records that it said the message.
func (t *Task) Run(tc *runner.TaskContext) error {
	group := runner.NewGroup("say", record.GroupTypeValidate)

	for i := 0; i < t.count; i++ {
		idx := i
		group.AddSubtask(TaskType, pool.RunnableFunc(func(ctx context.Context) error {
			timer := time.NewTimer(t.delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
			t.said = append(t.said, fmt.Sprintf("%s (%d)", t.message, idx))
			return nil
		}), map[string]any{}, runner.Listener{})
	}

	tc.AddGroup(group)
	return tc.RunGroups()
}

// Abortable implements runner.Abortable: echo tasks cooperate with abort at
// their sleep checkpoint.
func (t *Task) Abortable() bool { return true }
