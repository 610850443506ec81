// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/record"
)

// DefaultSpinInterval is the fixed poll interval the wait policy uses when
// round-robining over a group's pending subtask futures. A package-level
// var, not a const, so tests can shrink it instead of waiting out the real
// interval.
var DefaultSpinInterval = 2 * time.Second

// DefaultAbortGrace is the window between an abort signal and a still
// running, cancellable subtask being forcibly cancelled.
var DefaultAbortGrace = 60 * time.Second

type subtaskSpec struct {
	taskType string
	work     pool.Runnable
	payload  map[string]any
	listener Listener
}

// SubtaskGroup is a named, in-memory set of subtasks plus a group policy. It
// lives entirely in the memory of its owning RunnableTask; authors build one
// with NewGroup, add work with AddSubtask, and attach it to a task with
// TaskContext.AddGroup.
type SubtaskGroup struct {
	name         string
	groupTypeTag record.GroupTypeTag
	ignoreErrors bool
	explicitPool pool.WorkerPool

	position int
	specs    []subtaskSpec
	members  *subtaskSet
}

// NewGroup creates an empty group tagged with the given phase label.
func NewGroup(name string, tag record.GroupTypeTag) *SubtaskGroup {
	return &SubtaskGroup{
		name:         name,
		groupTypeTag: tag,
		position:     -1,
		members:      newSubtaskSet(),
	}
}

// WithPool pins the group to an explicit worker pool, bypassing the
// Executor Provider.
func (g *SubtaskGroup) WithPool(wp pool.WorkerPool) *SubtaskGroup {
	g.explicitPool = wp
	return g
}

// WithIgnoreErrors sets the group's error policy: when true, member
// failures are logged but do not propagate to the parent task.
func (g *SubtaskGroup) WithIgnoreErrors(ignore bool) *SubtaskGroup {
	g.ignoreErrors = ignore
	return g
}

// Name returns the group's author-supplied label.
func (g *SubtaskGroup) Name() string { return g.name }

// IgnoreErrors reports the group's error policy.
func (g *SubtaskGroup) IgnoreErrors() bool { return g.ignoreErrors }

// Position reports the group's zero-based index within its parent's group
// sequence, or -1 if it has not been attached yet.
func (g *SubtaskGroup) Position() int { return g.position }

// AddSubtask queues a unit of work for the group. The subtask's record is
// not created yet: it is constructed and persisted when the group is
// attached to its parent task, at which point position and parent_id become
// known.
func (g *SubtaskGroup) AddSubtask(taskType string, work pool.Runnable, payload map[string]any, listener Listener) {
	g.specs = append(g.specs, subtaskSpec{taskType: taskType, work: work, payload: payload, listener: listener})
}

// Members returns the group's constructed subtasks. Empty until the group
// has been attached.
func (g *SubtaskGroup) Members() []*RunnableSubtask { return g.members.slice() }

// IsEmpty reports whether the group has no queued work.
func (g *SubtaskGroup) IsEmpty() bool { return len(g.specs) == 0 }

// attach materializes each queued spec into a RunnableSubtask bound to
// owner, stamps parent_id and position, and persists each record through
// the Task Store. Called exactly once, by RunnableTask.AddGroup(At).
func (g *SubtaskGroup) attach(owner *RunnableTask, position int) error {
	g.position = position

	for _, spec := range g.specs {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return errors.New("taskexec: failed to generate subtask id: " + err.Error())
		}

		parentRec := owner.Record()
		rec := record.New(id, spec.taskType, parentRec.Owner, owner.ID(), position, spec.payload)
		rec.GroupTypeTag = g.groupTypeTag
		if err := rec.Transition(record.StateInitializing, ""); err != nil {
			return err
		}
		if err := owner.store.Save(rec); err != nil {
			return err
		}

		rs := newRunnableSubtask(spec.work, rec, spec.listener, owner)
		g.members.insert(rs)
	}
	return nil
}

// waitOutcome distinguishes "at least one member failed/aborted and the
// error should propagate" from "all members succeeded."
type waitOutcome struct {
	firstErr error
}

// run executes the group per section 4.3: resolve a pool, submit every
// member, then round-robin poll the pending futures at DefaultSpinInterval
// until the pending set drains. If any member failed at submission, the
// first such error is returned once the wait is over.
func (g *SubtaskGroup) run(ctx context.Context, rt *RunnableTask) (waitOutcome, error) {
	if g.IsEmpty() {
		return waitOutcome{}, nil
	}

	wp, err := g.resolvePool(rt)
	if err != nil {
		return waitOutcome{}, err
	}

	var submitErr error
	members := g.Members()
	for _, rs := range members {
		if serr := rs.SubmitTo(wp); serr != nil {
			rt.logger.Warn("subtask submission failed", "subtask", rs.Record().ID, "error", serr)
			if submitErr == nil {
				submitErr = serr
			}
		}
	}

	pending := make([]*RunnableSubtask, 0, len(members))
	for _, rs := range members {
		if rs.Future() != nil {
			pending = append(pending, rs)
		}
	}

	waitStart := time.Now()
	var out waitOutcome
	var allErrs *multierror.Error

	for len(pending) > 0 {
		next := pending[:0:0]
		for _, rs := range pending {
			f := rs.Future()
			err := f.Get(ctx, DefaultSpinInterval)

			switch {
			case err == nil:
				// Natural success; the subtask's own Run already
				// transitioned, persisted and finalized.

			case errors.Is(err, pool.ErrGetTimeout):
				if tl := rs.TimeLimit(); tl > 0 && time.Since(waitStart) >= tl {
					f.Cancel(true)
					rs.forceTerminal(record.StateAborted, ErrTimeout)
					allErrs = multierror.Append(allErrs, ErrTimeout)
					if out.firstErr == nil {
						out.firstErr = ErrTimeout
					}
					continue
				}
				if abortTime, ok := rt.AbortTime(); ok &&
					time.Since(abortTime) >= DefaultAbortGrace &&
					(rt.skipSubtaskAbortableCheck || rt.abortableFn(rs.Record().Type)) {
					f.Cancel(true)
					rs.forceTerminal(record.StateAborted, ErrCancelled)
					allErrs = multierror.Append(allErrs, ErrCancelled)
					if out.firstErr == nil {
						out.firstErr = ErrCancelled
					}
					continue
				}
				next = append(next, rs)

			case errors.Is(err, pool.ErrCancelled), errors.Is(err, pool.ErrInterrupted):
				rs.forceTerminal(record.StateAborted, ErrCancelled)
				allErrs = multierror.Append(allErrs, ErrCancelled)
				if out.firstErr == nil {
					out.firstErr = ErrCancelled
				}

			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				// The wait itself ended on the group's context, not on
				// the member finishing.
				rs.forceTerminal(record.StateFailure, err)
				allErrs = multierror.Append(allErrs, err)
				if out.firstErr == nil {
					out.firstErr = err
				}

			default:
				// Execution error; the subtask's own Run already
				// transitioned, persisted and finalized with this cause.
				allErrs = multierror.Append(allErrs, err)
				if out.firstErr == nil {
					out.firstErr = err
				}
			}
		}
		pending = next
	}

	// Only the first error propagates to the parent task, per the wait
	// policy; the rest are retained here purely for diagnostics when more
	// than one member failed in the same group.
	if allErrs != nil && allErrs.Len() > 1 {
		rt.logger.Warn("group completed with multiple member errors", "group", g.name, "errors", allErrs)
	}

	if submitErr != nil {
		return out, submitErr
	}
	return out, nil
}

func (g *SubtaskGroup) resolvePool(rt *RunnableTask) (pool.WorkerPool, error) {
	if g.explicitPool != nil {
		return g.explicitPool, nil
	}
	if rt.provider == nil {
		return nil, errors.New("taskexec: group has no explicit pool and task has no provider")
	}
	return rt.provider.PoolFor(rt.Record().Type)
}
