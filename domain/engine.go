package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	maxConflictAttempts = 3
	maxPredecessorHops  = 64
)

// Result is the outcome of an operation that may complete a task.
type Result struct {
	Task ComplianceTask
	// Successor is the next instance spawned by a recurring task, if any.
	Successor *ComplianceTask
	// AlreadyCompleted is set when completion was requested for a task that
	// was already completed; nothing was written in that case.
	AlreadyCompleted bool
}

// Engine drives the compliance task lifecycle: the state machine, the
// predecessor gate and recurrence expansion. It holds no state of its own.
type Engine struct {
	store    TaskStore
	clock    Clock
	activity ActivityRecorder
	log      *log.Logger
}

// NewEngine creates an engine. A nil clock, recorder or logger falls back to
// the system clock, a no-op recorder and the standard logrus logger.
func NewEngine(store TaskStore, clock Clock, activity ActivityRecorder, logger *log.Logger) *Engine {
	if store == nil {
		panic("domain.NewEngine: store is nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if activity == nil {
		activity = NopRecorder{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{store: store, clock: clock, activity: activity, log: logger}
}

// CreateTask validates in and stores a new task in state Open.
func (e *Engine) CreateTask(ctx context.Context, actor Actor, in NewTaskInput) (ComplianceTask, error) {
	if err := in.Validate(); err != nil {
		return ComplianceTask{}, err
	}
	if in.PredecessorID != "" {
		if err := e.validatePredecessor(ctx, "", in.PredecessorID); err != nil {
			return ComplianceTask{}, err
		}
	}
	now := e.clock.Now()
	created, err := e.store.CreateTask(ctx, ComplianceTask{
		Description:   in.Description,
		Deadline:      in.Deadline,
		Category:      in.Category,
		State:         StateOpen,
		Recurrence:    in.Recurrence,
		PredecessorID: in.PredecessorID,
		AssigneeID:    in.AssigneeID,
		ReviewerID:    in.ReviewerID,
		ApproverID:    in.ApproverID,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return ComplianceTask{}, fmt.Errorf("create task: %w", err)
	}
	e.record(ctx, actor, Activity{
		Type:    ActivityTaskCreated,
		TaskID:  created.ID,
		Details: fmt.Sprintf("Task created: %s - %s", created.ID, created.Description),
	})
	return created, nil
}

// GetTask loads a single task.
func (e *Engine) GetTask(ctx context.Context, id string) (ComplianceTask, error) {
	return e.store.GetTask(ctx, id)
}

// ListTasks returns tasks in creation order. The Overdue filter is evaluated
// against the current time.
func (e *Engine) ListTasks(ctx context.Context, f TaskFilter) ([]ComplianceTask, error) {
	tasks, err := e.store.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.Overdue == nil {
		return tasks, nil
	}
	now := e.clock.Now()
	out := tasks[:0]
	for _, t := range tasks {
		if t.IsOverdue(now) == *f.Overdue {
			out = append(out, t)
		}
	}
	return out, nil
}

// Stats counts all, completed and overdue tasks.
func (e *Engine) Stats(ctx context.Context) (TaskStats, error) {
	tasks, err := e.store.ListTasks(ctx, TaskFilter{})
	if err != nil {
		return TaskStats{}, err
	}
	now := e.clock.Now()
	stats := TaskStats{Total: len(tasks)}
	for _, t := range tasks {
		if t.State == StateCompleted {
			stats.Completed++
		}
		if t.IsOverdue(now) {
			stats.Overdue++
		}
	}
	return stats, nil
}

// CompleteTask marks the task completed once its predecessor is completed and
// spawns the next instance of a recurring task. Completing a task that is
// already completed is a no-op.
func (e *Engine) CompleteTask(ctx context.Context, id string, actor Actor) (Result, error) {
	for attempt := 1; ; attempt++ {
		task, err := e.store.GetTask(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if task.State == StateCompleted {
			return Result{Task: task, AlreadyCompleted: true}, nil
		}
		if err := e.checkGate(ctx, actor, task, task.PredecessorID); err != nil {
			return Result{}, err
		}
		res, err := e.commitCompletion(ctx, actor, task)
		if errors.Is(err, ErrConcurrencyConflict) && attempt < maxConflictAttempts {
			e.log.WithFields(log.Fields{"task": id, "attempt": attempt}).Warn("completion raced with another writer, reloading")
			continue
		}
		return res, err
	}
}

// UpdateTask applies a partial update. A transition into Completed goes
// through the same gate and recurrence handling as CompleteTask; when the gate
// blocks, nothing in the patch is applied.
func (e *Engine) UpdateTask(ctx context.Context, id string, actor Actor, patch TaskPatch) (Result, error) {
	if err := patch.Validate(); err != nil {
		return Result{}, err
	}
	for attempt := 1; ; attempt++ {
		task, err := e.store.GetTask(ctx, id)
		if err != nil {
			return Result{}, err
		}
		predChanged := patch.PredecessorID != nil && *patch.PredecessorID != task.PredecessorID
		if predChanged && *patch.PredecessorID != "" {
			if err := e.validatePredecessor(ctx, id, *patch.PredecessorID); err != nil {
				return Result{}, err
			}
		}

		completing := patch.State != nil && *patch.State == StateCompleted && task.State != StateCompleted
		if completing {
			if err := e.checkGate(ctx, actor, task, task.PredecessorID); err != nil {
				return Result{}, err
			}
			if predChanged {
				if err := e.checkGate(ctx, actor, task, *patch.PredecessorID); err != nil {
					return Result{}, err
				}
			}
		}

		next := task
		patch.apply(&next)

		var res Result
		if completing {
			res, err = e.commitCompletion(ctx, actor, next)
		} else {
			res, err = e.commitUpdate(ctx, actor, next, patch)
		}
		if errors.Is(err, ErrConcurrencyConflict) && attempt < maxConflictAttempts {
			e.log.WithFields(log.Fields{"task": id, "attempt": attempt}).Warn("update raced with another writer, reloading")
			continue
		}
		return res, err
	}
}

func (e *Engine) commitUpdate(ctx context.Context, actor Actor, next ComplianceTask, patch TaskPatch) (Result, error) {
	if patch.State != nil {
		if next.State == StateCompleted && *patch.State != StateCompleted {
			next.CompletedAt = nil
		}
		next.State = *patch.State
	}
	next.UpdatedAt = e.clock.Now()
	saved, err := e.store.UpdateTask(ctx, next)
	if err != nil {
		return Result{}, fmt.Errorf("update task %s: %w", next.ID, err)
	}
	e.record(ctx, actor, Activity{
		Type:    ActivityTaskUpdated,
		TaskID:  saved.ID,
		Details: fmt.Sprintf("Task updated: %s (%s)", saved.ID, strings.Join(patch.fields(), ", ")),
	})
	return Result{Task: saved}, nil
}

func (e *Engine) commitCompletion(ctx context.Context, actor Actor, task ComplianceTask) (Result, error) {
	done, successor := completed(task, e.clock)
	saved, spawned, err := e.store.SaveCompletion(ctx, done, successor)
	if err != nil {
		return Result{}, fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	e.record(ctx, actor, Activity{
		Type:    ActivityTaskCompleted,
		TaskID:  saved.ID,
		Details: fmt.Sprintf("Task completed: %s", saved.ID),
	})
	if spawned != nil {
		e.record(ctx, actor, Activity{
			Type:    ActivityTaskRecurred,
			TaskID:  spawned.ID,
			Details: fmt.Sprintf("Recurring task %s spawned %s due %s", saved.ID, spawned.ID, spawned.Deadline.Format("2006-01-02")),
		})
	}
	return Result{Task: saved, Successor: spawned}, nil
}

// completed returns task in its completed form plus the successor instance
// for recurring frequencies.
func completed(task ComplianceTask, clock Clock) (ComplianceTask, *ComplianceTask) {
	now := clock.Now()
	done := task
	done.State = StateCompleted
	done.CompletedAt = &now
	done.UpdatedAt = now
	if !task.Recurrence.Recurs() {
		return done, nil
	}
	next := task
	next.ID = ""
	next.Version = ""
	next.State = StateOpen
	next.CompletedAt = nil
	next.Deadline = NextDueDate(task.Deadline, task.Recurrence)
	next.CreatedAt = now
	next.UpdatedAt = now
	return done, &next
}

// checkGate blocks completion while the predecessor exists and is not
// completed. A dangling reference does not block.
func (e *Engine) checkGate(ctx context.Context, actor Actor, task ComplianceTask, predecessorID string) error {
	if predecessorID == "" {
		return nil
	}
	pred, err := e.store.GetTask(ctx, predecessorID)
	if errors.Is(err, ErrNotFound) {
		e.log.WithFields(log.Fields{"task": task.ID, "predecessor": predecessorID}).Warn("predecessor no longer exists, completion allowed")
		return nil
	}
	if err != nil {
		return err
	}
	if pred.State == StateCompleted {
		return nil
	}
	e.record(ctx, actor, Activity{
		Type:    ActivityTaskCompletionBlocked,
		TaskID:  task.ID,
		Details: fmt.Sprintf("Completion of %s blocked by predecessor %s in state %s", task.ID, pred.ID, pred.State),
	})
	return ErrPredecessorIncomplete
}

// validatePredecessor checks that predecessorID exists and that linking
// taskID to it does not close a cycle.
func (e *Engine) validatePredecessor(ctx context.Context, taskID, predecessorID string) error {
	if taskID != "" && predecessorID == taskID {
		return &ValidationError{Field: "predecessorId", Reason: "must not reference the task itself"}
	}
	pred, err := e.store.GetTask(ctx, predecessorID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("predecessor %s: %w", predecessorID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if taskID == "" {
		return nil
	}
	cur := pred
	for hops := 0; cur.PredecessorID != ""; hops++ {
		if cur.PredecessorID == taskID {
			return &ValidationError{Field: "predecessorId", Reason: "would create a dependency cycle"}
		}
		if hops >= maxPredecessorHops {
			return &ValidationError{Field: "predecessorId", Reason: "dependency chain is too deep"}
		}
		cur, err = e.store.GetTask(ctx, cur.PredecessorID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Record stores an activity on behalf of actor, filling in its identity and
// time. Failures are logged only.
func (e *Engine) Record(ctx context.Context, actor Actor, a Activity) {
	e.record(ctx, actor, a)
}

func (e *Engine) record(ctx context.Context, actor Actor, a Activity) {
	a.ID = uuid.NewString()
	a.ActorID = actor.ID
	a.ActorRole = actor.Role
	a.Time = e.clock.Now()
	if err := e.activity.Record(ctx, a); err != nil {
		e.log.WithError(err).WithFields(log.Fields{"activity": a.Type, "task": a.TaskID}).Error("unable to record activity")
	}
}
