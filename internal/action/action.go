package action

import (
	"context"
	"time"
)

// State describes where a scheduled action is in its lifecycle.
type State int

const (
	// StatePending means the action is waiting out its delay.
	StatePending State = iota
	// StateRunning means the action's step is executing.
	StateRunning
	// StateStopped means the action was cancelled or failed before finishing.
	StateStopped
	// StateDone means the action ran to natural completion.
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Action is one schedulable unit of entity behavior. Wait is the delay before
// each step; Act performs the step and reports whether another step should
// follow. Actions reporting Cancellable false cannot be preempted once
// scheduled.
type Action interface {
	Act(ctx context.Context) (again bool, err error)
	Wait() time.Duration
	Cancellable() bool
}
