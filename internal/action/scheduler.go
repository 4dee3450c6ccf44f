package action

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pixil98/go-realm/internal/store"
)

const (
	DefaultStopTimeout = 5 * time.Second
)

var (
	// ErrNotCancellable is returned when an entity's outstanding action
	// refuses preemption. The outstanding action keeps running.
	ErrNotCancellable = errors.New("outstanding action is not cancellable")
	// ErrStopTimeout is returned when a cancelled action fails to wind down
	// within the stop timeout. Actions are expected to honor cancellation at
	// step boundaries, so this indicates a misbehaving action.
	ErrStopTimeout = errors.New("timed out waiting for action to stop")
)

// Scheduler runs at most one action per entity. Scheduling over a cancellable
// action stops it synchronously first; scheduling over a non-cancellable one
// is rejected and leaves it untouched.
type Scheduler struct {
	mu          sync.Mutex
	slots       map[store.EntityID]*slot
	stopTimeout time.Duration
}

type slot struct {
	action   Action
	state    State
	stopOnce sync.Once
	cancel   chan struct{}
	done     chan struct{}
}

type SchedulerOpt func(*Scheduler)

func WithStopTimeout(d time.Duration) SchedulerOpt {
	return func(s *Scheduler) {
		s.stopTimeout = d
	}
}

func NewScheduler(opts ...SchedulerOpt) *Scheduler {
	s := &Scheduler{
		slots:       make(map[store.EntityID]*slot),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule installs a as the entity's action and starts its run loop. Any
// outstanding action is stopped first; if it refuses cancellation the request
// is rejected with ErrNotCancellable and the outstanding action is untouched.
func (s *Scheduler) Schedule(ctx context.Context, entity store.EntityID, a Action) error {
	s.mu.Lock()
	// The lock is released while waiting for the outstanding action to wind
	// down, so a racing Schedule may install a fresh slot in the meantime.
	// Re-check after every wait and preempt whatever is there now, or two
	// actions could end up running for one entity.
	for {
		prev, ok := s.slots[entity]
		if !ok {
			break
		}
		if !prev.action.Cancellable() {
			s.mu.Unlock()
			return ErrNotCancellable
		}
		prev.requestStop()
		s.mu.Unlock()
		if err := s.waitStopped(prev); err != nil {
			return err
		}
		s.mu.Lock()
	}

	sl := &slot{
		action: a,
		state:  StatePending,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.slots[entity] = sl
	s.mu.Unlock()

	go s.run(ctx, entity, sl)
	return nil
}

// StopIfExists stops the entity's outstanding action, if any. It returns true
// when the entity ends up with no running action, false when the outstanding
// action refused cancellation.
func (s *Scheduler) StopIfExists(ctx context.Context, entity store.EntityID) (bool, error) {
	s.mu.Lock()
	for {
		sl, ok := s.slots[entity]
		if !ok {
			s.mu.Unlock()
			return true, nil
		}
		if !sl.action.Cancellable() {
			s.mu.Unlock()
			return false, nil
		}
		sl.requestStop()
		s.mu.Unlock()
		if err := s.waitStopped(sl); err != nil {
			return false, err
		}
		// A racing Schedule may have installed a replacement while the lock
		// was released; stop that one too.
		s.mu.Lock()
	}
}

// Status reports the state of the entity's outstanding action. Finished
// actions vacate their slot, so ok is false once an action has ended.
func (s *Scheduler) Status(entity store.EntityID) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[entity]
	if !ok {
		return StateStopped, false
	}
	return sl.state, true
}

func (sl *slot) requestStop() {
	sl.stopOnce.Do(func() {
		close(sl.cancel)
	})
}

func (s *Scheduler) waitStopped(sl *slot) error {
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-sl.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

func (s *Scheduler) run(ctx context.Context, entity store.EntityID, sl *slot) {
	final := StateStopped
	defer func() {
		s.mu.Lock()
		sl.state = final
		// A preempting Schedule may have installed a newer slot already.
		if s.slots[entity] == sl {
			delete(s.slots, entity)
		}
		s.mu.Unlock()
		close(sl.done)
	}()

	for {
		timer := time.NewTimer(sl.action.Wait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-sl.cancel:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.setState(sl, StateRunning)
		again, err := sl.action.Act(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "action step failed", "entity", entity, "error", err)
			return
		}
		if !again {
			final = StateDone
			return
		}
		s.setState(sl, StatePending)
	}
}

func (s *Scheduler) setState(sl *slot, st State) {
	s.mu.Lock()
	sl.state = st
	s.mu.Unlock()
}
