// Package session holds the per-print session state shared between the
// printer connection and the streaming pipeline. The connection is the
// only writer; pipeline stages read momentary snapshots through atomic
// loads and never block on state changes.
package session

import (
	"sync/atomic"

	"printstream/pkg/errors"
)

// CommState is the printer connection's top-level state machine.
type CommState int32

const (
	Idle CommState = iota
	Connecting
	Connected
	Printing
	Paused
	Finishing
)

// String returns the string representation of the state.
func (s CommState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Printing:
		return "printing"
	case Paused:
		return "paused"
	case Finishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates the allowed forward transitions. A
// transition to Idle is additionally legal from any non-idle state
// (disconnect, cancel, error) and is handled separately.
var legalTransitions = map[CommState][]CommState{
	Idle:       {Connecting},
	Connecting: {Connected},
	Connected:  {Printing},
	Printing:   {Paused, Finishing},
	Paused:     {Printing, Finishing},
	Finishing:  {},
}

// State is the process-wide, per-active-print session state. Only one
// print session is active at a time. All mutation goes through the
// printer connection; stages keep a read-only reference.
type State struct {
	state atomic.Int32
	task  atomic.Pointer[Task]
}

// NewState creates a session state in the Idle state with no task.
func NewState() *State {
	return &State{}
}

// Comm returns the current communication state.
func (s *State) Comm() CommState {
	return CommState(s.state.Load())
}

// Task returns the active print task, or nil when idle.
func (s *State) Task() *Task {
	return s.task.Load()
}

// Transition moves the state machine to a new state, validating the
// move. Transitioning to Idle is always legal from a non-idle state
// (cancellation is not an error); it clears the active task.
func (s *State) Transition(to CommState) error {
	from := s.Comm()
	if to == Idle {
		if from == Idle {
			return nil
		}
		s.state.Store(int32(to))
		s.task.Store(nil)
		return nil
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			s.state.Store(int32(to))
			return nil
		}
	}
	return errors.StateTransitionError(from.String(), to.String())
}

// StartTask installs a new active print task. Legal only while
// Connected; the caller transitions to Printing afterwards.
func (s *State) StartTask(task *Task) error {
	if s.Comm() != Connected {
		return errors.New(errors.ErrSessionTask,
			"print task can only start while connected")
	}
	s.task.Store(task)
	return nil
}

// GetStatus returns a status snapshot for tooling.
func (s *State) GetStatus() map[string]any {
	status := map[string]any{
		"state": s.Comm().String(),
	}
	if task := s.Task(); task != nil {
		status["task"] = task.GetStatus()
	} else {
		status["task"] = nil
	}
	return status
}
