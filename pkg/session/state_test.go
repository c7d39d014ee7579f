package session

import (
	"sync"
	"testing"
)

func TestStateStringValues(t *testing.T) {
	cases := map[CommState]string{
		Idle:       "idle",
		Connecting: "connecting",
		Connected:  "connected",
		Printing:   "printing",
		Paused:     "paused",
		Finishing:  "finishing",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestLegalLifecycle(t *testing.T) {
	s := NewState()
	steps := []CommState{Connecting, Connected, Printing, Paused, Printing, Finishing, Idle}
	for _, step := range steps {
		if err := s.Transition(step); err != nil {
			t.Fatalf("transition to %s failed: %v", step, err)
		}
		if s.Comm() != step {
			t.Fatalf("state = %s, want %s", s.Comm(), step)
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	s := NewState()
	if err := s.Transition(Printing); err == nil {
		t.Error("Idle -> Printing should be rejected")
	}
	if err := s.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(Paused); err == nil {
		t.Error("Connecting -> Paused should be rejected")
	}
}

func TestCancelIsAlwaysLegal(t *testing.T) {
	for _, from := range []CommState{Connecting, Connected, Printing, Paused, Finishing} {
		s := NewState()
		s.state.Store(int32(from))
		if err := s.Transition(Idle); err != nil {
			t.Errorf("%s -> Idle should always be legal: %v", from, err)
		}
	}
	// Idle -> Idle is a no-op, not an error.
	s := NewState()
	if err := s.Transition(Idle); err != nil {
		t.Errorf("Idle -> Idle should be a no-op: %v", err)
	}
}

func TestTransitionToIdleClearsTask(t *testing.T) {
	s := NewState()
	mustTransition(t, s, Connecting, Connected)
	if err := s.StartTask(NewTask("benchy.gcode")); err != nil {
		t.Fatal(err)
	}
	mustTransition(t, s, Printing)

	if s.Task() == nil {
		t.Fatal("task should be active")
	}
	if err := s.Transition(Idle); err != nil {
		t.Fatal(err)
	}
	if s.Task() != nil {
		t.Error("task should be cleared on transition to Idle")
	}
}

func TestStartTaskRequiresConnected(t *testing.T) {
	s := NewState()
	if err := s.StartTask(NewTask("x.gcode")); err == nil {
		t.Error("StartTask while Idle should fail")
	}
}

func TestPercentDoneMonotonic(t *testing.T) {
	task := NewTask("benchy.gcode")
	task.SetPercentDone(12.3)
	task.SetPercentDone(5.0) // decrease ignored
	if got := task.PercentDone(); got != 12.3 {
		t.Errorf("PercentDone = %v, want 12.3", got)
	}
	task.SetPercentDone(150)
	if got := task.PercentDone(); got != 100 {
		t.Errorf("PercentDone = %v, want clamp to 100", got)
	}
}

func TestPercentDoneConcurrentReads(t *testing.T) {
	task := NewTask("benchy.gcode")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i <= 1000; i++ {
			task.SetPercentDone(float64(i) / 10)
		}
	}()
	go func() {
		defer wg.Done()
		last := -1.0
		for i := 0; i < 1000; i++ {
			p := task.PercentDone()
			if p < last {
				t.Errorf("percent went backwards: %v after %v", p, last)
				return
			}
			last = p
		}
	}()
	wg.Wait()
}

func TestTaskFinishIsFinal(t *testing.T) {
	task := NewTask("benchy.gcode")
	task.Fail("serial disconnect")
	task.Complete() // ignored, already terminal
	result, reason := task.Result()
	if result != ResultFailed {
		t.Errorf("result = %s, want failed", result)
	}
	if reason != "serial disconnect" {
		t.Errorf("reason = %q", reason)
	}
}

func TestGetStatusShape(t *testing.T) {
	s := NewState()
	status := s.GetStatus()
	if status["state"] != "idle" {
		t.Errorf("state = %v", status["state"])
	}
	if status["task"] != nil {
		t.Errorf("task should be nil when idle")
	}

	mustTransition(t, s, Connecting, Connected)
	task := NewTask("benchy.gcode")
	if err := s.StartTask(task); err != nil {
		t.Fatal(err)
	}
	task.SetPercentDone(50)

	status = s.GetStatus()
	taskStatus, ok := status["task"].(map[string]any)
	if !ok {
		t.Fatalf("task status missing: %v", status)
	}
	if taskStatus["percent_done"] != 50.0 {
		t.Errorf("percent_done = %v", taskStatus["percent_done"])
	}
	if taskStatus["filename"] != "benchy.gcode" {
		t.Errorf("filename = %v", taskStatus["filename"])
	}
}

func mustTransition(t *testing.T, s *State, states ...CommState) {
	t.Helper()
	for _, state := range states {
		if err := s.Transition(state); err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
	}
}
