package stream

import (
	"testing"

	"printstream/pkg/session"
)

// hookSource lets a test change session state in the middle of an
// upstream pull, the way the connection's pause request can land
// between a stage's state snapshot and its upstream read.
type hookSource struct {
	inner  LineSource
	onPull func()
}

func (h *hookSource) NextLine() (Line, bool) {
	if h.onPull != nil {
		h.onPull()
	}
	return h.inner.NextLine()
}

func (h *hookSource) CurrentOffset() int { return h.inner.CurrentOffset() }
func (h *hookSource) DebugInfo() string  { return h.inner.DebugInfo() }

func pullText(t *testing.T, stage Stage) string {
	t.Helper()
	line, ok := stage.NextLine()
	if !ok {
		t.Fatal("unexpected end of stream")
	}
	return line.Text
}

func TestPauseTransparentWhilePrinting(t *testing.T) {
	s, _ := newPrintingSession(t)
	stage := NewPauseStage(src("G1 X1", "G1 X2"), s, "M125", "M24")

	if got := pullText(t, stage); got != "G1 X1" {
		t.Errorf("got %q, want G1 X1", got)
	}
	if got := pullText(t, stage); got != "G1 X2" {
		t.Errorf("got %q, want G1 X2", got)
	}
}

func TestPauseAndResumeScriptInjection(t *testing.T) {
	s, _ := newPrintingSession(t)
	stage := NewPauseStage(src("G1 X1", "G1 X2", "G1 X3"), s,
		"M125\nM104 S0", "M104 S200\nM24")

	if got := pullText(t, stage); got != "G1 X1" {
		t.Fatalf("got %q, want G1 X1", got)
	}

	mustStep(t, s, session.Paused)
	// The pause script comes out ahead of any file traffic.
	for _, want := range []string{"M125", "M104 S0"} {
		if got := pullText(t, stage); got != want {
			t.Errorf("paused: got %q, want %q", got, want)
		}
	}

	mustStep(t, s, session.Printing)
	for _, want := range []string{"M104 S200", "M24", "G1 X2", "G1 X3"} {
		if got := pullText(t, stage); got != want {
			t.Errorf("resumed: got %q, want %q", got, want)
		}
	}
}

// TestPauseEdgeDuringUpstreamPull covers the pause request landing
// after the stage has sampled the session state but before the
// upstream line arrives: the pulled line must be held, the pause
// script led with, and the held line delivered afterwards.
func TestPauseEdgeDuringUpstreamPull(t *testing.T) {
	s, _ := newPrintingSession(t)
	inner := src("G1 X1", "G1 X2")
	hooked := &hookSource{inner: inner}
	stage := NewPauseStage(hooked, s, "M125", "M24")

	fired := false
	hooked.onPull = func() {
		if !fired {
			fired = true
			mustStep(t, s, session.Paused)
		}
	}

	if got := pullText(t, stage); got != "M125" {
		t.Fatalf("got %q, want the pause script first", got)
	}
	// The line pulled across the edge is next, not lost.
	if got := pullText(t, stage); got != "G1 X1" {
		t.Errorf("got %q, want the held G1 X1", got)
	}

	mustStep(t, s, session.Printing)
	for _, want := range []string{"M24", "G1 X2"} {
		if got := pullText(t, stage); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

// TestPauseCancelDeliversHeldLine checks that cancelling after a pause
// edge does not drop the line held by the stage.
func TestPauseCancelDeliversHeldLine(t *testing.T) {
	s, _ := newPrintingSession(t)
	inner := src("G1 X1")
	hooked := &hookSource{inner: inner}
	stage := NewPauseStage(hooked, s, "M125", "M24")

	fired := false
	hooked.onPull = func() {
		if !fired {
			fired = true
			mustStep(t, s, session.Paused)
		}
	}

	if got := pullText(t, stage); got != "M125" {
		t.Fatalf("got %q, want M125", got)
	}

	// Cancel mid-pause. No script is attached to this edge, and the
	// held line still comes out on the next pull.
	mustStep(t, s, session.Idle)
	if got := pullText(t, stage); got != "G1 X1" {
		t.Errorf("got %q, want the held G1 X1", got)
	}
}

func TestPauseEmptyScriptsAreNoOps(t *testing.T) {
	s, _ := newPrintingSession(t)
	stage := NewPauseStage(src("G1 X1", "G1 X2"), s, "", "")

	if got := pullText(t, stage); got != "G1 X1" {
		t.Fatalf("got %q, want G1 X1", got)
	}
	mustStep(t, s, session.Paused)
	mustStep(t, s, session.Printing)
	if got := pullText(t, stage); got != "G1 X2" {
		t.Errorf("got %q, want G1 X2", got)
	}
}

func TestPauseEndOfStreamIsIdempotent(t *testing.T) {
	s, _ := newPrintingSession(t)
	stage := NewPauseStage(src("G1 X1"), s, "M125", "M24")

	pullText(t, stage)
	for i := 0; i < 3; i++ {
		if _, ok := stage.NextLine(); ok {
			t.Fatal("expected end of stream")
		}
	}
}
