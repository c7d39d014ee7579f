package stream

import (
	"fmt"

	"printstream/pkg/session"
)

// PauseStage injects the configured pause and resume scripts around
// session state transitions. The stage watches for Printing->Paused
// and Paused->Printing edges in the session snapshot; on an edge it
// queues the corresponding script and emits it one line per pull,
// ahead of any passthrough traffic. A line already pulled from
// upstream when a pause is detected is buffered, not dropped, and is
// delivered before upstream is consulted again.
//
// The connection stops pulling while Paused; if it pulls anyway the
// stage is transparent (flow control belongs to the connection, not
// the chain).
type PauseStage struct {
	upstream Stage
	state    *session.State

	pauseScript  []string
	resumeScript []string

	lastComm session.CommState
	pending  []Line
	buffered *Line
	injected int
	done     bool
}

// NewPauseStage wraps upstream with pause/resume script injection.
// The scripts are newline-separated G-code snippets and may be empty.
func NewPauseStage(upstream Stage, state *session.State, pauseScript, resumeScript string) *PauseStage {
	return &PauseStage{
		upstream:     upstream,
		state:        state,
		pauseScript:  SplitScript(pauseScript),
		resumeScript: SplitScript(resumeScript),
		lastComm:     state.Comm(),
	}
}

// NextLine implements Stage.
func (ps *PauseStage) NextLine() (Line, bool) {
	if ps.done {
		return Line{}, false
	}

	// Drain queued script lines before anything else.
	if line, ok := ps.popPending(); ok {
		return line, true
	}

	comm := ps.state.Comm()
	if comm != ps.lastComm {
		ps.noteEdge(comm)
		if line, ok := ps.popPending(); ok {
			return line, true
		}
	}

	// A line held across a pause edge goes out before new upstream
	// traffic, so nothing is lost or reordered.
	if ps.buffered != nil {
		line := *ps.buffered
		ps.buffered = nil
		return line, true
	}

	line, ok := ps.upstream.NextLine()
	if !ok {
		ps.done = true
		return Line{}, false
	}

	// The connection may have paused between the snapshot above and
	// the upstream pull. Hold the pulled line and lead with the pause
	// script.
	if now := ps.state.Comm(); now != comm && now == session.Paused {
		ps.noteEdge(now)
		if first, ok := ps.popPending(); ok {
			ps.buffered = &line
			return first, true
		}
	}
	return line, true
}

// noteEdge records a state change and queues the matching script.
func (ps *PauseStage) noteEdge(comm session.CommState) {
	prev := ps.lastComm
	ps.lastComm = comm
	switch {
	case comm == session.Paused && prev == session.Printing:
		ps.queueScript(ps.pauseScript)
	case comm == session.Printing && prev == session.Paused:
		ps.queueScript(ps.resumeScript)
	}
}

func (ps *PauseStage) queueScript(script []string) {
	for _, text := range script {
		ps.pending = append(ps.pending, NewLine(text))
	}
}

func (ps *PauseStage) popPending() (Line, bool) {
	if len(ps.pending) == 0 {
		return Line{}, false
	}
	line := ps.pending[0]
	ps.pending = ps.pending[1:]
	ps.injected++
	return line, true
}

// Pending reports whether script or buffered lines are still queued.
func (ps *PauseStage) Pending() bool {
	return len(ps.pending) > 0 || ps.buffered != nil
}

// DebugInfo implements Stage.
func (ps *PauseStage) DebugInfo() string {
	return fmt.Sprintf("pause last=%s pending=%d buffered=%v injected=%d done=%v",
		ps.lastComm, len(ps.pending), ps.buffered != nil, ps.injected, ps.done)
}
