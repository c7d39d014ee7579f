package stream

// Stage is one link in the transformation chain. NextLine pulls the
// next line to transmit; the second return value is false once the
// stream is exhausted, and every call after that must also report
// exhaustion (idempotent terminal state). A stage may return a
// synthesized line without consuming from its upstream, and may hold
// buffered lines to emit after the upstream is exhausted, but must
// never reorder lines relative to pure passthrough.
//
// DebugInfo returns a side-effect-free snapshot of stage-local state
// for diagnostic tooling.
type Stage interface {
	NextLine() (Line, bool)
	DebugInfo() string
}

// LineSource is the innermost producer of raw G-code lines. Besides
// the Stage contract it reports a line-based replay offset used by the
// print-resume flow.
type LineSource interface {
	Stage
	CurrentOffset() int
}
