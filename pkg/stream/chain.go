package stream

import (
	"strings"

	"printstream/pkg/config"
	"printstream/pkg/session"
)

// Chain is the ordered composition of stages built once per print
// session. It satisfies the Stage contract itself, so the printer
// connection treats the whole pipeline as a single opaque line source.
//
// The order is fixed and part of the contract, outermost first:
//
//	numbering/checksum -> progress -> pause -> leveling -> macro -> source
//
// Content stages sit inside the numbering stage so injected lines are
// framed like everything else, and progress reporting sits outside the
// other content stages so its injected lines are never re-transformed.
type Chain struct {
	outer  Stage
	stages []Stage // outermost first, source last
	source LineSource
	number *NumberStage
}

// ChainOptions carries the per-session stage configuration.
type ChainOptions struct {
	Progress config.ProgressConfig
	Pause    config.PauseConfig
	BedTilt  config.BedTiltConfig
	Macros   map[string]string

	// ResetCounter leads the stream with an M110 counter reset.
	ResetCounter bool
}

// NewChain builds the pipeline around a line source for one print
// session. The session state is read-only for every stage.
func NewChain(source LineSource, state *session.State, opts ChainOptions) *Chain {
	macro := NewMacroStage(source, opts.Macros)
	level := NewLevelStage(macro, opts.BedTilt)
	pause := NewPauseStage(level, state, opts.Pause.PauseGCode, opts.Pause.ResumeGCode)
	progress := NewProgressStage(pause, state, ParseReportMode(opts.Progress.Mode))
	number := NewNumberStage(progress, opts.ResetCounter)

	return &Chain{
		outer:  number,
		stages: []Stage{number, progress, pause, level, macro, source},
		source: source,
		number: number,
	}
}

// NewPassthroughChain wraps a source with no transformation stages;
// lines come out in file order, unmodified.
func NewPassthroughChain(source LineSource) *Chain {
	return &Chain{
		outer:  source,
		stages: []Stage{source},
		source: source,
	}
}

// NextLine implements Stage by pulling from the outermost stage.
func (c *Chain) NextLine() (Line, bool) {
	return c.outer.NextLine()
}

// CurrentOffset reports the source's replay offset for pause/resume.
func (c *Chain) CurrentOffset() int {
	return c.source.CurrentOffset()
}

// Pending reports whether any stage still holds queued or buffered
// lines ahead of the next source pull. While lines are pending the
// source offset runs ahead of what has actually been transmitted.
func (c *Chain) Pending() bool {
	for _, s := range c.stages {
		if p, ok := s.(interface{ Pending() bool }); ok && p.Pending() {
			return true
		}
	}
	return false
}

// Resend asks the numbering stage to replay from a line number. A
// passthrough chain has no numbering and reports an error through the
// numbering stage being absent.
func (c *Chain) Resend(number int) error {
	if c.number == nil {
		return errNoNumbering
	}
	return c.number.Resend(number)
}

var errNoNumbering = &chainError{"chain has no numbering stage"}

type chainError struct{ msg string }

func (e *chainError) Error() string { return e.msg }

// DebugInfo implements Stage with a per-stage snapshot, outermost
// first.
func (c *Chain) DebugInfo() string {
	infos := make([]string, len(c.stages))
	for i, stage := range c.stages {
		infos[i] = stage.DebugInfo()
	}
	return strings.Join(infos, "\n")
}
