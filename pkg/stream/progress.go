package stream

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"printstream/pkg/session"
)

// ReportMode selects how print progress is communicated to the
// printer while a job is streaming.
type ReportMode int

const (
	// ReportNone disables progress reporting; the stage is fully
	// transparent.
	ReportNone ReportMode = iota

	// ReportM73 emits the firmware percent-done command "M73 P<n>".
	ReportM73

	// ReportM117 emits the human-readable status message command
	// "M117 Printing - <n>%".
	ReportM117
)

// String returns the configuration spelling of the mode.
func (m ReportMode) String() string {
	switch m {
	case ReportM73:
		return "M73"
	case ReportM117:
		return "M117"
	default:
		return "None"
	}
}

// ParseReportMode maps a configuration value to a ReportMode. An
// unrecognized value degrades to ReportNone so a reporting
// misconfiguration can never block a print.
func ParseReportMode(s string) ReportMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M73":
		return ReportM73
	case "M117":
		return ReportM117
	default:
		return ReportNone
	}
}

// ProgressStage periodically replaces the pulled line with a progress
// report command, without losing the original line: on a reporting
// cycle the stage does not consume from upstream at all.
//
// The stage announces at most one progress line per integer
// percentage point. It keeps a "next announce" threshold, initialized
// below any valid percentage; when the task's percent-done exceeds
// the threshold, the stage synthesizes a report and advances the
// threshold to round(percent)+0.5, so the next announcement can only
// fire after the rounded percentage advances.
type ProgressStage struct {
	upstream Stage
	state    *session.State
	mode     ReportMode

	threshold float64
	announced int
	done      bool
}

// NewProgressStage wraps upstream with progress reporting.
func NewProgressStage(upstream Stage, state *session.State, mode ReportMode) *ProgressStage {
	return &ProgressStage{
		upstream:  upstream,
		state:     state,
		mode:      mode,
		threshold: -1,
	}
}

// NextLine implements Stage.
func (p *ProgressStage) NextLine() (Line, bool) {
	if p.done {
		return Line{}, false
	}
	if p.mode != ReportNone && p.state.Comm() == session.Printing {
		if task := p.state.Task(); task != nil {
			if percent := task.PercentDone(); percent > p.threshold {
				p.threshold = math.Round(percent) + 0.5
				p.announced++
				return NewLine(p.formatReport(percent)), true
			}
		}
	}
	line, ok := p.upstream.NextLine()
	if !ok {
		p.done = true
		return Line{}, false
	}
	return line, ok
}

// formatReport renders the progress line for the active mode. The
// percentage is rounded to the nearest whole number.
func (p *ProgressStage) formatReport(percent float64) string {
	n := strconv.Itoa(int(math.Round(percent)))
	if p.mode == ReportM117 {
		return "M117 Printing - " + n + "%"
	}
	return "M73 P" + n
}

// DebugInfo implements Stage.
func (p *ProgressStage) DebugInfo() string {
	return fmt.Sprintf("progress mode=%s threshold=%.1f announced=%d done=%v",
		p.mode, p.threshold, p.announced, p.done)
}
