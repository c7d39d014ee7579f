package stream

import (
	"fmt"
)

// NumberStage assigns transmission line numbers and checksums. It is
// the outermost content stage — the very last before the transport —
// so every transmitted line is framed, including lines injected by
// inner stages. On construction it can lead with an "M110 N0" counter
// reset so the firmware and host agree on the starting sequence.
type NumberStage struct {
	upstream Stage
	next     int
	sent     []Line // retained window for resend requests
	window   int
	done     bool
	pending  []Line
}

// resendWindow is how many framed lines are retained for firmware
// "Resend:" requests. The transport never has more than a handful of
// unacknowledged lines in flight.
const resendWindow = 32

// NewNumberStage wraps upstream with line numbering and checksums.
// When resetCounter is set, the first pulled line is a synthesized
// M110 framed as N0.
func NewNumberStage(upstream Stage, resetCounter bool) *NumberStage {
	ns := &NumberStage{
		upstream: upstream,
		next:     1,
		window:   resendWindow,
	}
	if resetCounter {
		ns.next = 0
		ns.pending = []Line{NewLine("M110 N0")}
	}
	return ns
}

// NextLine implements Stage.
func (ns *NumberStage) NextLine() (Line, bool) {
	if ns.done {
		return Line{}, false
	}
	var line Line
	if len(ns.pending) > 0 {
		line = ns.pending[0]
		ns.pending = ns.pending[1:]
	} else {
		var ok bool
		line, ok = ns.upstream.NextLine()
		if !ok {
			ns.done = true
			return Line{}, false
		}
	}
	line.Number = ns.next
	line.Numbered = true
	ns.next++
	ns.remember(line)
	return line, true
}

// Resend re-queues the retained lines starting at the requested
// number, for a firmware "Resend: N" request. Returns an error when
// the number is outside the retained window.
func (ns *NumberStage) Resend(number int) error {
	for i, line := range ns.sent {
		if line.Number == number {
			requeue := make([]Line, len(ns.sent)-i)
			copy(requeue, ns.sent[i:])
			ns.sent = ns.sent[:i]
			ns.next = number
			// Strip framing; the lines are renumbered on the way out.
			for j := range requeue {
				requeue[j] = NewLine(requeue[j].Text)
			}
			ns.pending = append(requeue, ns.pending...)
			ns.done = false
			return nil
		}
	}
	return fmt.Errorf("line %d not in resend window", number)
}

func (ns *NumberStage) remember(line Line) {
	ns.sent = append(ns.sent, line)
	if len(ns.sent) > ns.window {
		ns.sent = ns.sent[len(ns.sent)-ns.window:]
	}
}

// Pending reports whether requeued lines await retransmission.
func (ns *NumberStage) Pending() bool {
	return len(ns.pending) > 0
}

// DebugInfo implements Stage.
func (ns *NumberStage) DebugInfo() string {
	return fmt.Sprintf("number next=%d retained=%d pending=%d done=%v",
		ns.next, len(ns.sent), len(ns.pending), ns.done)
}
