// Package stream implements the streaming G-code pipeline: a chain of
// line-transforming stages wrapped around a base line source. The
// printer connection pulls one line at a time from the outermost
// stage; each stage pulls from its upstream on demand and may rewrite,
// suppress, split or inject lines without reordering the surrounding
// passthrough lines.
package stream

import (
	"fmt"
	"strconv"
)

// Line is one textual G-code command, plus an optional transmission
// line number assigned by the numbering stage just before the
// transport. A Line is produced by the source or synthesized by a
// stage and consumed exactly once.
type Line struct {
	Text     string
	Number   int // transmission sequence number, valid when Numbered
	Numbered bool
}

// NewLine creates an unnumbered line.
func NewLine(text string) Line {
	return Line{Text: text}
}

// Wire renders the line as transmitted to the printer. Numbered lines
// carry the RepRap framing "N<num> <text>*<checksum>" where the
// checksum is the XOR of every byte before the '*'.
func (l Line) Wire() string {
	if !l.Numbered {
		return l.Text
	}
	body := "N" + strconv.Itoa(l.Number) + " " + l.Text
	return body + "*" + strconv.Itoa(int(Checksum(body)))
}

// String implements fmt.Stringer for diagnostics.
func (l Line) String() string {
	if l.Numbered {
		return fmt.Sprintf("%q (N%d)", l.Text, l.Number)
	}
	return fmt.Sprintf("%q", l.Text)
}

// Checksum computes the RepRap XOR checksum of a framed line body.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}
