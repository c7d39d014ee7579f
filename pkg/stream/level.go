package stream

import (
	"fmt"
	"strings"

	"printstream/pkg/config"
)

// LevelStage applies bed-tilt leveling compensation to move commands.
// For absolute moves carrying a Z word, the Z coordinate is rewritten
// to z + x*xAdjust + y*yAdjust + zAdjust, using the move's own X/Y
// words or the last seen position for missing axes. All other lines
// pass through byte-identical.
type LevelStage struct {
	upstream Stage
	enabled  bool

	xAdjust float64
	yAdjust float64
	zAdjust float64

	lastX    float64
	lastY    float64
	absolute bool
	rewrites int
	done     bool
}

// NewLevelStage wraps upstream with leveling compensation. The stage
// is transparent unless the configuration enables it with at least one
// nonzero adjustment; a zero compensation must not touch a single byte.
func NewLevelStage(upstream Stage, cfg config.BedTiltConfig) *LevelStage {
	return &LevelStage{
		upstream: upstream,
		enabled:  cfg.Enabled && (cfg.XAdjust != 0 || cfg.YAdjust != 0 || cfg.ZAdjust != 0),
		xAdjust:  cfg.XAdjust,
		yAdjust:  cfg.YAdjust,
		zAdjust:  cfg.ZAdjust,
		absolute: true, // firmware default
	}
}

// NextLine implements Stage.
func (ls *LevelStage) NextLine() (Line, bool) {
	if ls.done {
		return Line{}, false
	}
	line, ok := ls.upstream.NextLine()
	if !ok {
		ls.done = true
		return Line{}, false
	}
	return ls.transform(line), true
}

// transform tracks motion-mode state and rewrites Z on leveled moves.
func (ls *LevelStage) transform(line Line) Line {
	cmd := parseGCodeLine(line.Text)
	if cmd == nil {
		return line
	}
	switch cmd.Name {
	case "G90":
		ls.absolute = true
		return line
	case "G91":
		ls.absolute = false
		return line
	case "G28":
		ls.lastX, ls.lastY = 0, 0
		return line
	case "G0", "G1":
		return ls.transformMove(line, cmd)
	}
	return line
}

func (ls *LevelStage) transformMove(line Line, cmd *gcodeCommand) Line {
	x, hasX, errX := cmd.floatArg("X")
	y, hasY, errY := cmd.floatArg("Y")
	z, hasZ, errZ := cmd.floatArg("Z")
	if errX != nil || errY != nil || errZ != nil {
		// Malformed move: leave it for the firmware to reject.
		return line
	}
	if ls.absolute {
		if hasX {
			ls.lastX = x
		}
		if hasY {
			ls.lastY = y
		}
	}
	if !hasZ || !ls.absolute || !ls.enabled {
		return line
	}

	adjusted := z + ls.lastX*ls.xAdjust + ls.lastY*ls.yAdjust + ls.zAdjust
	ls.rewrites++
	return NewLine(replaceWord(line.Text, 'Z', formatFloat(adjusted)))
}

// replaceWord swaps the value of a single-letter G-code word in a
// line, preserving every other token verbatim.
func replaceWord(text string, letter byte, value string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if len(f) >= 2 && (f[0] == letter || f[0] == letter+('a'-'A')) {
			fields[i] = string(letter) + value
			break
		}
	}
	return strings.Join(fields, " ")
}

// DebugInfo implements Stage.
func (ls *LevelStage) DebugInfo() string {
	return fmt.Sprintf("level on=%v adjust=[%g %g %g] last=[%g %g] abs=%v rewrites=%d done=%v",
		ls.enabled, ls.xAdjust, ls.yAdjust, ls.zAdjust, ls.lastX, ls.lastY, ls.absolute, ls.rewrites, ls.done)
}
