package stream

import (
	"fmt"
	"regexp"
	"strings"
)

var reMacroParam = regexp.MustCompile(`\{params\.(\w+)\}`)

// MacroStage expands configured named macros. When the pulled line's
// command matches a defined macro, the stage splits the macro script
// into its lines — substituting {params.NAME} placeholders from the
// call's arguments — and emits them in order, one per pull, in place
// of the original line. Expanded lines are not themselves re-expanded.
type MacroStage struct {
	upstream Stage
	macros   map[string]string

	pending    []Line
	expansions int
	done       bool
}

// NewMacroStage wraps upstream with macro expansion. Macro names are
// matched case-insensitively.
func NewMacroStage(upstream Stage, macros map[string]string) *MacroStage {
	normalized := make(map[string]string, len(macros))
	for name, script := range macros {
		normalized[strings.ToUpper(name)] = script
	}
	return &MacroStage{
		upstream: upstream,
		macros:   normalized,
	}
}

// NextLine implements Stage.
func (ms *MacroStage) NextLine() (Line, bool) {
	if ms.done {
		return Line{}, false
	}
	if len(ms.pending) > 0 {
		line := ms.pending[0]
		ms.pending = ms.pending[1:]
		return line, true
	}

	line, ok := ms.upstream.NextLine()
	if !ok {
		ms.done = true
		return Line{}, false
	}

	cmd := parseGCodeLine(line.Text)
	if cmd == nil {
		return line, true
	}
	script, isMacro := ms.macros[cmd.Name]
	if !isMacro {
		return line, true
	}

	ms.expansions++
	expanded := expandScript(script, cmd.Args)
	if len(expanded) == 0 {
		// Empty macro: skip to the next real line rather than emit
		// nothing for this pull.
		return ms.NextLine()
	}
	for _, text := range expanded[1:] {
		ms.pending = append(ms.pending, NewLine(text))
	}
	return NewLine(expanded[0]), true
}

// expandScript substitutes call parameters into a macro script and
// splits it into clean lines. Unknown placeholders expand to "".
func expandScript(script string, args map[string]string) []string {
	rendered := reMacroParam.ReplaceAllStringFunc(script, func(match string) string {
		name := strings.ToUpper(match[len("{params.") : len(match)-1])
		return args[name]
	})
	return SplitScript(rendered)
}

// Pending reports whether expanded lines are still queued.
func (ms *MacroStage) Pending() bool {
	return len(ms.pending) > 0
}

// DebugInfo implements Stage.
func (ms *MacroStage) DebugInfo() string {
	return fmt.Sprintf("macro defined=%d pending=%d expansions=%d done=%v",
		len(ms.macros), len(ms.pending), ms.expansions, ms.done)
}
