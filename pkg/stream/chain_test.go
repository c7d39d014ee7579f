package stream

import (
	"strings"
	"testing"

	"printstream/pkg/config"
)

func testChainOptions() ChainOptions {
	return ChainOptions{
		Progress: config.ProgressConfig{Mode: "M73"},
		Pause:    config.PauseConfig{PauseGCode: "M125", ResumeGCode: "M24"},
		BedTilt:  config.BedTiltConfig{Enabled: true, ZAdjust: 0.1},
		Macros:   map[string]string{"START_PRINT": "G28\nG1 Z5"},

		ResetCounter: true,
	}
}

// TestChainOrder drives a full pipeline through a small job and checks
// that every stage's contribution comes out framed, in order: counter
// reset, progress report, macro expansion with leveling applied.
func TestChainOrder(t *testing.T) {
	s, task := newPrintingSession(t)
	task.SetPercentDone(0)

	source := src("START_PRINT", "G1 Z0.2 F600", "M104 S200")
	chain := NewChain(source, s, testChainOptions())

	want := []struct {
		number int
		text   string
	}{
		{0, "M110 N0"},
		{1, "M73 P0"},
		{2, "G28"},
		{3, "G1 Z5.1"},       // macro line, leveled
		{4, "G1 Z0.3 F600"},  // file line, leveled
		{5, "M104 S200"},
	}
	for i, w := range want {
		line, ok := chain.NextLine()
		if !ok {
			t.Fatalf("pull %d: unexpected end of stream", i)
		}
		if line.Number != w.number || line.Text != w.text {
			t.Errorf("pull %d: got N%d %q, want N%d %q",
				i, line.Number, line.Text, w.number, w.text)
		}
		if !line.Numbered {
			t.Errorf("pull %d: line left unframed", i)
		}
	}
	for i := 0; i < 2; i++ {
		if _, ok := chain.NextLine(); ok {
			t.Error("expected end of stream")
		}
	}
	if chain.CurrentOffset() != 3 {
		t.Errorf("offset = %d, want 3 source lines consumed", chain.CurrentOffset())
	}
}

func TestChainResend(t *testing.T) {
	s, _ := newPrintingSession(t)
	chain := NewChain(src("G28", "G1 Z1"), s, ChainOptions{})

	first, _ := chain.NextLine()
	second, _ := chain.NextLine()

	if err := chain.Resend(first.Number); err != nil {
		t.Fatal(err)
	}
	for _, w := range []Line{first, second} {
		line, ok := chain.NextLine()
		if !ok {
			t.Fatal("unexpected end of stream during replay")
		}
		if line.Wire() != w.Wire() {
			t.Errorf("replayed %q, want %q", line.Wire(), w.Wire())
		}
	}
}

// TestChainPendingDuringMacroExpansion checks that the chain reports
// pending lines while a macro expansion is partially delivered, since
// the source offset already counts the whole call at that point.
func TestChainPendingDuringMacroExpansion(t *testing.T) {
	s, _ := newPrintingSession(t)
	chain := NewChain(src("START_PRINT", "G1 X1"), s, ChainOptions{
		Macros: map[string]string{"START_PRINT": "G28\nG29"},
	})

	line, ok := chain.NextLine()
	if !ok || line.Text != "G28" {
		t.Fatalf("got %q, want the first expansion line G28", line.Text)
	}
	if !chain.Pending() {
		t.Error("expansion half delivered, chain must report pending lines")
	}
	if chain.CurrentOffset() != 1 {
		t.Errorf("offset = %d, want 1 (macro call consumed)", chain.CurrentOffset())
	}

	line, ok = chain.NextLine()
	if !ok || line.Text != "G29" {
		t.Fatalf("got %q, want the second expansion line G29", line.Text)
	}
	if chain.Pending() {
		t.Error("expansion drained, nothing should be pending")
	}
}

func TestPassthroughChainIsByteIdentical(t *testing.T) {
	lines := []string{"G28", "G1 Z0.2", "M104 S200"}
	chain := NewPassthroughChain(src(lines...))

	for _, want := range lines {
		line, ok := chain.NextLine()
		if !ok {
			t.Fatalf("unexpected end of stream, want %q", want)
		}
		if line.Text != want || line.Numbered {
			t.Errorf("got %v, want plain %q", line, want)
		}
	}
	if _, ok := chain.NextLine(); ok {
		t.Error("expected end of stream")
	}
	if err := chain.Resend(1); err == nil {
		t.Error("expected an error: a passthrough chain has no numbering")
	}
}

func TestChainDebugInfo(t *testing.T) {
	s, _ := newPrintingSession(t)
	chain := NewChain(src("G28"), s, testChainOptions())

	info := chain.DebugInfo()
	lines := strings.Split(info, "\n")
	if len(lines) != 6 {
		t.Fatalf("got %d snapshot lines, want one per stage plus source:\n%s", len(lines), info)
	}
	// Outermost first.
	for i, prefix := range []string{"number", "progress", "pause", "level", "macro", "script"} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("snapshot %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
}
