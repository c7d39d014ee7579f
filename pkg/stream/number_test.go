package stream

import "testing"

func pullLine(t *testing.T, stage Stage) Line {
	t.Helper()
	line, ok := stage.NextLine()
	if !ok {
		t.Fatal("unexpected end of stream")
	}
	return line
}

func TestNumberSequentialFraming(t *testing.T) {
	stage := NewNumberStage(src("G28", "G1 Z5"), false)

	first := pullLine(t, stage)
	if first.Number != 1 || !first.Numbered {
		t.Fatalf("first line numbered %d/%v, want N1", first.Number, first.Numbered)
	}
	if got := first.Wire(); got != "N1 G28*18" {
		t.Errorf("wire = %q, want N1 G28*18", got)
	}

	second := pullLine(t, stage)
	if second.Number != 2 {
		t.Errorf("second line numbered %d, want 2", second.Number)
	}
}

func TestNumberCounterReset(t *testing.T) {
	stage := NewNumberStage(src("G28"), true)

	reset := pullLine(t, stage)
	if got := reset.Wire(); got != "N0 M110 N0*125" {
		t.Errorf("wire = %q, want N0 M110 N0*125", got)
	}
	next := pullLine(t, stage)
	if next.Text != "G28" || next.Number != 1 {
		t.Errorf("got %q N%d, want G28 N1", next.Text, next.Number)
	}
}

func TestNumberResendReplaysWindow(t *testing.T) {
	stage := NewNumberStage(src("G28", "G1 Z1", "G1 Z2", "G1 Z3"), false)

	var sent []Line
	for i := 0; i < 4; i++ {
		sent = append(sent, pullLine(t, stage))
	}

	if err := stage.Resend(3); err != nil {
		t.Fatal(err)
	}
	for want := 3; want <= 4; want++ {
		line := pullLine(t, stage)
		if line.Number != want {
			t.Errorf("replayed line numbered %d, want %d", line.Number, want)
		}
		if line.Text != sent[want-1].Text {
			t.Errorf("replayed text %q, want %q", line.Text, sent[want-1].Text)
		}
		if line.Wire() != sent[want-1].Wire() {
			t.Errorf("replayed wire %q, want %q", line.Wire(), sent[want-1].Wire())
		}
	}
	if _, ok := stage.NextLine(); ok {
		t.Error("expected end of stream after replay")
	}
}

// A resend request can arrive after the stream drained; the replay
// reopens the stage for exactly the replayed lines.
func TestNumberResendAfterExhaustion(t *testing.T) {
	stage := NewNumberStage(src("G28", "G1 Z1"), false)

	pullLine(t, stage)
	last := pullLine(t, stage)
	if _, ok := stage.NextLine(); ok {
		t.Fatal("expected end of stream")
	}

	if err := stage.Resend(2); err != nil {
		t.Fatal(err)
	}
	replayed := pullLine(t, stage)
	if replayed.Wire() != last.Wire() {
		t.Errorf("replayed %q, want %q", replayed.Wire(), last.Wire())
	}
	if _, ok := stage.NextLine(); ok {
		t.Error("expected end of stream after replay")
	}
}

func TestNumberResendOutsideWindow(t *testing.T) {
	stage := NewNumberStage(src("G28"), false)
	pullLine(t, stage)

	if err := stage.Resend(99); err == nil {
		t.Error("expected an error for a number never sent")
	}
}

func TestChecksum(t *testing.T) {
	// XOR of every byte before the '*'.
	if got := Checksum("N1 G28"); got != 18 {
		t.Errorf("Checksum(N1 G28) = %d, want 18", got)
	}
	if got := Checksum(""); got != 0 {
		t.Errorf("Checksum(\"\") = %d, want 0", got)
	}
}
