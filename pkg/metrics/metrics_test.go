package metrics

import (
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("lines_sent_total", "Lines transmitted")

	c.Inc()
	c.Add(4)
	if got := c.Value(); got != 5 {
		t.Errorf("counter = %d, want 5", got)
	}

	// Re-registering the same name returns the same counter.
	if again := r.Counter("lines_sent_total", "Lines transmitted"); again != c {
		t.Error("re-registration created a second counter")
	}
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("progress_percent", "Percent done")

	g.Set(33.5)
	if got := g.Value(); got != 33.5 {
		t.Errorf("gauge = %v, want 33.5", got)
	}
	g.Set(12)
	if got := g.Value(); got != 12 {
		t.Errorf("gauge = %v, want 12", got)
	}
}

func TestExposeFormat(t *testing.T) {
	r := NewRegistry()
	r.Counter("b_total", "Second").Add(7)
	g := r.Gauge("a_percent", "First")
	g.Set(42.5)

	out := r.Expose()
	want := strings.Join([]string{
		"# HELP a_percent First",
		"# TYPE a_percent gauge",
		"a_percent 42.5",
		"# HELP b_total Second",
		"# TYPE b_total counter",
		"b_total 7",
		"",
	}, "\n")
	if out != want {
		t.Errorf("exposition:\n%s\nwant:\n%s", out, want)
	}
}

func TestExposeIntegerGauge(t *testing.T) {
	r := NewRegistry()
	r.Gauge("x", "").Set(3)

	out := r.Expose()
	if !strings.Contains(out, "x 3\n") {
		t.Errorf("integer gauge rendered oddly:\n%s", out)
	}
	if strings.Contains(out, "# HELP") {
		t.Errorf("empty help must be omitted:\n%s", out)
	}
}
