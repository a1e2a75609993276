package observ

import (
	"strings"
	"testing"
)

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	mark := tm.Begin("mark")
	emit := tm.Begin("emit")
	tm.End(emit, "2 sections")
	tm.End(mark, "")
	tm.End(42, "ignored")

	r := tm.Report()
	if len(r.Phases) != 2 || r.Phases[0].Name != "mark" || r.Phases[1].Note != "2 sections" {
		t.Fatalf("report = %+v", r)
	}
	if s := tm.Summary(); !strings.Contains(s, "emit") || !strings.Contains(s, "total") {
		t.Fatalf("summary = %q", s)
	}
}
