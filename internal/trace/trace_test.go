package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSpanRespectsLevel(t *testing.T) {
	ring := NewRingTracer(16, LevelPhase)
	outer := Begin(ring, ScopePass, "mark", 0)
	inner := Begin(ring, ScopeNode, "node", outer.ID())
	inner.End("")
	outer.WithExtra("marked", "3").End("ok")

	events := ring.Snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (node scope filtered)", len(events))
	}
	if events[0].Kind != KindSpanBegin || events[1].Kind != KindSpanEnd {
		t.Fatalf("kinds = %v, %v", events[0].Kind, events[1].Kind)
	}
	if events[1].Extra["marked"] != "3" {
		t.Fatalf("extra = %v", events[1].Extra)
	}
}

func TestRingWraps(t *testing.T) {
	ring := NewRingTracer(2, LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		Point(ring, ScopeNode, name, "", 0)
	}
	got := ring.Snapshot()
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "c" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestStreamFormats(t *testing.T) {
	var text, nd bytes.Buffer
	multi := NewMultiTracer(LevelPhase,
		NewStreamTracer(&text, LevelPhase, FormatText),
		NewStreamTracer(&nd, LevelPhase, FormatNDJSON))
	Begin(multi, ScopeDriver, "build", 0).End("done")

	if !strings.Contains(text.String(), "< build (done)") {
		t.Fatalf("text output = %q", text.String())
	}
	if !strings.Contains(nd.String(), `"kind":"end"`) {
		t.Fatalf("ndjson output = %q", nd.String())
	}
}

func TestContextDefaultsToNop(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("expected Nop tracer")
	}
	ring := NewRingTracer(4, LevelDebug)
	ctx := WithTracer(context.Background(), ring)
	if FromContext(ctx) != Tracer(ring) {
		t.Fatalf("tracer not propagated")
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
