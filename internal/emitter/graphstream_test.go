package emitter

import (
	"strings"
	"testing"
)

func TestGraphSnapshotTransformerEmitsIncrementalDeltas(t *testing.T) {
	tr := NewGraphSnapshotTransformer("What is the weather?")

	frame1 := `{"messages":[{"author":"user","text":"What is the weather?"},{"author":"assistant","text":"It is"}]}`
	delta1, done, err := tr.Feed([]byte(frame1))
	if err != nil || done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if delta1 != "It is" {
		t.Fatalf("expected first delta 'It is', got %q", delta1)
	}

	frame2 := `{"messages":[{"author":"user","text":"What is the weather?"},{"author":"assistant","text":"It is sunny today"}]}`
	delta2, done, err := tr.Feed([]byte(frame2))
	if err != nil || done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if delta2 != " sunny today" {
		t.Fatalf("expected delta ' sunny today', got %q", delta2)
	}
	if tr.Emitted() != "It is sunny today" {
		t.Fatalf("unexpected emitted state: %q", tr.Emitted())
	}
}

func TestGraphSnapshotTransformerSkipsNonExtendingSnapshot(t *testing.T) {
	tr := NewGraphSnapshotTransformer("")
	if _, _, err := tr.Feed([]byte(`{"messages":[{"text":"hello world"}]}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delta, done, err := tr.Feed([]byte(`{"messages":[{"text":"unrelated text"}]}`))
	if err != nil || done {
		t.Fatalf("unexpected err=%v done=%v", err, done)
	}
	if delta != "" {
		t.Fatalf("expected no delta for a non-extending snapshot, got %q", delta)
	}
}

func TestGraphSnapshotTransformerDoneSentinel(t *testing.T) {
	tr := NewGraphSnapshotTransformer("")
	_, done, err := tr.Feed([]byte("[DONE]"))
	if err != nil || !done {
		t.Fatalf("expected done=true, got done=%v err=%v", done, err)
	}
}

func TestTrailingDelta(t *testing.T) {
	if got := TrailingDelta("hello world", "hello"); got != " world" {
		t.Fatalf("expected ' world', got %q", got)
	}
	if got := TrailingDelta("hello", "hello"); got != "" {
		t.Fatalf("expected empty trailing delta when equal, got %q", got)
	}
	if got := TrailingDelta("short", "much longer than short"); got != "" {
		t.Fatalf("expected empty trailing delta when buffered is shorter, got %q", got)
	}
}

func TestRewriteGraphSSEStreamAccumulatesDeltas(t *testing.T) {
	body := "data: {\"messages\":[{\"text\":\"Hello\"}]}\n\n" +
		"data: {\"messages\":[{\"text\":\"Hello there\"}]}\n\n" +
		"data: [DONE]\n\n"

	var deltas []string
	tr := NewGraphSnapshotTransformer("")
	err := RewriteGraphSSEStream(strings.NewReader(body), tr, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 2 || deltas[0] != "Hello" || deltas[1] != " there" {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
}
