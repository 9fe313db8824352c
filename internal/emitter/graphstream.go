package emitter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/m365proxy/m365proxy/internal/jsonval"
)

// GraphSnapshotTransformer converts a sequence of Graph SSE events — each a
// cumulative snapshot of the whole conversation — into incremental text
// deltas, tracking what has already been emitted so no byte is ever
// retracted (spec.md §4.7).
type GraphSnapshotTransformer struct {
	promptText string
	emitted    string
}

// NewGraphSnapshotTransformer builds a transformer that excludes any
// message whose text equals promptText from delta computation.
func NewGraphSnapshotTransformer(promptText string) *GraphSnapshotTransformer {
	return &GraphSnapshotTransformer{promptText: promptText}
}

// Emitted returns the text emitted so far.
func (t *GraphSnapshotTransformer) Emitted() string {
	return t.emitted
}

// Feed processes one SSE data payload and returns the new delta to emit
// (possibly empty), and whether the upstream stream signaled completion.
func (t *GraphSnapshotTransformer) Feed(dataLine []byte) (delta string, done bool, err error) {
	trimmed := bytes.TrimSpace(dataLine)
	if len(trimmed) == 0 {
		return "", false, nil
	}
	if bytes.Equal(trimmed, []byte("[DONE]")) {
		return "", true, nil
	}

	var payload map[string]interface{}
	if jsonErr := json.Unmarshal(trimmed, &payload); jsonErr != nil {
		return "", false, nil
	}

	latest := extractLatestAssistantText(payload, t.promptText)
	if latest == "" {
		return "", false, nil
	}
	if len(latest) <= len(t.emitted) || latest[:len(t.emitted)] != t.emitted {
		// A snapshot that doesn't extend what's already emitted is skipped —
		// no previously emitted byte is ever retracted.
		return "", false, nil
	}
	delta = latest[len(t.emitted):]
	t.emitted = latest
	return delta, false, nil
}

// TrailingDelta returns the suffix of buffered not yet present in emitted,
// for the stream-termination trailing-delta rule.
func TrailingDelta(buffered, emitted string) string {
	if len(buffered) <= len(emitted) || buffered[:len(emitted)] != emitted {
		return ""
	}
	return buffered[len(emitted):]
}

// ExtractAssistantText applies the same prompt-exclusion rule as the
// streaming transformer to a single, already-complete Graph response body
// (the non-streaming Chat() payload), for callers that never see a SSE
// sequence to feed incrementally.
func ExtractAssistantText(payload map[string]interface{}, promptText string) string {
	return extractLatestAssistantText(payload, promptText)
}

// extractLatestAssistantText applies the prompt-exclusion rule: ignore
// messages whose text equals promptText; prefer the last other non-empty
// message text; fall back to the last non-empty message of any kind.
func extractLatestAssistantText(payload map[string]interface{}, promptText string) string {
	messages, ok := jsonval.TryGetArray(payload, "messages")
	if !ok {
		return jsonval.FirstNonEmptyString(payload, "text", "content")
	}

	var lastOther, lastAny string
	for _, m := range messages {
		obj, ok := jsonval.AsObject(m)
		if !ok {
			continue
		}
		text := jsonval.FirstNonEmptyString(obj, "text", "content", "body")
		if text == "" {
			continue
		}
		lastAny = text
		if text != promptText {
			lastOther = text
		}
	}
	if lastOther != "" {
		return lastOther
	}
	return lastAny
}

// RewriteGraphSSEStream reads upstream Graph SSE events from r, feeding
// each data payload through transformer and invoking onDelta for every
// non-empty delta; it returns once the upstream stream signals completion
// or the reader is exhausted. Grounded on the bufio.Scanner event-framing
// structure of the teacher's RewriteSSEStreamWithCallback.
func RewriteGraphSSEStream(r io.Reader, transformer *GraphSnapshotTransformer, onDelta func(delta string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var dataLines [][]byte
	flush := func() (bool, error) {
		if len(dataLines) == 0 {
			return false, nil
		}
		raw := bytes.Join(dataLines, []byte("\n"))
		dataLines = dataLines[:0]

		delta, done, err := transformer.Feed(raw)
		if err != nil {
			return false, err
		}
		if delta != "" && onDelta != nil {
			onDelta(delta)
		}
		return done, nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			done, err := flush()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}
		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			payload := bytes.TrimPrefix(line, []byte("data:"))
			if len(payload) > 0 && payload[0] == ' ' {
				payload = payload[1:]
			}
			cp := make([]byte, len(payload))
			copy(cp, payload)
			dataLines = append(dataLines, cp)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err := flush()
	return err
}
