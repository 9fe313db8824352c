package emitter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/m365proxy/m365proxy/internal/assistant"
)

// WriteBufferedChatStream writes the buffered-assistant streaming sequence
// for Chat Completions (spec.md §4.7): a role chunk, then either one
// content chunk or one tool-calls chunk, then a final chunk carrying the
// terminal finish_reason, then "data: [DONE]".
func WriteBufferedChatStream(w io.Writer, id, model string, created int64, resp *assistant.AssistantResponse) error {
	if err := writeSSEObject(w, BuildChatChunk(id, model, created, map[string]interface{}{"role": "assistant"}, "")); err != nil {
		return err
	}

	if len(resp.ToolCalls) > 0 {
		if err := writeSSEObject(w, BuildChatChunk(id, model, created, map[string]interface{}{
			"tool_calls": buildToolCallsPayload(resp.ToolCalls),
		}, "")); err != nil {
			return err
		}
	} else if resp.Content != nil && *resp.Content != "" {
		if err := writeSSEObject(w, BuildChatChunk(id, model, created, map[string]interface{}{
			"content": *resp.Content,
		}, "")); err != nil {
			return err
		}
	}

	if err := writeSSEObject(w, BuildChatChunk(id, model, created, map[string]interface{}{}, resp.FinishReason)); err != nil {
		return err
	}
	return writeSSERaw(w, "[DONE]")
}

// WriteDone writes the terminal "data: [DONE]" SSE line.
func WriteDone(w io.Writer) error {
	return writeSSERaw(w, "[DONE]")
}

// WriteSSEObject JSON-encodes obj and writes it as one "data: ...\n\n" SSE
// line, for callers outside this package emitting ad hoc chunk objects
// (the live-streaming chat completion path).
func WriteSSEObject(w io.Writer, obj map[string]interface{}) error {
	return writeSSEObject(w, obj)
}

func writeSSEObject(w io.Writer, obj map[string]interface{}) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE event: %w", err)
	}
	return writeSSERaw(w, string(b))
}

func writeSSERaw(w io.Writer, payload string) error {
	_, err := io.WriteString(w, "data: "+payload+"\n\n")
	return err
}
