package emitter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/m365proxy/m365proxy/internal/assistant"
)

// NewResponseID returns a resp_<hex32> id.
func NewResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ResponsesSequencer emits the 7-event Responses API SSE sequence (spec.md
// §4.7): response.created, response.in_progress, response.output_item.added,
// zero-or-more response.output_text.delta, response.output_text.done,
// response.output_item.done, response.completed. A function-call output
// skips the text delta/done events.
type ResponsesSequencer struct {
	w              io.Writer
	responseID     string
	model          string
	isFunctionCall bool
	textEmitted    strings.Builder
	seq            int
}

// NewResponsesSequencer builds a sequencer bound to w.
func NewResponsesSequencer(w io.Writer, responseID, model string) *ResponsesSequencer {
	return &ResponsesSequencer{w: w, responseID: responseID, model: model}
}

func (s *ResponsesSequencer) event(eventType string, fields map[string]interface{}) error {
	obj := map[string]interface{}{
		"type":        eventType,
		"response_id": s.responseID,
		"sequence_number": s.seq,
	}
	for k, v := range fields {
		obj[k] = v
	}
	s.seq++

	b, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return writeSSERaw(s.w, string(b))
}

// Start emits response.created, response.in_progress, and
// response.output_item.added. isFunctionCall determines whether text delta
// events will later be skipped.
func (s *ResponsesSequencer) Start(isFunctionCall bool) error {
	s.isFunctionCall = isFunctionCall

	if err := s.event("response.created", map[string]interface{}{
		"response": map[string]interface{}{"id": s.responseID, "model": s.model, "status": "in_progress"},
	}); err != nil {
		return err
	}
	if err := s.event("response.in_progress", map[string]interface{}{
		"response": map[string]interface{}{"id": s.responseID, "model": s.model, "status": "in_progress"},
	}); err != nil {
		return err
	}

	item := map[string]interface{}{"id": s.responseID + "_item_0"}
	if isFunctionCall {
		item["type"] = "function_call"
	} else {
		item["type"] = "message"
		item["role"] = "assistant"
	}
	return s.event("response.output_item.added", map[string]interface{}{"output_index": 0, "item": item})
}

// Delta emits a response.output_text.delta event; it is a no-op for a
// function-call output.
func (s *ResponsesSequencer) Delta(text string) error {
	if s.isFunctionCall || text == "" {
		return nil
	}
	s.textEmitted.WriteString(text)
	return s.event("response.output_text.delta", map[string]interface{}{"output_index": 0, "delta": text})
}

// FinishMessage emits output_text.done, output_item.done, and completed for
// a plain-text assistant turn, applying the trailing-delta rule against
// the fully-buffered text before closing out.
func (s *ResponsesSequencer) FinishMessage(resp *assistant.AssistantResponse) error {
	if !s.isFunctionCall && resp.Content != nil {
		if trailing := TrailingDelta(*resp.Content, s.textEmitted.String()); trailing != "" {
			if err := s.Delta(trailing); err != nil {
				return err
			}
		}
		finalText := ""
		if resp.Content != nil {
			finalText = *resp.Content
		}
		if err := s.event("response.output_text.done", map[string]interface{}{"output_index": 0, "text": finalText}); err != nil {
			return err
		}
	}

	item := map[string]interface{}{"id": s.responseID + "_item_0", "type": "message", "role": "assistant"}
	if resp.Content != nil {
		item["content"] = []interface{}{map[string]interface{}{"type": "output_text", "text": *resp.Content}}
	}
	if err := s.event("response.output_item.done", map[string]interface{}{"output_index": 0, "item": item}); err != nil {
		return err
	}

	return s.event("response.completed", map[string]interface{}{
		"response": map[string]interface{}{"id": s.responseID, "model": s.model, "status": "completed"},
	})
}

// BuildResponseObject builds the non-streaming Responses API object
// (spec.md §8 scenario 4): `.object == "response"`, `.output[0].type`
// either "message" or "function_call", `.output_text` mirroring the
// top-level convenience field OpenAI's Responses API exposes.
func BuildResponseObject(id, model string, created int64, resp *assistant.AssistantResponse, conversationID string) map[string]interface{} {
	out := map[string]interface{}{
		"id":         id,
		"object":     "response",
		"created_at": created,
		"model":      model,
		"status":     "completed",
	}

	if len(resp.ToolCalls) > 0 {
		items := make([]interface{}, len(resp.ToolCalls))
		for i, c := range resp.ToolCalls {
			items[i] = map[string]interface{}{
				"type":      "function_call",
				"call_id":   c.ID,
				"name":      c.Name,
				"arguments": c.Arguments,
			}
		}
		out["output"] = items
		out["output_text"] = nil
	} else {
		text := ""
		if resp.Content != nil {
			text = *resp.Content
		}
		out["output"] = []interface{}{
			map[string]interface{}{
				"type": "message",
				"role": "assistant",
				"content": []interface{}{
					map[string]interface{}{"type": "output_text", "text": text},
				},
			},
		}
		out["output_text"] = text
	}

	if conversationID != "" {
		out["conversation_id"] = conversationID
	}
	return out
}

// FinishFunctionCall emits output_item.done (with the final call payload)
// and completed, skipping the text delta/done events entirely.
func (s *ResponsesSequencer) FinishFunctionCall(call assistant.ToolCall) error {
	item := map[string]interface{}{
		"id":        s.responseID + "_item_0",
		"type":      "function_call",
		"call_id":   call.ID,
		"name":      call.Name,
		"arguments": call.Arguments,
	}
	if err := s.event("response.output_item.done", map[string]interface{}{"output_index": 0, "item": item}); err != nil {
		return err
	}
	return s.event("response.completed", map[string]interface{}{
		"response": map[string]interface{}{"id": s.responseID, "model": s.model, "status": "completed"},
	})
}
