// Package emitter builds the OpenAI-shaped Chat Completions and Responses
// API objects and SSE event streams (spec.md §4.7). Chat completion/chunk
// shapes are grounded on the teacher's internal/server/types.go
// (ChatCompletionResponse/ChatCompletionChoice); the Graph SSE transformer
// reuses the bufio.Scanner event-framing structure of
// internal/server/transform.go's RewriteSSEStreamWithCallback, swapping the
// teacher's Codex-event transform for a cumulative-snapshot-to-delta one.
package emitter

import (
	"strings"

	"github.com/google/uuid"
	"github.com/m365proxy/m365proxy/internal/assistant"
)

// NewChatCompletionID returns a chatcmpl-<hex32> id.
func NewChatCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BuildChatCompletion builds the non-streaming chat.completion object.
func BuildChatCompletion(id, model string, created int64, resp *assistant.AssistantResponse, conversationID string) map[string]interface{} {
	message := map[string]interface{}{"role": "assistant"}
	if resp.Content != nil {
		message["content"] = *resp.Content
	} else {
		message["content"] = nil
	}
	if len(resp.ToolCalls) > 0 {
		message["tool_calls"] = buildToolCallsPayload(resp.ToolCalls)
	}

	out := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion",
		"created": created,
		"model":   model,
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"message":       message,
				"finish_reason": resp.FinishReason,
			},
		},
	}
	if conversationID != "" {
		out["conversation_id"] = conversationID
	}
	return out
}

// BuildChatChunk builds one chat.completion.chunk object. delta holds only
// the fields the caller sets (role/content/tool_calls); finishReason may
// be empty for a non-terminal chunk.
func BuildChatChunk(id, model string, created int64, delta map[string]interface{}, finishReason string) map[string]interface{} {
	var fr interface{}
	if finishReason != "" {
		fr = finishReason
	}
	return map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"delta":         delta,
				"finish_reason": fr,
			},
		},
	}
}

func buildToolCallsPayload(calls []assistant.ToolCall) []interface{} {
	out := make([]interface{}, len(calls))
	for i, c := range calls {
		out[i] = map[string]interface{}{
			"id":   c.ID,
			"type": "function",
			"function": map[string]interface{}{
				"name":      c.Name,
				"arguments": c.Arguments,
			},
		}
	}
	return out
}
