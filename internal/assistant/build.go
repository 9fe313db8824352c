// Package assistant turns raw upstream assistant text into an
// AssistantResponse: tool-call extraction and JSON salvage, strict
// tool-choice enforcement, and response_format-aware content normalization
// (spec.md §4.6). Grounded on
// n0madic-go-chatmock/internal/stream/toolbuf.go's argument-resolution
// helpers (ExtractRawToolArgs/IsEmptyToolArgs/SerializeToolArgs), adapted
// from streamed-delta accumulation to single-shot text salvage.
package assistant

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/m365proxy/m365proxy/internal/request"
)

// AssistantResponse is the normalized result of building a model turn's
// final text/tool-call payload.
type AssistantResponse struct {
	Content                *string
	ToolCalls               []ToolCall
	FinishReason            string
	StrictToolErrorMessage  *string
}

// Build resolves rawText against req's tooling/response_format policy.
func Build(req *request.CanonicalRequest, rawText string) *AssistantResponse {
	toolsEnabled := len(req.Tooling.Tools) > 0 && req.Tooling.ToolChoiceMode != request.ToolChoiceNone

	if toolsEnabled {
		if calls, ok := extractAcceptedToolCalls(rawText, req.Tooling); ok {
			return &AssistantResponse{ToolCalls: calls, FinishReason: "tool_calls"}
		}
		if req.Tooling.ToolChoiceMode == request.ToolChoiceRequired || req.Tooling.ToolChoiceMode == request.ToolChoiceFunction {
			msg := strictToolErrorMessage(req.Tooling)
			return &AssistantResponse{FinishReason: "stop", StrictToolErrorMessage: &msg}
		}
	}

	content := rawText
	if req.ResponseFormat != nil {
		if node, ok := extractFormatCompatibleNode(rawText, req.ResponseFormat.Type); ok {
			if b, err := json.Marshal(node); err == nil {
				content = string(b)
			}
		}
	}
	return &AssistantResponse{Content: &content, FinishReason: "stop"}
}

// strictToolErrorMessage names the tool(s) the model was required to call
// but didn't, so the 400 body's error.message lets a caller identify which
// tool_choice failed to be honored (spec.md §8 scenario 3).
func strictToolErrorMessage(tooling request.Tooling) string {
	if tooling.ToolChoiceMode == request.ToolChoiceFunction && tooling.ToolChoiceFunctionName != "" {
		return "the model did not call the required tool \"" + tooling.ToolChoiceFunctionName + "\""
	}
	names := make([]string, len(tooling.Tools))
	for i, t := range tooling.Tools {
		names[i] = t.Name
	}
	return "the model did not call any of the required tools: " + strings.Join(names, ", ")
}

// extractFormatCompatibleNode re-runs the candidate enumeration looking for
// a JSON node compatible with the declared response_format type.
func extractFormatCompatibleNode(text, formatType string) (interface{}, bool) {
	for _, candidate := range enumerateCandidates(text) {
		node, ok := parseJSON(candidate)
		if !ok {
			continue
		}
		if formatType == "json_object" {
			if _, isObject := node.(map[string]interface{}); !isObject {
				continue
			}
		}
		return node, true
	}
	return nil, false
}

func parseJSON(candidate string) (interface{}, bool) {
	var node interface{}
	if err := json.Unmarshal([]byte(candidate), &node); err != nil {
		return nil, false
	}
	return node, true
}

// newToolCallID generates a call_<hex32> id for a tool call the model
// didn't supply one for.
func newToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
