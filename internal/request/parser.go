package request

import (
	"encoding/json"
	"strings"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/m365proxy/m365proxy/internal/jsonval"
)

// ParseChatRequest normalizes a decoded Chat Completions request body into
// a CanonicalRequest (spec.md §4.1).
func ParseChatRequest(raw map[string]interface{}, cfg *config.Config) (*CanonicalRequest, error) {
	rawMessages, ok := jsonval.TryGetArray(raw, "messages")
	if !ok || len(rawMessages) == 0 {
		return nil, apierr.New(apierr.InvalidRequest, "messages is required and must be a non-empty array")
	}

	cr := baseCanonicalRequest(raw, cfg)

	promptIdx := lastUserMessageIndex(rawMessages)
	if promptIdx < 0 {
		promptIdx = len(rawMessages) - 1
	}

	for i, m := range rawMessages {
		mm, ok := jsonval.AsObject(m)
		if !ok {
			continue
		}
		if i == promptIdx {
			cr.PromptText = renderMessageText(mm)
			continue
		}
		cr.AdditionalContext = append(cr.AdditionalContext, AdditionalContextEntry{
			Text: renderContextLine(mm),
		})
	}

	if err := applyToolingAndFormat(cr, raw); err != nil {
		return nil, err
	}
	applyM365Extensions(cr, raw, cfg)
	injectCompatibilityContext(cr, cfg)

	return cr, nil
}

// ParseResponsesRequest normalizes a decoded Responses API request body
// (spec.md §4.1, Responses parser additions).
func ParseResponsesRequest(raw map[string]interface{}, cfg *config.Config) (*ResponsesRequest, error) {
	messages, rawInput, err := translateResponsesInput(raw)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, apierr.New(apierr.InvalidRequest, "input must contain at least one textual item")
	}

	synthetic := map[string]interface{}{"messages": toInterfaceSlice(messages)}
	for k, v := range raw {
		if k == "input" || k == "messages" {
			continue
		}
		synthetic[k] = v
	}

	instructions := jsonval.GetString(raw, "instructions", "")
	if instructions != "" && !hasSystemMessage(messages) {
		synthetic["messages"] = prependSystemMessage(messages, instructions)
	}

	if format, ok := jsonval.TryGetObject(raw, "text"); ok {
		if f, ok := jsonval.TryGetObject(format, "format"); ok {
			synthetic["response_format"] = f
		}
	}
	if reasoning, ok := jsonval.TryGetObject(raw, "reasoning"); ok {
		if effort, ok := jsonval.TryGetString(reasoning, "effort"); ok {
			synthetic["reasoning_effort"] = effort
		}
	}

	cr, err := ParseChatRequest(synthetic, cfg)
	if err != nil {
		return nil, err
	}

	return &ResponsesRequest{
		CanonicalRequest:   cr,
		PreviousResponseID: jsonval.GetString(raw, "previous_response_id", ""),
		Instructions:       instructions,
		RawInput:           rawInput,
	}, nil
}

func baseCanonicalRequest(raw map[string]interface{}, cfg *config.Config) *CanonicalRequest {
	cr := &CanonicalRequest{
		Model:    jsonval.GetString(raw, "model", cfg.DefaultModel),
		Stream:   jsonval.IsTruthy(raw["stream"]),
		UserKey:  jsonval.GetString(raw, "user", ""),
		Raw:      raw,
		LocationHint: LocationHint{
			TimeZone: cfg.DefaultTimeZone,
		},
	}
	if effort, ok := jsonval.TryGetString(raw, "reasoning_effort"); ok {
		cr.ReasoningEffort = effort
	}
	if temp, ok := jsonval.TryGetFloat(raw, "temperature"); ok {
		cr.Temperature = &temp
	}
	return cr
}

// lastUserMessageIndex returns the index of the last message with
// role == "user", or -1 if none exists.
func lastUserMessageIndex(messages []interface{}) int {
	for i := len(messages) - 1; i >= 0; i-- {
		mm, ok := jsonval.AsObject(messages[i])
		if !ok {
			continue
		}
		if jsonval.GetString(mm, "role", "") == "user" {
			return i
		}
	}
	return -1
}

// renderMessageText extracts the textual content of a message per spec.md
// §4.1's content-shape rules (used for the selected prompt message).
func renderMessageText(mm map[string]interface{}) string {
	role := jsonval.GetString(mm, "role", "")
	if role == "tool" {
		return toolMessageLine(mm)
	}
	if role == "assistant" {
		if line, ok := assistantToolCallsLine(mm); ok {
			return line
		}
	}
	return extractContentText(mm["content"], role)
}

// renderContextLine formats a non-prompt message as an ordered
// additionalContext entry: "<role>: <content>".
func renderContextLine(mm map[string]interface{}) string {
	role := jsonval.GetString(mm, "role", "")
	text := renderMessageText(mm)
	if role == "tool" || (role == "assistant" && strings.HasPrefix(text, "assistant tool_calls:")) {
		return text
	}
	return role + ": " + text
}

// extractContentText handles a plain string, an object with text/value, or
// an array of {type, text} parts / raw strings. Images render as a marker.
func extractContentText(content interface{}, role string) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]interface{}:
		if t, ok := jsonval.TryGetString(v, "text"); ok {
			return t
		}
		if t, ok := jsonval.TryGetString(v, "value"); ok {
			return t
		}
		return ""
	case []interface{}:
		var parts []string
		for _, part := range v {
			switch p := part.(type) {
			case string:
				parts = append(parts, p)
			case map[string]interface{}:
				typ := jsonval.GetString(p, "type", "")
				switch typ {
				case "text", "input_text", "output_text":
					if t, ok := jsonval.TryGetString(p, "text"); ok {
						parts = append(parts, t)
					}
				case "image_url", "input_image":
					parts = append(parts, imageMarker(p, role))
				default:
					if t, ok := jsonval.TryGetString(p, "text"); ok {
						parts = append(parts, t)
					}
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// imageMarker renders a role-prefixed placeholder for an image part per
// spec.md §4.1 ("[role attached image: <url>]"), since the upstream
// transports carry text only.
func imageMarker(part map[string]interface{}, role string) string {
	url := ""
	if img, ok := jsonval.TryGetObject(part, "image_url"); ok {
		url = jsonval.GetString(img, "url", "")
	}
	if url == "" {
		url = jsonval.GetString(part, "image_url", "")
	}
	return "[" + role + " attached image: " + url + "]"
}

func toolMessageLine(mm map[string]interface{}) string {
	id := jsonval.GetString(mm, "tool_call_id", "")
	payload := extractContentText(mm["content"], "tool")
	return "tool[" + id + "]: " + payload
}

func assistantToolCallsLine(mm map[string]interface{}) (string, bool) {
	calls, ok := jsonval.TryGetArray(mm, "tool_calls")
	if !ok || len(calls) == 0 {
		return "", false
	}
	encoded, err := json.Marshal(calls)
	if err != nil {
		return "", false
	}
	return "assistant tool_calls: " + string(encoded), true
}

func toInterfaceSlice(messages []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(messages))
	for i, m := range messages {
		out[i] = m
	}
	return out
}

func hasSystemMessage(messages []map[string]interface{}) bool {
	for _, m := range messages {
		if jsonval.GetString(m, "role", "") == "system" {
			return true
		}
	}
	return false
}

func prependSystemMessage(messages []map[string]interface{}, instructions string) []interface{} {
	sys := map[string]interface{}{"role": "system", "content": instructions}
	out := make([]interface{}, 0, len(messages)+1)
	out = append(out, sys)
	for _, m := range messages {
		out = append(out, m)
	}
	return out
}
