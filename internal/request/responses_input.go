package request

import (
	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/jsonval"
)

// translateResponsesInput converts the Responses API's `input` field (a
// string or an array of message/function_call/function_call_output items)
// into synthetic chat messages, per spec.md §4.1's Responses parser
// additions. The original `input` value is returned verbatim for echoing.
func translateResponsesInput(raw map[string]interface{}) ([]map[string]interface{}, interface{}, error) {
	input, present := raw["input"]
	if !present {
		return nil, nil, apierr.New(apierr.InvalidRequest, "input is required")
	}

	switch v := input.(type) {
	case string:
		if v == "" {
			return nil, input, apierr.New(apierr.InvalidRequest, "input must yield at least one textual item")
		}
		return []map[string]interface{}{{"role": "user", "content": v}}, input, nil
	case []interface{}:
		messages := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			obj, ok := jsonval.AsObject(item)
			if !ok {
				continue
			}
			msgs := translateResponsesItem(obj)
			messages = append(messages, msgs...)
		}
		return messages, input, nil
	default:
		return nil, input, apierr.New(apierr.InvalidRequest, "input cannot yield any textual item")
	}
}

func translateResponsesItem(obj map[string]interface{}) []map[string]interface{} {
	typ := jsonval.GetString(obj, "type", "")
	switch typ {
	case "function_call":
		name := jsonval.GetString(obj, "name", "")
		callID := jsonval.FirstNonEmptyString(obj, "call_id", "id")
		args := jsonval.GetString(obj, "arguments", "{}")
		return []map[string]interface{}{{
			"role": "assistant",
			"tool_calls": []interface{}{
				map[string]interface{}{
					"id":   callID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      name,
						"arguments": args,
					},
				},
			},
		}}
	case "function_call_output":
		callID := jsonval.FirstNonEmptyString(obj, "call_id", "id")
		output := obj["output"]
		content := ""
		if s, ok := output.(string); ok {
			content = s
		} else {
			content = extractContentText(output, "tool")
		}
		return []map[string]interface{}{{
			"role":         "tool",
			"tool_call_id": callID,
			"content":      content,
		}}
	case "message", "":
		role := jsonval.GetString(obj, "role", "user")
		return []map[string]interface{}{{"role": role, "content": obj["content"]}}
	default:
		return nil
	}
}
