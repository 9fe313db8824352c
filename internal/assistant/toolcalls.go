package assistant

import (
	"github.com/m365proxy/m365proxy/internal/jsonval"
	"github.com/m365proxy/m365proxy/internal/request"
)

// ToolCall is an accepted, normalized function call extracted from
// assistant text.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// extractRawCalls probes node for the first tool-call shape present, in
// spec.md §4.6's priority order, and returns its raw call objects.
func extractRawCalls(node interface{}) []interface{} {
	if arr, ok := jsonval.AsArray(node); ok {
		return arr
	}
	obj, ok := jsonval.AsObject(node)
	if !ok {
		return nil
	}

	if arr, ok := jsonval.TryGetArray(obj, "tool_calls"); ok && len(arr) > 0 {
		return arr
	}
	if msg, ok := jsonval.TryGetObject(obj, "message"); ok {
		if arr, ok := jsonval.TryGetArray(msg, "tool_calls"); ok && len(arr) > 0 {
			return arr
		}
	}
	if choices, ok := jsonval.TryGetArray(obj, "choices"); ok {
		var collected []interface{}
		for _, c := range choices {
			choice, ok := jsonval.AsObject(c)
			if !ok {
				continue
			}
			if msg, ok := jsonval.TryGetObject(choice, "message"); ok {
				if arr, ok := jsonval.TryGetArray(msg, "tool_calls"); ok {
					collected = append(collected, arr...)
				}
			}
			if delta, ok := jsonval.TryGetObject(choice, "delta"); ok {
				if arr, ok := jsonval.TryGetArray(delta, "tool_calls"); ok {
					collected = append(collected, arr...)
				}
			}
		}
		if len(collected) > 0 {
			return collected
		}
	}
	if output, ok := jsonval.TryGetArray(obj, "output"); ok {
		var collected []interface{}
		for _, item := range output {
			itemObj, ok := jsonval.AsObject(item)
			if !ok {
				continue
			}
			if jsonval.GetString(itemObj, "type", "") == "function_call" {
				collected = append(collected, itemObj)
			}
		}
		if len(collected) > 0 {
			return collected
		}
	}

	if _, hasName := obj["name"]; hasName {
		return []interface{}{obj}
	}
	if fn, ok := jsonval.TryGetObject(obj, "function"); ok {
		if _, hasName := fn["name"]; hasName {
			return []interface{}{obj}
		}
	}
	return nil
}

// normalizeRawCall pulls id/name/arguments out of a single raw call object,
// handling both the flattened {name, arguments} shape and the
// {function: {name, arguments}} nested shape.
func normalizeRawCall(raw interface{}) (id, name string, argumentsNode interface{}) {
	obj, ok := jsonval.AsObject(raw)
	if !ok {
		return "", "", nil
	}
	id, _ = jsonval.TryGetString(obj, "id")

	if fn, ok := jsonval.TryGetObject(obj, "function"); ok {
		name, _ = jsonval.TryGetString(fn, "name")
		argumentsNode = fn["arguments"]
		return id, name, argumentsNode
	}

	name, _ = jsonval.TryGetString(obj, "name")
	if v, ok := obj["arguments"]; ok {
		argumentsNode = v
	} else {
		argumentsNode = obj["parameters"]
	}
	return id, name, argumentsNode
}

// acceptCall applies spec.md §4.6's acceptance rule: a name must be
// extractable, match the declared function when toolChoiceMode=function,
// and appear in the declared tool list.
func acceptCall(name string, tooling request.Tooling) bool {
	if name == "" {
		return false
	}
	if tooling.ToolChoiceMode == request.ToolChoiceFunction && name != tooling.ToolChoiceFunctionName {
		return false
	}
	for _, t := range tooling.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// extractAcceptedToolCalls walks the candidate JSON substrings of text in
// priority order; the first candidate that yields >= 1 accepted tool call
// wins.
func extractAcceptedToolCalls(text string, tooling request.Tooling) ([]ToolCall, bool) {
	for _, candidate := range enumerateCandidates(text) {
		node, ok := parseJSON(candidate)
		if !ok {
			continue
		}
		raw := extractRawCalls(node)
		if len(raw) == 0 {
			continue
		}

		var accepted []ToolCall
		for _, r := range raw {
			id, name, argsNode := normalizeRawCall(r)
			if !acceptCall(name, tooling) {
				continue
			}
			if id == "" {
				id = newToolCallID()
			}
			accepted = append(accepted, ToolCall{ID: id, Name: name, Arguments: normalizeArguments(argsNode)})
		}
		if len(accepted) > 0 {
			return accepted, true
		}
	}
	return nil, false
}
