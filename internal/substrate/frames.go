package substrate

import (
	"strings"

	"github.com/m365proxy/m365proxy/internal/jsonval"
)

var terminalFrameTypes = map[int]bool{2: true, 3: true, 7: true}

// frameIsTerminal reports whether frame's integer "type" field marks the
// end of a Receive loop (spec: type ∈ {2,3,7}).
func frameIsTerminal(frame map[string]interface{}) bool {
	t, ok := jsonval.TryGetInt(frame, "type")
	return ok && terminalFrameTypes[t]
}

// frameHasError reports whether frame carries a top-level "error" field.
func frameHasError(frame map[string]interface{}) bool {
	v, ok := frame["error"]
	return ok && jsonval.IsTruthy(v)
}

var successResultValues = map[string]bool{
	"success":                  true,
	"apologyresponsereturned": true,
}

// frameSuccess reports whether frame indicates a successful turn: no error
// field, and result.value (if present) is one of the accepted values
// (case-insensitive).
func frameSuccess(frame map[string]interface{}) bool {
	if frameHasError(frame) {
		return false
	}
	result, ok := jsonval.TryGetObject(frame, "result")
	if !ok {
		return true
	}
	value, ok := jsonval.TryGetString(result, "value")
	if !ok {
		return true
	}
	return successResultValues[strings.ToLower(value)]
}

// frameConversationID searches frame.conversationId, frame.item.conversationId,
// frame.arguments[*].conversationId, and frame.arguments[*].item.conversationId
// in that order, returning the last non-empty match found — i.e. the
// deepest candidate wins when several are populated.
func frameConversationID(frame map[string]interface{}) string {
	var found string

	if v, ok := jsonval.TryGetString(frame, "conversationId"); ok && v != "" {
		found = v
	}
	if item, ok := jsonval.TryGetObject(frame, "item"); ok {
		if v, ok := jsonval.TryGetString(item, "conversationId"); ok && v != "" {
			found = v
		}
	}
	if args, ok := jsonval.TryGetArray(frame, "arguments"); ok {
		for _, a := range args {
			argObj, ok := jsonval.AsObject(a)
			if !ok {
				continue
			}
			if v, ok := jsonval.TryGetString(argObj, "conversationId"); ok && v != "" {
				found = v
			}
			if item, ok := jsonval.TryGetObject(argObj, "item"); ok {
				if v, ok := jsonval.TryGetString(item, "conversationId"); ok && v != "" {
					found = v
				}
			}
		}
	}
	return found
}

// frameWriteAtCursorDeltas collects every "writeAtCursor" string found in
// frame.arguments[*], in order, each one a streaming content delta.
func frameWriteAtCursorDeltas(frame map[string]interface{}) []string {
	args, ok := jsonval.TryGetArray(frame, "arguments")
	if !ok {
		return nil
	}
	var deltas []string
	for _, a := range args {
		argObj, ok := jsonval.AsObject(a)
		if !ok {
			continue
		}
		if v, ok := jsonval.TryGetString(argObj, "writeAtCursor"); ok && v != "" {
			deltas = append(deltas, v)
		}
	}
	return deltas
}

var botMessageTypes = map[string]bool{"Chat": true, "Disengaged": true}

// frameBotMessageText returns the text of the latest message in
// frame.arguments[*].messages[*] with author=="bot" and messageType in
// {Chat, Disengaged}, preferring text, then hiddenText, then spokenText.
func frameBotMessageText(frame map[string]interface{}) (string, bool) {
	args, ok := jsonval.TryGetArray(frame, "arguments")
	if !ok {
		return "", false
	}

	var latest string
	found := false
	for _, a := range args {
		argObj, ok := jsonval.AsObject(a)
		if !ok {
			continue
		}
		messages, ok := jsonval.TryGetArray(argObj, "messages")
		if !ok {
			continue
		}
		for _, m := range messages {
			msgObj, ok := jsonval.AsObject(m)
			if !ok {
				continue
			}
			author, _ := jsonval.TryGetString(msgObj, "author")
			msgType, _ := jsonval.TryGetString(msgObj, "messageType")
			if author != "bot" || !botMessageTypes[msgType] {
				continue
			}
			text := jsonval.FirstNonEmptyString(msgObj, "text", "hiddenText", "spokenText")
			if text != "" {
				latest = text
				found = true
			}
		}
	}
	return latest, found
}
