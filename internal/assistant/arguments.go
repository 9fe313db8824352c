package assistant

import (
	"encoding/json"
	"strings"
)

// normalizeArguments canonicalizes a tool call's raw "arguments" node to a
// JSON string per spec.md §4.6, generalizing
// n0madic-go-chatmock/internal/stream/toolbuf.go's SerializeToolArgs to
// also attempt the control-character repair pass before giving up.
func normalizeArguments(node interface{}) string {
	switch v := node.(type) {
	case nil:
		return "{}"
	case string:
		return normalizeStringArguments(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
}

func normalizeStringArguments(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "{}"
	}

	if canon, ok := canonicalizeJSONString(trimmed); ok {
		return canon
	}
	if canon, ok := canonicalizeJSONString(repairControlCharacters(trimmed)); ok {
		return canon
	}

	b, err := json.Marshal(map[string]interface{}{"input": raw})
	if err != nil {
		return "{}"
	}
	return string(b)
}

func canonicalizeJSONString(s string) (string, bool) {
	var parsed interface{}
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return "", false
	}
	b, err := json.Marshal(parsed)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// repairControlCharacters walks s tracking in-string/escape state and
// escapes raw newline, carriage-return, and tab bytes that appear inside
// (unescaped) JSON string literals, which otherwise make the document
// invalid JSON.
func repairControlCharacters(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false

	for _, r := range s {
		if inString {
			if escaped {
				b.WriteRune(r)
				escaped = false
				continue
			}
			switch r {
			case '\\':
				escaped = true
				b.WriteRune(r)
			case '"':
				inString = false
				b.WriteRune(r)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
			continue
		}

		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
