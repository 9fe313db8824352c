package assistant

import (
	"testing"

	"github.com/m365proxy/m365proxy/internal/request"
)

func TestExtractRawCallsPrefersTopLevelToolCalls(t *testing.T) {
	node := map[string]interface{}{
		"tool_calls": []interface{}{map[string]interface{}{"name": "a"}},
		"message":    map[string]interface{}{"tool_calls": []interface{}{map[string]interface{}{"name": "b"}}},
	}
	raw := extractRawCalls(node)
	if len(raw) != 1 {
		t.Fatalf("expected top-level tool_calls to win, got %v", raw)
	}
}

func TestExtractRawCallsChoicesDeltaShape(t *testing.T) {
	node := map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{"delta": map[string]interface{}{"tool_calls": []interface{}{
				map[string]interface{}{"name": "a"},
			}}},
		},
	}
	raw := extractRawCalls(node)
	if len(raw) != 1 {
		t.Fatalf("expected 1 raw call from choices[].delta, got %v", raw)
	}
}

func TestExtractRawCallsOutputFunctionCallItems(t *testing.T) {
	node := map[string]interface{}{
		"output": []interface{}{
			map[string]interface{}{"type": "message", "content": "ignored"},
			map[string]interface{}{"type": "function_call", "name": "a"},
		},
	}
	raw := extractRawCalls(node)
	if len(raw) != 1 {
		t.Fatalf("expected 1 function_call item, got %v", raw)
	}
}

func TestAcceptCallRequiresDeclaredTool(t *testing.T) {
	tooling := request.Tooling{Tools: []request.ToolDef{{Name: "a"}}, ToolChoiceMode: request.ToolChoiceAuto}
	if !acceptCall("a", tooling) {
		t.Fatalf("expected declared tool to be accepted")
	}
	if acceptCall("b", tooling) {
		t.Fatalf("expected undeclared tool to be rejected")
	}
	if acceptCall("", tooling) {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestAcceptCallFunctionModeRequiresExactMatch(t *testing.T) {
	tooling := request.Tooling{
		Tools:                  []request.ToolDef{{Name: "a"}, {Name: "b"}},
		ToolChoiceMode:         request.ToolChoiceFunction,
		ToolChoiceFunctionName: "a",
	}
	if !acceptCall("a", tooling) {
		t.Fatalf("expected matching function name to be accepted")
	}
	if acceptCall("b", tooling) {
		t.Fatalf("expected non-matching declared tool to be rejected in function mode")
	}
}
