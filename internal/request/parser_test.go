package request

import (
	"os"
	"testing"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	os.Clearenv()
	return config.Load()
}

func TestParseChatRequestEmptyMessages(t *testing.T) {
	_, err := ParseChatRequest(map[string]interface{}{"messages": []interface{}{}}, testConfig())
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidRequest, apiErr.ErrCode)
}

func TestParseChatRequestMissingMessages(t *testing.T) {
	_, err := ParseChatRequest(map[string]interface{}{}, testConfig())
	require.Error(t, err)
}

func TestParseChatRequestSimplePrompt(t *testing.T) {
	raw := map[string]interface{}{
		"model": "m365-copilot",
		"messages": []interface{}{
			map[string]interface{}{"role": "system", "content": "be terse"},
			map[string]interface{}{"role": "user", "content": "Hi"},
		},
	}
	cr, err := ParseChatRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "Hi", cr.PromptText)
	require.Len(t, cr.AdditionalContext, 1)
	assert.Equal(t, "system: be terse", cr.AdditionalContext[0].Text)
	assert.Equal(t, ToolChoiceNone, cr.Tooling.ToolChoiceMode)
}

func TestParseChatRequestPromptIsLastUserMessage(t *testing.T) {
	raw := map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": "first"},
			map[string]interface{}{"role": "assistant", "content": "reply"},
			map[string]interface{}{"role": "user", "content": "second"},
		},
	}
	cr, err := ParseChatRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "second", cr.PromptText)
	require.Len(t, cr.AdditionalContext, 2)
	assert.Equal(t, "user: first", cr.AdditionalContext[0].Text)
	assert.Equal(t, "assistant: reply", cr.AdditionalContext[1].Text)
}

func TestParseChatRequestArrayContentWithImage(t *testing.T) {
	raw := map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{
				"role": "user",
				"content": []interface{}{
					map[string]interface{}{"type": "text", "text": "look at this"},
					map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": "http://x/y.png"}},
				},
			},
		},
	}
	cr, err := ParseChatRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Contains(t, cr.PromptText, "look at this")
	assert.Contains(t, cr.PromptText, "[user attached image: http://x/y.png]")
}

func TestParseChatRequestToolsAndChoice(t *testing.T) {
	raw := map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": "what time"},
		},
		"tools": []interface{}{
			map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        "get_time",
					"description": "returns time",
				},
			},
		},
		"tool_choice": map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": "get_time"},
		},
	}
	cr, err := ParseChatRequest(raw, testConfig())
	require.NoError(t, err)
	require.Len(t, cr.Tooling.Tools, 1)
	assert.Equal(t, "get_time", cr.Tooling.Tools[0].Name)
	assert.Equal(t, ToolChoiceFunction, cr.Tooling.ToolChoiceMode)
	assert.Equal(t, "get_time", cr.Tooling.ToolChoiceFunctionName)
	// injected compatibility context appended
	found := false
	for _, e := range cr.AdditionalContext {
		if e.Description == "tool-choice" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestParseChatRequestToolsRequiredNoChoiceDefaultsAuto(t *testing.T) {
	raw := map[string]interface{}{
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
		"tools": []interface{}{
			map[string]interface{}{"type": "function", "function": map[string]interface{}{"name": "f"}},
		},
	}
	cr, err := ParseChatRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, ToolChoiceAuto, cr.Tooling.ToolChoiceMode)
}

func TestParseChatRequestRejectsRequiredChoiceWithNoTools(t *testing.T) {
	raw := map[string]interface{}{
		"messages":    []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
		"tools":       []interface{}{},
		"tool_choice": "required",
	}
	_, err := ParseChatRequest(raw, testConfig())
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidToolOutput, apiErr.ErrCode)
}

func TestParseChatRequestRejectsFunctionChoiceWithNoTools(t *testing.T) {
	raw := map[string]interface{}{
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
		"tool_choice": map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": "get_time"},
		},
	}
	_, err := ParseChatRequest(raw, testConfig())
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidToolOutput, apiErr.ErrCode)
}

func TestParseChatRequestRejectsToolWithoutName(t *testing.T) {
	raw := map[string]interface{}{
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
		"tools": []interface{}{
			map[string]interface{}{"type": "function", "function": map[string]interface{}{}},
			map[string]interface{}{"type": "retrieval"},
		},
	}
	cr, err := ParseChatRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Empty(t, cr.Tooling.Tools)
}

func TestInjectCompatibilityContextTruncatesOldestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAdditionalContextMessages = 2
	messages := []interface{}{}
	for i := 0; i < 5; i++ {
		messages = append(messages, map[string]interface{}{"role": "user", "content": "turn " + string(rune('a'+i))})
	}
	messages = append(messages, map[string]interface{}{"role": "user", "content": "final"})
	raw := map[string]interface{}{"messages": messages}
	cr, err := ParseChatRequest(raw, cfg)
	require.NoError(t, err)
	assert.Equal(t, "final", cr.PromptText)
	require.Len(t, cr.AdditionalContext, 2)
	assert.Equal(t, "user: turn d", cr.AdditionalContext[0].Text)
	assert.Equal(t, "user: turn e", cr.AdditionalContext[1].Text)
}

func TestParseResponsesRequestStringInput(t *testing.T) {
	raw := map[string]interface{}{"input": "Say hello"}
	rr, err := ParseResponsesRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "Say hello", rr.PromptText)
}

func TestParseResponsesRequestEmptyInput(t *testing.T) {
	raw := map[string]interface{}{"input": ""}
	_, err := ParseResponsesRequest(raw, testConfig())
	require.Error(t, err)
}

func TestParseResponsesRequestFunctionCallItems(t *testing.T) {
	raw := map[string]interface{}{
		"input": []interface{}{
			map[string]interface{}{"role": "user", "content": "what time"},
			map[string]interface{}{
				"type": "function_call", "call_id": "call_1", "name": "get_time", "arguments": `{"zone":"UTC"}`,
			},
			map[string]interface{}{
				"type": "function_call_output", "call_id": "call_1", "output": "12:00",
			},
		},
	}
	rr, err := ParseResponsesRequest(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "what time", rr.PromptText)
	// tool output message becomes additionalContext since it isn't the prompt
	found := false
	for _, e := range rr.AdditionalContext {
		if e.Text == "tool[call_1]: 12:00" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestParseResponsesRequestInstructionsPromoted(t *testing.T) {
	raw := map[string]interface{}{
		"input":        "hello",
		"instructions": "be nice",
	}
	rr, err := ParseResponsesRequest(raw, testConfig())
	require.NoError(t, err)
	require.Len(t, rr.AdditionalContext, 1)
	assert.Equal(t, "system: be nice", rr.AdditionalContext[0].Text)
}

func TestParseResponsesRequestTextFormatMapping(t *testing.T) {
	raw := map[string]interface{}{
		"input": "hello",
		"text": map[string]interface{}{
			"format": map[string]interface{}{"type": "json_object"},
		},
	}
	rr, err := ParseResponsesRequest(raw, testConfig())
	require.NoError(t, err)
	require.NotNil(t, rr.ResponseFormat)
	assert.Equal(t, "json_object", rr.ResponseFormat.Type)
}

func TestClampReasoningEffortForModel(t *testing.T) {
	assert.Equal(t, "medium", ClampReasoningEffortForModel("", "m365-copilot"))
	assert.Equal(t, "high", ClampReasoningEffortForModel("high", "m365-copilot"))
	assert.Equal(t, "medium", ClampReasoningEffortForModel("aggressive", "m365-copilot"))
}
