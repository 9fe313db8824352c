package request

import (
	"encoding/json"

	"github.com/m365proxy/m365proxy/internal/config"
)

// injectCompatibilityContext appends up to cfg.MaxAdditionalContextMessages
// synthetic "OpenAI-compatibility" context entries describing the
// tool-calling contract, the declared tool list, and the active tool-choice
// constraint (spec.md §4.1's parsing side effect), then truncates the full
// additionalContext list oldest-first to the configured cap.
func injectCompatibilityContext(cr *CanonicalRequest, cfg *config.Config) {
	if len(cr.Tooling.Tools) > 0 {
		cr.AdditionalContext = append(cr.AdditionalContext,
			AdditionalContextEntry{
				Text: "The assistant may call one of the declared functions by responding with a " +
					"tool_calls JSON payload instead of plain text.",
				Description: "tool-calling-contract",
			},
			AdditionalContextEntry{
				Text:        "Available tools: " + toolsCanonicalJSON(cr.Tooling.Tools),
				Description: "available-tools",
			},
			AdditionalContextEntry{
				Text:        "Tool choice constraint: " + toolChoiceDescription(cr.Tooling),
				Description: "tool-choice",
			},
		)
	}

	limit := cfg.MaxAdditionalContextMessages
	if limit <= 0 {
		limit = config.DefaultMaxAdditionalContextMessages
	}
	if len(cr.AdditionalContext) > limit {
		cr.AdditionalContext = cr.AdditionalContext[len(cr.AdditionalContext)-limit:]
	}
}

func toolsCanonicalJSON(tools []ToolDef) string {
	type canonical struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	}
	list := make([]canonical, len(tools))
	for i, t := range tools {
		list[i] = canonical{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func toolChoiceDescription(t Tooling) string {
	switch t.ToolChoiceMode {
	case ToolChoiceFunction:
		return "must call \"" + t.ToolChoiceFunctionName + "\""
	case ToolChoiceRequired:
		return "must call one of the declared tools"
	case ToolChoiceNone:
		return "must not call any tool"
	default:
		return "may call a tool if helpful"
	}
}
