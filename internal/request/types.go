// Package request normalizes OpenAI Chat Completions and Responses API
// request shapes into a single canonical internal request record.
package request

// ToolChoiceMode is the normalized tool_choice policy.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolDef is a normalized function tool declaration.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Tooling bundles the declared tools and the active tool-choice policy.
type Tooling struct {
	Tools                  []ToolDef
	ToolChoiceMode         ToolChoiceMode
	ToolChoiceFunctionName string
	ParallelToolCalls      bool
}

// LocationHint carries the caller's locale hints forwarded to Substrate.
type LocationHint struct {
	TimeZone        string
	CountryOrRegion string
}

// AdditionalContextEntry is one prior turn or synthetic hint rendered as
// text, preserved in order.
type AdditionalContextEntry struct {
	Text        string
	Description string
}

// ResponseFormat mirrors OpenAI's response_format / text.format shapes.
type ResponseFormat struct {
	Type   string // "json_object" | "json_schema"
	Schema map[string]interface{}
}

// CanonicalRequest is the product of parsing any OpenAI-compatible request
// shape (spec.md §3).
type CanonicalRequest struct {
	Model                string
	Stream               bool
	PromptText           string
	AdditionalContext    []AdditionalContextEntry
	LocationHint         LocationHint
	ContextualResources  interface{}
	Tooling              Tooling
	ResponseFormat       *ResponseFormat
	ReasoningEffort      string
	Temperature          *float64
	UserKey              string

	// Raw is the original decoded request body, retained for transport
	// clients that need fields the canonical record doesn't carry.
	Raw map[string]interface{}
}

// ResponsesRequest wraps CanonicalRequest with Responses-API-only fields.
type ResponsesRequest struct {
	*CanonicalRequest
	PreviousResponseID string
	Instructions       string
	RawInput           interface{}
}
