package orchestrator

import (
	"github.com/m365proxy/m365proxy/internal/request"
	"github.com/m365proxy/m365proxy/internal/substrate"
)

// buildGraphPayload maps a canonical request onto the Graph chat wire body
// (spec.md §6's BaseURL/path templates carry the endpoint; this is the
// JSON the teacher's makeChatGPTRequest used to marshal for its own fixed
// backend, generalized to M365 Graph's message/context shape).
func buildGraphPayload(req *request.CanonicalRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"message": map[string]interface{}{"text": req.PromptText},
	}
	if len(req.AdditionalContext) > 0 {
		ctxLines := make([]interface{}, 0, len(req.AdditionalContext))
		for _, e := range req.AdditionalContext {
			ctxLines = append(ctxLines, e.Text)
		}
		payload["additionalContext"] = ctxLines
	}
	if req.LocationHint.TimeZone != "" || req.LocationHint.CountryOrRegion != "" {
		payload["locationHint"] = map[string]interface{}{
			"timeZone":        req.LocationHint.TimeZone,
			"countryOrRegion": req.LocationHint.CountryOrRegion,
		}
	}
	if req.ContextualResources != nil {
		payload["contextualResources"] = req.ContextualResources
	}
	return payload
}

// buildSubstrateInvocation maps a canonical request onto one Substrate
// InvocationRequest.
func buildSubstrateInvocation(req *request.CanonicalRequest, conversationID string, isStart bool, defaultTimeZone string) substrate.InvocationRequest {
	ctxLines := make([]string, 0, len(req.AdditionalContext))
	for _, e := range req.AdditionalContext {
		ctxLines = append(ctxLines, e.Text)
	}
	tz := req.LocationHint.TimeZone
	if tz == "" {
		tz = defaultTimeZone
	}
	return substrate.InvocationRequest{
		Prompt:              req.PromptText,
		AdditionalContext:   ctxLines,
		ConversationID:      conversationID,
		IsStartOfSession:    isStart,
		ContextualResources: req.ContextualResources,
		TimeZone:            tz,
	}
}
