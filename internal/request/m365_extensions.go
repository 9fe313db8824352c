package request

import (
	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/m365proxy/m365proxy/internal/jsonval"
)

// applyM365Extensions folds the m365_-prefixed request body extensions
// (spec.md §6) that affect the canonical content shape: location hints,
// contextual resources, additional context, and a synthetic system prompt.
// Transport/conversation-routing extensions (m365_transport,
// m365_conversation_id, m365_conversation_key, m365_new_conversation) are
// consumed directly by the orchestrator (C8), not here.
func applyM365Extensions(cr *CanonicalRequest, raw map[string]interface{}, cfg *config.Config) {
	if hint, ok := jsonval.TryGetObject(raw, "m365_location_hint"); ok {
		if tz, ok := jsonval.TryGetString(hint, "timeZone"); ok && tz != "" {
			cr.LocationHint.TimeZone = tz
		}
		if c, ok := jsonval.TryGetString(hint, "countryOrRegion"); ok && c != "" {
			cr.LocationHint.CountryOrRegion = c
		}
	}
	if tz := jsonval.GetString(raw, "m365_time_zone", ""); tz != "" {
		cr.LocationHint.TimeZone = tz
	}
	if region := jsonval.GetString(raw, "m365_country_or_region", ""); region != "" {
		cr.LocationHint.CountryOrRegion = region
	}

	if resources, ok := raw["m365_contextual_resources"]; ok {
		cr.ContextualResources = resources
	}

	if systemPrompt := jsonval.GetString(raw, "m365_system_prompt", ""); systemPrompt != "" {
		entry := AdditionalContextEntry{Text: "system: " + systemPrompt}
		cr.AdditionalContext = append([]AdditionalContextEntry{entry}, cr.AdditionalContext...)
	}

	if extra, ok := jsonval.TryGetArray(raw, "m365_additional_context"); ok {
		for _, e := range extra {
			switch v := e.(type) {
			case string:
				cr.AdditionalContext = append(cr.AdditionalContext, AdditionalContextEntry{Text: v})
			case map[string]interface{}:
				cr.AdditionalContext = append(cr.AdditionalContext, AdditionalContextEntry{
					Text:        jsonval.GetString(v, "text", ""),
					Description: jsonval.GetString(v, "description", ""),
				})
			}
		}
	}
}
