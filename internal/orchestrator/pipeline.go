package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/assistant"
	"github.com/m365proxy/m365proxy/internal/request"
)

func decodeJSONBody(r *http.Request) (map[string]interface{}, error) {
	defer r.Body.Close()
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, apierr.New(apierr.InvalidJSON, "request body is not valid JSON")
	}
	return raw, nil
}

// bufferingRequired implements spec.md §4.8 step 5: any request declaring
// tools under a non-none tool_choice, or a response_format, must buffer the
// full text before emitting so tool-call extraction sees the whole turn.
func bufferingRequired(cr *request.CanonicalRequest) bool {
	toolsActive := len(cr.Tooling.Tools) > 0 && cr.Tooling.ToolChoiceMode != request.ToolChoiceNone
	return toolsActive || cr.ResponseFormat != nil
}

func setConversationHeaders(w http.ResponseWriter, transport, conversationID string, created bool) {
	w.Header().Set("x-m365-transport", transport)
	w.Header().Set("x-m365-conversation-id", conversationID)
	if created {
		w.Header().Set("x-m365-conversation-created", "true")
	}
}

// executeBufferedWithRetries runs one full-text turn and applies the
// strict-tool retry (spec.md §4.8 step 6 / §7): a Substrate turn whose
// assistant text fails strict tool-choice enforcement is retried once on
// the same conversation before strict enforcement is re-applied.
func (o *Orchestrator) executeBufferedWithRetries(ctx context.Context, auth, transport, key string, conv conversationResolution, cr *request.CanonicalRequest) (*assistant.AssistantResponse, *turnOutcome, error) {
	outcome, err := o.runBufferedTurn(ctx, auth, transport, key, conv, cr)
	if err != nil {
		return nil, nil, toUpstreamAPIError(transport, err)
	}

	resp := assistant.Build(cr, outcome.Text)
	if resp.StrictToolErrorMessage != nil && transport == transportSubstrate {
		retryConv := conversationResolution{ID: outcome.ConversationID}
		retryOutcome, retryErr := o.runBufferedTurn(ctx, auth, transport, key, retryConv, cr)
		if retryErr == nil {
			retryResp := assistant.Build(cr, retryOutcome.Text)
			resp = retryResp
			outcome = retryOutcome
		}
	}

	if resp.StrictToolErrorMessage != nil {
		return resp, outcome, apierr.New(apierr.InvalidToolOutput, *resp.StrictToolErrorMessage)
	}
	return resp, outcome, nil
}

// toUpstreamAPIError wraps a raw transport error that isn't already an
// *apierr.Error into the transport-appropriate error code (spec.md §7).
func toUpstreamAPIError(transport string, err error) error {
	if _, ok := err.(*apierr.Error); ok {
		return err
	}
	code := apierr.GraphError
	if transport == transportSubstrate {
		code = apierr.SubstrateError
	}
	return apierr.New(code, err.Error()).WithStatus(http.StatusBadGateway)
}
