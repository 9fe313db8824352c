package orchestrator

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/assistant"
	"github.com/m365proxy/m365proxy/internal/emitter"
	"github.com/m365proxy/m365proxy/internal/request"
)

// responsesRootHandler dispatches POST (create) and GET (list) on
// `/v1/responses` (spec.md §6).
func (o *Orchestrator) responsesRootHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		o.createResponseHandler(w, r)
	case http.MethodGet:
		o.listResponsesHandler(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// responsesItemHandler dispatches GET (retrieve) and DELETE on
// `/v1/responses/{id}`.
func (o *Orchestrator) responsesItemHandler(w http.ResponseWriter, r *http.Request) {
	id := responseIDFromPath(r.URL.Path)
	if id == "" {
		writeAPIError(w, apierr.New(apierr.MissingResponseID, "response id is required"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		body, ok := o.responses.TryGet(id)
		if !ok {
			writeAPIError(w, apierr.New(apierr.ResponseNotFound, "no stored response with id "+id))
			return
		}
		writeJSON(w, http.StatusOK, body)
	case http.MethodDelete:
		if !o.responses.TryDelete(id) {
			writeAPIError(w, apierr.New(apierr.ResponseNotFound, "no stored response with id "+id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "object": "response.deleted", "deleted": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func responseIDFromPath(path string) string {
	const prefix = "/responses/"
	idx := strings.Index(path, prefix)
	if idx == -1 {
		return ""
	}
	return strings.Trim(path[idx+len(prefix):], "/")
}

func (o *Orchestrator) listResponsesHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	items, hasMore, firstID, lastID := o.responses.List(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object":   "list",
		"data":     items,
		"has_more": hasMore,
		"first_id": firstID,
		"last_id":  lastID,
	})
}

func (o *Orchestrator) createResponseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := o.tokens.ResolveAuthorizationHeader(ctx, r.Header.Get("Authorization"))
	if auth == "" {
		writeAPIError(w, apierr.New(apierr.MissingAuthorization, "no bearer token available"))
		return
	}

	raw, err := decodeJSONBody(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	rr, err := request.ParseResponsesRequest(raw, o.cfg)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	cr := rr.CanonicalRequest

	transport, err := resolveTransport(r, raw, o.cfg.Transport)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	key := conversationKey(r, raw, cr.UserKey)

	conv, err := o.resolveConversation(ctx, r, raw, transport, key, auth, rr.PreviousResponseID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	mustBuffer := bufferingRequired(cr) || (transport == transportSubstrate && conv.NeedsCreate)

	id := emitter.NewResponseID()
	created := time.Now().Unix()

	if mustBuffer {
		resp, outcome, err := o.executeBufferedWithRetries(ctx, auth, transport, key, conv, cr)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		o.finishResponsesTurn(w, cr, resp, outcome, conv, transport, key, id, created)
		return
	}

	if !cr.Stream {
		outcome, err := o.runBufferedTurn(ctx, auth, transport, key, conv, cr)
		if err != nil {
			writeAPIError(w, toUpstreamAPIError(transport, err))
			return
		}
		resp := assistant.Build(cr, outcome.Text)
		o.finishResponsesTurn(w, cr, resp, outcome, conv, transport, key, id, created)
		return
	}

	o.streamLiveResponses(r, w, auth, transport, key, conv, cr, id)
}

// finishResponsesTurn stores the completed response body, links it to its
// conversation for future previous_response_id continuation, sets the
// conversation headers, and writes the JSON or buffered-SSE body.
func (o *Orchestrator) finishResponsesTurn(w http.ResponseWriter, cr *request.CanonicalRequest, resp *assistant.AssistantResponse, outcome *turnOutcome, conv conversationResolution, transport, key, id string, created int64) {
	createdConversation := conv.Created || outcome.CreatedConversation
	setConversationHeaders(w, transport, outcome.ConversationID, createdConversation)

	body := emitter.BuildResponseObject(id, cr.Model, created, resp, responseConversationID(o, outcome.ConversationID))
	o.responses.Set(id, body, outcome.ConversationID)
	o.responses.SetConversationLink(id, outcome.ConversationID, time.Duration(o.cfg.ConversationTTLMinutes)*time.Minute)

	if cr.Stream {
		writeSSEHeaders(w)
		seq := emitter.NewResponsesSequencer(w, id, cr.Model)
		_ = seq.Start(len(resp.ToolCalls) > 0)
		if len(resp.ToolCalls) > 0 {
			_ = seq.FinishFunctionCall(resp.ToolCalls[0])
		} else {
			_ = seq.FinishMessage(resp)
		}
		_ = emitter.WriteDone(w)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// streamLiveResponses handles the plain-text streaming Responses path: no
// tools/response_format, so the conversation id is already known and
// deltas can be relayed live through the event sequencer.
func (o *Orchestrator) streamLiveResponses(r *http.Request, w http.ResponseWriter, auth, transport, key string, conv conversationResolution, cr *request.CanonicalRequest, id string) {
	writeSSEHeaders(w)
	setConversationHeaders(w, transport, conv.ID, conv.Created)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	seq := emitter.NewResponsesSequencer(w, id, cr.Model)
	if err := seq.Start(false); err != nil {
		o.logger.Error().Err(err).Msg("failed starting responses sequence")
		return
	}

	var textEmitted strings.Builder
	onDelta := func(delta string) {
		if delta == "" {
			return
		}
		textEmitted.WriteString(delta)
		_ = seq.Delta(delta)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	outcome, err := o.runStreamingTurn(r.Context(), auth, transport, key, conv, cr, onDelta)
	if err != nil {
		writeStreamError(w, toUpstreamAPIError(transport, err))
		return
	}

	content := outcome.Text
	resp := &assistant.AssistantResponse{Content: &content, FinishReason: "stop"}
	if err := seq.FinishMessage(resp); err != nil {
		o.logger.Error().Err(err).Msg("failed finishing responses sequence")
		return
	}

	created := time.Now().Unix()
	body := emitter.BuildResponseObject(id, cr.Model, created, resp, responseConversationID(o, outcome.ConversationID))
	o.responses.Set(id, body, outcome.ConversationID)
	o.responses.SetConversationLink(id, outcome.ConversationID, time.Duration(o.cfg.ConversationTTLMinutes)*time.Minute)

	_ = emitter.WriteDone(w)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
