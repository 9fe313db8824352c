package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/assistant"
	"github.com/m365proxy/m365proxy/internal/emitter"
	"github.com/m365proxy/m365proxy/internal/request"
)

func (o *Orchestrator) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

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
	cr, err := request.ParseChatRequest(raw, o.cfg)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	transport, err := resolveTransport(r, raw, o.cfg.Transport)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	key := conversationKey(r, raw, cr.UserKey)

	conv, err := o.resolveConversation(ctx, r, raw, transport, key, auth, "")
	if err != nil {
		writeAPIError(w, err)
		return
	}

	// A Substrate turn that still has to mint its own conversation can't
	// report x-m365-conversation-id until the turn finishes, and HTTP
	// headers must precede any streamed body byte — so that turn is always
	// buffered regardless of the request's own streaming/tool intent.
	mustBuffer := bufferingRequired(cr) || (transport == transportSubstrate && conv.NeedsCreate)

	id := emitter.NewChatCompletionID()
	created := time.Now().Unix()

	if mustBuffer {
		resp, outcome, err := o.executeBufferedWithRetries(ctx, auth, transport, key, conv, cr)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		createdConversation := conv.Created || outcome.CreatedConversation
		setConversationHeaders(w, transport, outcome.ConversationID, createdConversation)

		if cr.Stream {
			writeSSEHeaders(w)
			if err := emitter.WriteBufferedChatStream(w, id, cr.Model, created, resp); err != nil {
				o.logger.Error().Err(err).Msg("failed writing buffered chat stream")
			}
			return
		}
		writeJSON(w, http.StatusOK, emitter.BuildChatCompletion(id, cr.Model, created, resp, responseConversationID(o, outcome.ConversationID)))
		return
	}

	if !cr.Stream {
		outcome, err := o.runBufferedTurn(ctx, auth, transport, key, conv, cr)
		if err != nil {
			writeAPIError(w, toUpstreamAPIError(transport, err))
			return
		}
		createdConversation := conv.Created || outcome.CreatedConversation
		setConversationHeaders(w, transport, outcome.ConversationID, createdConversation)
		resp := assistant.Build(cr, outcome.Text)
		writeJSON(w, http.StatusOK, emitter.BuildChatCompletion(id, cr.Model, created, resp, responseConversationID(o, outcome.ConversationID)))
		return
	}

	o.streamLiveChatCompletion(ctx, w, auth, transport, key, conv, cr, id, created)
}

// streamLiveChatCompletion handles the plain-text streaming path: no
// tools/response_format means deltas can be relayed to the client as soon
// as the transport produces them. The conversation id is already known
// here (mustBuffer excludes the only case where it wouldn't be), so
// headers are written up front.
func (o *Orchestrator) streamLiveChatCompletion(ctx context.Context, w http.ResponseWriter, auth, transport, key string, conv conversationResolution, cr *request.CanonicalRequest, id string, created int64) {
	writeSSEHeaders(w)
	setConversationHeaders(w, transport, conv.ID, conv.Created)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := emitter.WriteSSEObject(w, emitter.BuildChatChunk(id, cr.Model, created, map[string]interface{}{"role": "assistant"}, "")); err != nil {
		o.logger.Error().Err(err).Msg("failed writing role chunk")
		return
	}

	var textEmitted strings.Builder
	onDelta := func(delta string) {
		if delta == "" {
			return
		}
		textEmitted.WriteString(delta)
		_ = emitter.WriteSSEObject(w, emitter.BuildChatChunk(id, cr.Model, created, map[string]interface{}{"content": delta}, ""))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	outcome, err := o.runStreamingTurn(ctx, auth, transport, key, conv, cr, onDelta)
	if err != nil {
		writeStreamError(w, toUpstreamAPIError(transport, err))
		return
	}

	if trailing := emitter.TrailingDelta(outcome.Text, textEmitted.String()); trailing != "" {
		onDelta(trailing)
	}

	_ = emitter.WriteSSEObject(w, emitter.BuildChatChunk(id, cr.Model, created, map[string]interface{}{}, "stop"))
	_ = emitter.WriteDone(w)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// responseConversationID only surfaces the conversation id in the response
// body when configured to (spec.md §6's includeConversationIdInResponseBody);
// the header is always set regardless.
func responseConversationID(o *Orchestrator, conversationID string) string {
	if !o.cfg.IncludeConversationIDInResponseBody {
		return ""
	}
	return conversationID
}
