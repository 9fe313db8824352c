package orchestrator

import (
	"context"
	"strings"

	"github.com/m365proxy/m365proxy/internal/emitter"
	"github.com/m365proxy/m365proxy/internal/request"
)

// substrateEmptyAssistantMessage is the exact error substring the
// Substrate receive loop returns when a turn closes without any bot
// message or delta text (spec.md §4.8 step 6 / §7).
const substrateEmptyAssistantMessage = "substrate chat returned no assistant content"

// turnOutcome is the result of one (possibly retried) chat turn.
type turnOutcome struct {
	Text                string
	ConversationID      string
	CreatedConversation bool
}

// runBufferedTurn executes a single full-text turn on either transport,
// applying the Substrate empty-assistant retry (spec.md §4.8 step 6) when
// the turn was the one establishing a brand-new conversation.
func (o *Orchestrator) runBufferedTurn(ctx context.Context, auth, transport, key string, conv conversationResolution, req *request.CanonicalRequest) (*turnOutcome, error) {
	if transport == transportGraph {
		payload := buildGraphPayload(req)
		resp, err := o.graph.Chat(ctx, auth, conv.ID, payload)
		if err != nil {
			return nil, err
		}
		return &turnOutcome{Text: emitter.ExtractAssistantText(resp, req.PromptText), ConversationID: conv.ID}, nil
	}

	isStart := conv.NeedsCreate
	invocation := buildSubstrateInvocation(req, conv.ID, isStart, o.cfg.DefaultTimeZone)
	result, err := o.substrate.RunTurn(ctx, auth, invocation)
	if err != nil {
		if isStart && strings.Contains(err.Error(), substrateEmptyAssistantMessage) {
			return o.retryFreshSubstrateTurn(ctx, auth, key, req)
		}
		return nil, err
	}
	if isStart {
		o.cacheConversation(transport, key, result.ConversationID)
	}
	return &turnOutcome{Text: result.AssistantText, ConversationID: result.ConversationID, CreatedConversation: isStart}, nil
}

// runStreamingTurn executes a single turn, invoking onDelta for every
// incremental piece of assistant text observed. Unlike runBufferedTurn it
// applies no Substrate empty-assistant retry.
func (o *Orchestrator) runStreamingTurn(ctx context.Context, auth, transport, key string, conv conversationResolution, req *request.CanonicalRequest, onDelta func(string)) (*turnOutcome, error) {
	if transport == transportGraph {
		payload := buildGraphPayload(req)
		resp, err := o.graph.ChatOverStream(ctx, auth, conv.ID, payload)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		transformer := emitter.NewGraphSnapshotTransformer(req.PromptText)
		if err := emitter.RewriteGraphSSEStream(resp.Body, transformer, onDelta); err != nil {
			return nil, err
		}
		return &turnOutcome{Text: transformer.Emitted(), ConversationID: conv.ID}, nil
	}

	// conv.NeedsCreate is always false here: chat.go/responses.go force
	// buffering for a Substrate turn that still needs to mint a conversation,
	// so runStreamingTurn only ever runs against an already-resolved one and
	// never needs the empty-assistant retry runBufferedTurn applies.
	invocation := buildSubstrateInvocation(req, conv.ID, conv.NeedsCreate, o.cfg.DefaultTimeZone)
	result, err := o.substrate.StreamTurn(ctx, auth, invocation, func(delta, _ string) { onDelta(delta) })
	if err != nil {
		return nil, err
	}
	return &turnOutcome{Text: result.AssistantText, ConversationID: result.ConversationID}, nil
}

// retryFreshSubstrateTurn re-runs a buffered turn on a brand-new Substrate
// conversation after the first attempt on a newly-created one returned no
// assistant content.
func (o *Orchestrator) retryFreshSubstrateTurn(ctx context.Context, auth, key string, req *request.CanonicalRequest) (*turnOutcome, error) {
	invocation := buildSubstrateInvocation(req, "", true, o.cfg.DefaultTimeZone)
	result, err := o.substrate.RunTurn(ctx, auth, invocation)
	if err != nil {
		return nil, err
	}
	o.cacheConversation(transportSubstrate, key, result.ConversationID)
	return &turnOutcome{Text: result.AssistantText, ConversationID: result.ConversationID, CreatedConversation: true}, nil
}
