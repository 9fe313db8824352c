package orchestrator

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/jsonval"
)

const (
	transportGraph     = "graph"
	transportSubstrate = "substrate"
)

// resolveTransport applies spec.md §4.8 step 3's priority: the
// `x-m365-transport` header, then the body's `m365_transport`, then the
// configured default; an unrecognized value is a 400.
func resolveTransport(r *http.Request, raw map[string]interface{}, defaultTransport string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(r.Header.Get("x-m365-transport")))
	if value == "" {
		value = strings.ToLower(jsonval.GetString(raw, "m365_transport", ""))
	}
	if value == "" {
		value = strings.ToLower(defaultTransport)
	}
	if value != transportGraph && value != transportSubstrate {
		return "", apierr.New(apierr.InvalidTransport, "unsupported transport: "+value)
	}
	return value, nil
}

// conversationKey resolves the scoping key used to look up a cached
// conversation id, preferring the explicit key extension, then the
// OpenAI `user` field, then a fixed fallback.
func conversationKey(r *http.Request, raw map[string]interface{}, userKey string) string {
	key := strings.TrimSpace(r.Header.Get("x-m365-conversation-key"))
	if key == "" {
		key = jsonval.GetString(raw, "m365_conversation_key", "")
	}
	if key == "" {
		key = userKey
	}
	if key == "" {
		key = "default"
	}
	return key
}

func explicitConversationID(r *http.Request, raw map[string]interface{}) string {
	id := strings.TrimSpace(r.Header.Get("x-m365-conversation-id"))
	if id == "" {
		id = jsonval.GetString(raw, "m365_conversation_id", "")
	}
	return id
}

func wantsNewConversation(r *http.Request, raw map[string]interface{}) bool {
	if v := r.Header.Get("x-m365-new-conversation"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return jsonval.IsTruthy(raw["m365_new_conversation"])
}

// conversationResolution is the outcome of resolving a conversation id for
// one request (spec.md §4.8 step 4). For Substrate, a fresh conversation is
// only actually minted by the first invoke frame, so NeedsCreate is left
// true with an empty ID and the turn executor is responsible for passing
// IsStartOfSession and caching the id the transport returns.
type conversationResolution struct {
	ID          string
	NeedsCreate bool
	Created     bool
}

// resolveConversation implements spec.md §4.8 step 4: explicit header/body
// wins outright; otherwise for a Responses continuation the
// previous-response link is consulted; otherwise the scoped cache;
// otherwise the transport must mint a new one.
func (o *Orchestrator) resolveConversation(ctx context.Context, r *http.Request, raw map[string]interface{}, transport, key, auth, previousResponseID string) (conversationResolution, error) {
	if explicit := explicitConversationID(r, raw); explicit != "" {
		return conversationResolution{ID: explicit}, nil
	}

	if previousResponseID != "" {
		id, ok := o.responses.TryGetConversationLink(previousResponseID)
		if !ok {
			return conversationResolution{}, apierr.New(apierr.InvalidPreviousResponseID, "unknown previous_response_id: "+previousResponseID)
		}
		return conversationResolution{ID: id}, nil
	}

	if !wantsNewConversation(r, raw) {
		if id, ok := o.convs.TryGet(transport + ":" + key); ok {
			return conversationResolution{ID: id}, nil
		}
	}

	if transport == transportGraph {
		id, err := o.graph.CreateConversation(ctx, auth)
		if err != nil {
			return conversationResolution{}, err
		}
		o.cacheConversation(transport, key, id)
		return conversationResolution{ID: id, Created: true}, nil
	}

	return conversationResolution{NeedsCreate: true}, nil
}

func (o *Orchestrator) cacheConversation(transport, key, id string) {
	ttl := time.Duration(o.cfg.ConversationTTLMinutes) * time.Minute
	o.convs.Set(transport+":"+key, id, ttl)
}
