// Package orchestrator implements the per-request pipeline of spec.md
// §4.8: resolve authorization, parse and canonicalize, resolve transport,
// resolve or create a conversation, execute the chat turn under the
// substrate-empty-assistant and strict-tool retry policies, and emit the
// OpenAI-shaped response. Grounded on the teacher's server.go
// (chatCompletionsHandler/responsesHandler request lifecycle,
// setupRoutes/loggingMiddleware structure), generalized from a single
// fixed upstream to the dual Graph/Substrate dispatch.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/m365proxy/m365proxy/internal/convstore"
	"github.com/m365proxy/m365proxy/internal/responsestore"
	"github.com/m365proxy/m365proxy/internal/substrate"
	"github.com/rs/zerolog"
)

// graphTransport is the subset of *graph.Client the orchestrator depends
// on, kept as a local interface so tests can substitute a fake.
type graphTransport interface {
	CreateConversation(ctx context.Context, auth string) (string, error)
	Chat(ctx context.Context, auth, convID string, payload map[string]interface{}) (map[string]interface{}, error)
	ChatOverStream(ctx context.Context, auth, convID string, payload map[string]interface{}) (*http.Response, error)
}

// substrateTransport is the subset of *substrate.Client the orchestrator
// depends on.
type substrateTransport interface {
	RunTurn(ctx context.Context, auth string, invocation substrate.InvocationRequest) (*substrate.TurnResult, error)
	StreamTurn(ctx context.Context, auth string, invocation substrate.InvocationRequest, onUpdate func(deltaText, conversationID string)) (*substrate.TurnResult, error)
}

// authResolver is the subset of *tokenprovider.Provider the orchestrator
// depends on.
type authResolver interface {
	ResolveAuthorizationHeader(ctx context.Context, inbound string) string
}

// Orchestrator wires the request/transport/store/emitter packages into the
// HTTP-facing pipeline.
type Orchestrator struct {
	cfg       *config.Config
	logger    zerolog.Logger
	tokens    authResolver
	convs     *convstore.Store
	responses *responsestore.Store
	graph     graphTransport
	substrate substrateTransport
}

// New builds an Orchestrator.
func New(cfg *config.Config, logger zerolog.Logger, tokens authResolver, convs *convstore.Store, responses *responsestore.Store, graphClient graphTransport, substrateClient substrateTransport) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		tokens:    tokens,
		convs:     convs,
		responses: responses,
		graph:     graphClient,
		substrate: substrateClient,
	}
}

// RegisterRoutes mounts the models, chat-completions and responses handlers
// on both the `/v1/...` and `/openai/v1/...` prefixes (spec.md §6),
// matching the teacher's setupRoutes pattern generalized to two prefixes
// per route. `/healthz` and `/admin/credentials/status` are mounted once,
// without a prefix.
func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", o.healthzHandler)
	mux.HandleFunc("/admin/credentials/status", o.adminMiddleware(o.adminCredentialsStatusHandler))

	for _, prefix := range []string{"/v1", "/openai/v1"} {
		mux.HandleFunc(prefix+"/models", o.modelsHandler)
		mux.HandleFunc(prefix+"/chat/completions", o.chatCompletionsHandler)
		mux.HandleFunc(prefix+"/responses", o.responsesRootHandler)
		mux.HandleFunc(prefix+"/responses/", o.responsesItemHandler)
	}
}

// LoggingMiddleware wraps next with the teacher's request/duration log
// pair, generalized to a standalone wrapper so cmd/m365proxy can compose
// it around the full mux.
func (o *Orchestrator) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		o.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Msg("incoming request")
		next.ServeHTTP(w, r)
		o.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("finished request")
	})
}

func (o *Orchestrator) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (o *Orchestrator) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data": []interface{}{
			map[string]interface{}{
				"id":       o.cfg.DefaultModel,
				"object":   "model",
				"created":  0,
				"owned_by": "m365proxy",
			},
		},
	})
}
