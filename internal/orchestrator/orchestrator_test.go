package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/m365proxy/m365proxy/internal/convstore"
	"github.com/m365proxy/m365proxy/internal/request"
	"github.com/m365proxy/m365proxy/internal/responsestore"
	"github.com/m365proxy/m365proxy/internal/substrate"
	"github.com/rs/zerolog"
)

func TestResolveTransportPriority(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("x-m365-transport", "Substrate")

	transport, err := resolveTransport(req, map[string]interface{}{"m365_transport": "graph"}, "graph")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transport != transportSubstrate {
		t.Fatalf("expected header to win, got %q", transport)
	}
}

func TestResolveTransportFallsBackToBodyThenDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	transport, err := resolveTransport(req, map[string]interface{}{"m365_transport": "substrate"}, "graph")
	if err != nil || transport != transportSubstrate {
		t.Fatalf("expected body value, got %q err=%v", transport, err)
	}

	transport, err = resolveTransport(req, map[string]interface{}{}, "graph")
	if err != nil || transport != transportGraph {
		t.Fatalf("expected default, got %q err=%v", transport, err)
	}
}

func TestResolveTransportRejectsUnknownValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("x-m365-transport", "carrier-pigeon")

	if _, err := resolveTransport(req, map[string]interface{}{}, "graph"); err == nil {
		t.Fatal("expected an error for an unrecognized transport")
	}
}

func TestBufferingRequired(t *testing.T) {
	cases := []struct {
		name string
		cr   *request.CanonicalRequest
		want bool
	}{
		{"plain text", &request.CanonicalRequest{}, false},
		{"tools with auto choice", &request.CanonicalRequest{
			Tooling: request.Tooling{Tools: []request.ToolDef{{Name: "f"}}, ToolChoiceMode: request.ToolChoiceAuto},
		}, true},
		{"tools with none choice", &request.CanonicalRequest{
			Tooling: request.Tooling{Tools: []request.ToolDef{{Name: "f"}}, ToolChoiceMode: request.ToolChoiceNone},
		}, false},
		{"response format", &request.CanonicalRequest{
			ResponseFormat: &request.ResponseFormat{Type: "json_object"},
		}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := bufferingRequired(c.cr); got != c.want {
				t.Fatalf("bufferingRequired() = %v, want %v", got, c.want)
			}
		})
	}
}

func newTestOrchestrator(t *testing.T, graphClient graphTransport, substrateClient substrateTransport) *Orchestrator {
	t.Helper()
	cfg := config.Load()
	cfg.ConversationTTLMinutes = 60
	responses := responsestore.New(time.Hour)
	t.Cleanup(responses.Close)
	return New(cfg, zerolog.Nop(), fakeAuth{}, convstore.New(), responses, graphClient, substrateClient)
}

type fakeAuth struct{}

func (fakeAuth) ResolveAuthorizationHeader(ctx context.Context, inbound string) string {
	return "Bearer test-token"
}

type fakeGraph struct {
	createID string
	createErr error
	chatResp map[string]interface{}
	chatErr  error
}

func (f *fakeGraph) CreateConversation(ctx context.Context, auth string) (string, error) {
	return f.createID, f.createErr
}

func (f *fakeGraph) Chat(ctx context.Context, auth, convID string, payload map[string]interface{}) (map[string]interface{}, error) {
	return f.chatResp, f.chatErr
}

func (f *fakeGraph) ChatOverStream(ctx context.Context, auth, convID string, payload map[string]interface{}) (*http.Response, error) {
	return nil, nil
}

type fakeSubstrate struct {
	runResult *substrate.TurnResult
	runErr    error
	calls     int
}

func (f *fakeSubstrate) RunTurn(ctx context.Context, auth string, invocation substrate.InvocationRequest) (*substrate.TurnResult, error) {
	f.calls++
	if f.calls == 1 && f.runErr != nil {
		return nil, f.runErr
	}
	return f.runResult, nil
}

func (f *fakeSubstrate) StreamTurn(ctx context.Context, auth string, invocation substrate.InvocationRequest, onUpdate func(deltaText, conversationID string)) (*substrate.TurnResult, error) {
	return f.runResult, nil
}

func TestResolveConversationPrefersExplicitID(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGraph{}, &fakeSubstrate{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("x-m365-conversation-id", "conv-explicit")

	conv, err := o.resolveConversation(context.Background(), req, map[string]interface{}{}, transportGraph, "key", "auth", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != "conv-explicit" || conv.NeedsCreate || conv.Created {
		t.Fatalf("unexpected resolution: %+v", conv)
	}
}

func TestResolveConversationUsesPreviousResponseLink(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGraph{}, &fakeSubstrate{})
	o.responses.SetConversationLink("resp_abc", "conv-linked", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", nil)
	conv, err := o.resolveConversation(context.Background(), req, map[string]interface{}{}, transportGraph, "key", "auth", "resp_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != "conv-linked" {
		t.Fatalf("expected linked conversation id, got %+v", conv)
	}
}

func TestResolveConversationRejectsUnknownPreviousResponseID(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGraph{}, &fakeSubstrate{})
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", nil)

	if _, err := o.resolveConversation(context.Background(), req, map[string]interface{}{}, transportGraph, "key", "auth", "resp_missing"); err == nil {
		t.Fatal("expected an error for an unlinked previous_response_id")
	}
}

func TestResolveConversationUsesCacheThenCreates(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGraph{createID: "conv-new"}, &fakeSubstrate{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	conv, err := o.resolveConversation(context.Background(), req, map[string]interface{}{}, transportGraph, "key", "auth", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != "conv-new" || !conv.Created {
		t.Fatalf("expected a freshly created conversation, got %+v", conv)
	}

	// Second call with the same key should now hit the cache instead of
	// creating another conversation.
	graph2 := &fakeGraph{createID: "conv-should-not-be-used"}
	o.graph = graph2
	conv2, err := o.resolveConversation(context.Background(), req, map[string]interface{}{}, transportGraph, "key", "auth", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv2.ID != "conv-new" || conv2.Created {
		t.Fatalf("expected cached conversation id, got %+v", conv2)
	}
}

func TestResolveConversationSubstrateNeedsCreate(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGraph{}, &fakeSubstrate{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	conv, err := o.resolveConversation(context.Background(), req, map[string]interface{}{}, transportSubstrate, "key", "auth", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !conv.NeedsCreate || conv.ID != "" {
		t.Fatalf("expected a deferred Substrate conversation, got %+v", conv)
	}
}

func TestRunBufferedTurnRetriesOnEmptySubstrateAssistantContent(t *testing.T) {
	fs := &fakeSubstrate{
		runErr:    errEmptyAssistant{},
		runResult: &substrate.TurnResult{AssistantText: "hello after retry", ConversationID: "conv-retry"},
	}
	o := newTestOrchestrator(t, &fakeGraph{}, fs)

	cr := &request.CanonicalRequest{Model: "m365-copilot", PromptText: "hi"}
	outcome, err := o.runBufferedTurn(context.Background(), "auth", transportSubstrate, "key", conversationResolution{NeedsCreate: true}, cr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Text != "hello after retry" || outcome.ConversationID != "conv-retry" || !outcome.CreatedConversation {
		t.Fatalf("unexpected outcome after retry: %+v", outcome)
	}
	if fs.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls total), got %d", fs.calls)
	}
}

type errEmptyAssistant struct{}

func (errEmptyAssistant) Error() string { return substrateEmptyAssistantMessage }
