package substrate

import (
	"net/url"
	"strings"
	"testing"

	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/rs/zerolog"
)

func testSubstrateConfig() config.SubstrateConfig {
	cfg := config.Load().Substrate
	cfg.HubPath = "wss://substrate.example.com/m365Copilot/chathub"
	return cfg
}

func TestPromptWithContextNoContext(t *testing.T) {
	if got := promptWithContext("hello", nil); got != "User: hello" {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestPromptWithContextWithLines(t *testing.T) {
	got := promptWithContext("hello", []string{"line1", "line2"})
	want := "Context:\nline1\nline2\nUser: hello"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSplitRSFramesDropsEmptySegments(t *testing.T) {
	payload := []byte("{\"a\":1}\x1e\x1e{\"b\":2}\x1e")
	frames := splitRSFrames(payload)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
	if string(frames[0]) != `{"a":1}` || string(frames[1]) != `{"b":2}` {
		t.Fatalf("unexpected frame contents: %v", frames)
	}
}

func TestInvocationTypeValueNumeric(t *testing.T) {
	v := invocationTypeValue("1")
	if n, ok := v.(int); !ok || n != 1 {
		t.Fatalf("expected int 1, got %v (%T)", v, v)
	}
}

func TestInvocationTypeValueNonNumeric(t *testing.T) {
	v := invocationTypeValue("custom")
	if s, ok := v.(string); !ok || s != "custom" {
		t.Fatalf("expected string passthrough, got %v (%T)", v, v)
	}
}

func TestStringSliceOrEmptyNilBecomesEmptySlice(t *testing.T) {
	got := stringSliceOrEmpty(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty slice, got %v", got)
	}
}

func TestBuildHubURLIncludesClaimsAndQueryParams(t *testing.T) {
	cfg := testSubstrateConfig()
	cfg.Source = "m365proxy"
	cfg.Scenario = "copilot"
	c := New(cfg, zerolog.Nop())

	token := fakeJWT(t, map[string]interface{}{"oid": "user one", "tid": "tenant-1"})
	hubURL, err := c.buildHubURL("Bearer "+token, "conv_123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := url.Parse(hubURL)
	if err != nil {
		t.Fatalf("returned URL did not parse: %v", err)
	}
	if !strings.Contains(parsed.EscapedPath(), "user%20one@tenant-1") {
		t.Fatalf("expected escaped oid@tid in path, got %q", parsed.EscapedPath())
	}
	q := parsed.Query()
	if q.Get("ConversationId") != "conv_123" {
		t.Fatalf("expected ConversationId query param, got %q", q.Get("ConversationId"))
	}
	if q.Get("source") != "m365proxy" {
		t.Fatalf("expected unquoted source, got %q", q.Get("source"))
	}
	if q.Get("access_token") != token {
		t.Fatalf("expected raw token as access_token")
	}
}

func TestBuildHubURLQuotesSourceWhenConfigured(t *testing.T) {
	cfg := testSubstrateConfig()
	cfg.Source = "m365proxy"
	cfg.QuoteSourceInQuery = true
	c := New(cfg, zerolog.Nop())

	token := fakeJWT(t, map[string]interface{}{"oid": "o", "tid": "t"})
	hubURL, err := c.buildHubURL(token, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, _ := url.Parse(hubURL)
	if parsed.Query().Get("source") != `"m365proxy"` {
		t.Fatalf("expected quoted source, got %q", parsed.Query().Get("source"))
	}
}

func TestBuildHubURLRejectsNonJWT(t *testing.T) {
	cfg := testSubstrateConfig()
	c := New(cfg, zerolog.Nop())
	if _, err := c.buildHubURL("not-a-jwt", ""); err == nil {
		t.Fatalf("expected error for non-JWT bearer token")
	}
}

func TestBuildInvokeFrameShape(t *testing.T) {
	cfg := testSubstrateConfig()
	cfg.OptionsSets = []string{"opt1"}
	cfg.AllowedMessageTypes = []string{"Chat"}
	c := New(cfg, zerolog.Nop())

	frame, err := c.buildInvokeFrame(InvocationRequest{
		Prompt:           "hello",
		ConversationID:   "conv_1",
		IsStartOfSession: true,
		TimeZone:         "UTC",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame["invocationId"] != "0" {
		t.Fatalf("expected invocationId '0', got %v", frame["invocationId"])
	}
	args, ok := frame["arguments"].([]interface{})
	if !ok || len(args) != 1 {
		t.Fatalf("expected single-element arguments array, got %v", frame["arguments"])
	}
	arg := args[0].(map[string]interface{})
	if arg["conversationId"] != "conv_1" {
		t.Fatalf("expected conversationId conv_1, got %v", arg["conversationId"])
	}
	message := arg["message"].(map[string]interface{})
	if message["text"] != "User: hello" {
		t.Fatalf("unexpected message text: %v", message["text"])
	}
}
