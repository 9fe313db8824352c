package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/rs/zerolog"
)

type fakeHTTPClient struct {
	lastRequest *http.Request
	response    *http.Response
	err         error
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func jsonResponse(status int, body map[string]interface{}) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(b)),
		Header:     make(http.Header),
	}
}

func testGraphConfig() config.GraphConfig {
	return config.GraphConfig{
		BaseURL:                   "https://graph.example.com",
		CreateConversationPath:    "/copilot/conversations",
		ChatPathTemplate:          "/copilot/conversations/{conversationId}/chat",
		ChatOverStreamPathTemplate: "/copilot/conversations/{conversationId}/chat/stream",
	}
}

func TestCreateConversationSuccess(t *testing.T) {
	fake := &fakeHTTPClient{response: jsonResponse(200, map[string]interface{}{"id": "conv_123"})}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	id, err := c.CreateConversation(context.Background(), "token-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "conv_123" {
		t.Fatalf("expected conv_123, got %q", id)
	}
	if got := fake.lastRequest.Header.Get("Authorization"); got != "Bearer token-abc" {
		t.Fatalf("expected normalized Bearer header, got %q", got)
	}
	if fake.lastRequest.URL.String() != "https://graph.example.com/copilot/conversations" {
		t.Fatalf("unexpected url: %s", fake.lastRequest.URL.String())
	}
}

func TestCreateConversationAlreadyBearerPrefixed(t *testing.T) {
	fake := &fakeHTTPClient{response: jsonResponse(200, map[string]interface{}{"id": "conv_1"})}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	if _, err := c.CreateConversation(context.Background(), "Bearer already-prefixed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.lastRequest.Header.Get("Authorization"); got != "Bearer already-prefixed" {
		t.Fatalf("expected no double Bearer prefix, got %q", got)
	}
}

func TestCreateConversationMissingID(t *testing.T) {
	fake := &fakeHTTPClient{response: jsonResponse(200, map[string]interface{}{})}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	if _, err := c.CreateConversation(context.Background(), "token"); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestCreateConversationUpstreamErrorClamped(t *testing.T) {
	fake := &fakeHTTPClient{response: jsonResponse(600, map[string]interface{}{"error": map[string]interface{}{"message": "boom"}})}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	_, err := c.CreateConversation(context.Background(), "token")
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.HTTPStatus != 502 {
		t.Fatalf("expected clamped status 502, got %d", apiErr.HTTPStatus)
	}
	if apiErr.Message != "boom" {
		t.Fatalf("expected extracted message 'boom', got %q", apiErr.Message)
	}
}

func TestChatSubstitutesConversationIDAndEscapes(t *testing.T) {
	fake := &fakeHTTPClient{response: jsonResponse(200, map[string]interface{}{"reply": "hi"})}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	resp, err := c.Chat(context.Background(), "token", "conv/with space", map[string]interface{}{"text": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["reply"] != "hi" {
		t.Fatalf("expected decoded response body, got %v", resp)
	}
	wantPath := "/copilot/conversations/conv%2Fwith%20space/chat"
	if fake.lastRequest.URL.Path != "" && fake.lastRequest.URL.EscapedPath() != wantPath {
		t.Fatalf("expected escaped path %q, got %q", wantPath, fake.lastRequest.URL.EscapedPath())
	}
}

func TestChatOverStreamSetsSSEAccept(t *testing.T) {
	fake := &fakeHTTPClient{response: &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	resp, err := c.ChatOverStream(context.Background(), "token", "conv_1", map[string]interface{}{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if got := fake.lastRequest.Header.Get("Accept"); got != "text/event-stream" {
		t.Fatalf("expected text/event-stream accept header, got %q", got)
	}
}

func TestChatOverStreamErrorReadsBody(t *testing.T) {
	fake := &fakeHTTPClient{response: jsonResponse(401, map[string]interface{}{"message": "unauthorized"})}
	c := NewWithHTTPClient(testGraphConfig(), zerolog.Nop(), fake)

	_, err := c.ChatOverStream(context.Background(), "token", "conv_1", map[string]interface{}{})
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr := err.(*apierr.Error)
	if apiErr.HTTPStatus != 401 {
		t.Fatalf("expected passthrough 401, got %d", apiErr.HTTPStatus)
	}
}
