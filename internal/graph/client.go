// Package graph implements the REST/SSE upstream transport ("Graph") —
// conversation creation, buffered chat, and server-sent chat streaming
// (spec.md §4.4). Grounded directly on the teacher's
// makeChatGPTRequest/makeChatGPTRequestWithRetry/writeResponse header
// plumbing, generalized from a single fixed backend to the
// config-templated M365 Graph endpoints. Each request is sent once; the
// client does not retry.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/rs/zerolog"
)

// HTTPClient is the interface proxied requests are sent through, kept
// verbatim from the teacher's internal/server/client.go so tests can
// substitute a fake transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient builds the default 60-second-timeout client used outside
// of tests.
func NewHTTPClient() HTTPClient {
	return &http.Client{Timeout: 60 * time.Second}
}

// Client drives the Graph REST/SSE transport.
type Client struct {
	httpClient HTTPClient
	cfg        config.GraphConfig
	logger     zerolog.Logger
}

// New builds a Client with the default HTTP client.
func New(cfg config.GraphConfig, logger zerolog.Logger) *Client {
	return &Client{httpClient: NewHTTPClient(), cfg: cfg, logger: logger}
}

// NewWithHTTPClient builds a Client around an injected HTTPClient, used by
// tests to substitute a fake transport.
func NewWithHTTPClient(cfg config.GraphConfig, logger zerolog.Logger, hc HTTPClient) *Client {
	return &Client{httpClient: hc, cfg: cfg, logger: logger}
}

// CreateConversation posts to createConversationPath with an empty body,
// returning the upstream-assigned conversation id.
func (c *Client) CreateConversation(ctx context.Context, auth string) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.CreateConversationPath, auth, []byte("{}"), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read create-conversation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", upstreamError(resp.StatusCode, body)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", apierr.New(apierr.GraphError, "create-conversation response was not valid JSON")
	}
	id, _ := decoded["id"].(string)
	if id == "" {
		return "", apierr.New(apierr.GraphError, "create-conversation response did not contain an id")
	}
	return id, nil
}

// Chat posts payload to the per-conversation chat endpoint and returns the
// decoded JSON body.
func (c *Client) Chat(ctx context.Context, auth, convID string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	target := c.cfg.BaseURL + substituteConversationID(c.cfg.ChatPathTemplate, convID)
	resp, err := c.doRequest(ctx, http.MethodPost, target, auth, body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, apierr.New(apierr.GraphError, "chat response was not valid JSON")
	}
	return decoded, nil
}

// ChatOverStream posts payload to the streaming chat endpoint with
// Accept: text/event-stream and returns the raw upstream response for the
// caller to pump through the SSE pipeline; the caller owns closing the body.
func (c *Client) ChatOverStream(ctx context.Context, auth, convID string, payload map[string]interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat-stream payload: %w", err)
	}

	target := c.cfg.BaseURL + substituteConversationID(c.cfg.ChatOverStreamPathTemplate, convID)
	resp, err := c.doRequest(ctx, http.MethodPost, target, auth, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(resp.StatusCode, respBody)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, target, auth string, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}

	req.Header.Set("Authorization", normalizeBearer(auth))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send graph request: %w", err)
	}
	return resp, nil
}

// substituteConversationID percent-encodes conversationId before injecting
// it into a path template, generalizing the teacher's URL-handling pattern
// to net/url path-segment escaping.
func substituteConversationID(template, conversationID string) string {
	return strings.ReplaceAll(template, "{conversationId}", url.PathEscape(conversationID))
}

func normalizeBearer(auth string) string {
	trimmed := strings.TrimSpace(auth)
	if len(trimmed) >= 7 && strings.EqualFold(trimmed[:7], "Bearer ") {
		return "Bearer " + strings.TrimSpace(trimmed[7:])
	}
	return "Bearer " + trimmed
}

// upstreamError clamps the upstream status into 4xx-5xx (else 502) and
// extracts a best-effort message from the body, per spec.md §7.
func upstreamError(status int, body []byte) *apierr.Error {
	message := extractUpstreamMessage(body)
	clamped := status
	if clamped < 400 || clamped > 599 {
		clamped = http.StatusBadGateway
	}
	return apierr.New(apierr.GraphError, message).WithStatus(clamped)
}

func extractUpstreamMessage(body []byte) string {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if errObj, ok := decoded["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := decoded["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if len(body) == 0 {
		return "graph upstream returned an error with no body"
	}
	preview := string(body)
	if len(preview) > 500 {
		preview = preview[:500] + "…(truncated)"
	}
	return preview
}
