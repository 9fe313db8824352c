// Package substrate drives the bidirectional WebSocket "hub protocol"
// upstream transport (spec.md §4.5): Connect, Handshake, background Ping,
// Invoke, Receive, Close. Grounded on the teacher's upstream_websocket.go
// (dialer construction, header-set pattern, io.Pipe-style goroutine
// bridging, context-cancellation-closes-conn watcher, close-code
// classification) generalized from a one-shot relay into a full turn state
// machine, using github.com/gorilla/websocket throughout exactly as the
// teacher does.
package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/rs/zerolog"
)

const recordSeparator = 0x1E

// InvocationRequest carries everything a single turn needs to build the
// Invoke frame.
type InvocationRequest struct {
	Prompt              string
	AdditionalContext   []string
	ConversationID      string
	IsStartOfSession    bool
	ContextualResources interface{}
	TimeZone            string
}

// TurnResult is the outcome of a single RunTurn/StreamTurn call.
type TurnResult struct {
	AssistantText  string
	ConversationID string
}

// Client drives the Substrate hub protocol.
type Client struct {
	cfg    config.SubstrateConfig
	logger zerolog.Logger
}

// New builds a Client bound to the given Substrate configuration.
func New(cfg config.SubstrateConfig, logger zerolog.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// RunTurn executes one buffered (non-streaming) turn.
func (c *Client) RunTurn(ctx context.Context, auth string, invocation InvocationRequest) (*TurnResult, error) {
	return c.runTurn(ctx, auth, invocation, nil)
}

// StreamTurn executes one turn, invoking onUpdate for every writeAtCursor
// delta observed, along with the most recently known conversation id.
func (c *Client) StreamTurn(ctx context.Context, auth string, invocation InvocationRequest, onUpdate func(deltaText, conversationID string)) (*TurnResult, error) {
	return c.runTurn(ctx, auth, invocation, onUpdate)
}

func (c *Client) runTurn(ctx context.Context, auth string, invocation InvocationRequest, onUpdate func(string, string)) (*TurnResult, error) {
	timeout := time.Duration(c.cfg.InvocationTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultInvocationTimeoutSeconds) * time.Second
	}

	hubURL, err := c.buildHubURL(auth, invocation.ConversationID)
	if err != nil {
		return nil, err
	}

	// 1. Connect
	dialer := websocket.Dialer{
		HandshakeTimeout:  timeout,
		EnableCompression: true,
	}
	headers := map[string][]string{}
	if c.cfg.Origin != "" {
		headers["Origin"] = []string{c.cfg.Origin}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, hubURL, headers)
	if err != nil {
		return nil, fmt.Errorf("substrate connect failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// 2. Handshake
	if err := writeRSFrame(conn, map[string]interface{}{"protocol": "json", "version": 1}); err != nil {
		return nil, fmt.Errorf("substrate handshake send failed: %w", err)
	}
	firstFrames, err := readRSFrames(conn)
	if err != nil {
		return nil, fmt.Errorf("substrate handshake response failed: %w", err)
	}
	for _, f := range firstFrames {
		if frameHasError(f) {
			return nil, fmt.Errorf("substrate handshake returned an error: %v", f["error"])
		}
	}

	// 3. Ping (background, bound to connection lifetime)
	keepAlive := time.Duration(c.cfg.KeepAliveSeconds) * time.Second
	if keepAlive <= 0 {
		keepAlive = time.Duration(config.DefaultKeepAliveSeconds) * time.Second
	}
	go c.pingLoop(conn, keepAlive, done)

	// 4. Invoke
	invokeFrame, err := c.buildInvokeFrame(invocation)
	if err != nil {
		return nil, err
	}
	if err := writeRSFrame(conn, invokeFrame); err != nil {
		return nil, fmt.Errorf("substrate invoke send failed: %w", err)
	}

	// 5. Receive
	result, err := c.receiveLoop(conn, timeout, invocation.ConversationID, onUpdate)
	if err != nil {
		return nil, err
	}

	// 6. Close
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return result, nil
}

func (c *Client) pingLoop(conn *websocket.Conn, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := writeRSFrame(conn, map[string]interface{}{"type": 6}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) receiveLoop(conn *websocket.Conn, timeout time.Duration, initialConversationID string, onUpdate func(string, string)) (*TurnResult, error) {
	conversationID := initialConversationID
	var deltaBuilder strings.Builder
	var lastBotText string
	botFound := false

	for {
		if timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(timeout))
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				break
			}
			return nil, fmt.Errorf("substrate receive failed: %w", err)
		}

		frames := splitRSFrames(payload)
		for _, raw := range frames {
			var frame map[string]interface{}
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}

			if frameHasError(frame) {
				return nil, fmt.Errorf("substrate frame reported an error: %v", frame["error"])
			}

			if cid := frameConversationID(frame); cid != "" {
				conversationID = cid
			}

			for _, delta := range frameWriteAtCursorDeltas(frame) {
				deltaBuilder.WriteString(delta)
				if onUpdate != nil {
					onUpdate(delta, conversationID)
				}
			}

			if text, ok := frameBotMessageText(frame); ok {
				lastBotText = text
				botFound = true
			}

			if frameIsTerminal(frame) {
				if !frameSuccess(frame) {
					return nil, fmt.Errorf("substrate invocation was not successful")
				}
				assistantText := lastBotText
				if !botFound {
					assistantText = deltaBuilder.String()
				}
				if assistantText == "" {
					return nil, fmt.Errorf("substrate chat returned no assistant content")
				}
				return &TurnResult{AssistantText: assistantText, ConversationID: conversationID}, nil
			}
		}
	}

	assistantText := lastBotText
	if !botFound {
		assistantText = deltaBuilder.String()
	}
	if assistantText == "" {
		return nil, fmt.Errorf("substrate chat returned no assistant content")
	}
	return &TurnResult{AssistantText: assistantText, ConversationID: conversationID}, nil
}

func (c *Client) buildHubURL(auth, conversationID string) (string, error) {
	oid, tid, err := extractOIDAndTID(auth)
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(c.cfg.HubPath, "/")
	u, err := url.Parse(base + "/" + url.PathEscape(oid) + "@" + url.PathEscape(tid))
	if err != nil {
		return "", fmt.Errorf("failed to build substrate hub URL: %w", err)
	}

	q := u.Query()
	q.Set("ClientRequestId", uuid.NewString())
	q.Set("X-SessionId", uuid.NewString())
	if conversationID != "" {
		q.Set("ConversationId", conversationID)
	}
	q.Set("access_token", strings.TrimPrefix(auth, "Bearer "))
	if c.cfg.Source != "" {
		if c.cfg.QuoteSourceInQuery {
			q.Set("source", `"`+c.cfg.Source+`"`)
		} else {
			q.Set("source", c.cfg.Source)
		}
	}
	if c.cfg.Scenario != "" {
		q.Set("scenario", c.cfg.Scenario)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) buildInvokeFrame(invocation InvocationRequest) (map[string]interface{}, error) {
	tz := invocation.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	offsetMinutes := timeZoneOffsetMinutes(tz)

	message := map[string]interface{}{
		"author":         "user",
		"text":           promptWithContext(invocation.Prompt, invocation.AdditionalContext),
		"locale":         c.cfg.Locale,
		"experienceType": c.cfg.ExperienceType,
		"locationInfo": map[string]interface{}{
			"timeZone":       tz,
			"timeZoneOffset": offsetMinutes,
		},
	}

	argument := map[string]interface{}{
		"source":              c.cfg.Source,
		"clientCorrelationId": uuid.NewString(),
		"sessionId":           uuid.NewString(),
		"conversationId":      invocation.ConversationID,
		"traceId":             strings.ReplaceAll(uuid.NewString(), "-", ""),
		"isStartOfSession":    invocation.IsStartOfSession,
		"productThreadType":   c.cfg.ProductThreadType,
		"clientInfo": map[string]interface{}{
			"clientPlatform": c.cfg.ClientPlatform,
		},
		"message":              message,
		"optionsSets":          stringSliceOrEmpty(c.cfg.OptionsSets),
		"allowedMessageTypes":  stringSliceOrEmpty(c.cfg.AllowedMessageTypes),
		"contextualResources":  invocation.ContextualResources,
	}

	return map[string]interface{}{
		"arguments":    []interface{}{argument},
		"invocationId": "0",
		"target":       c.cfg.InvocationTarget,
		"type":         invocationTypeValue(c.cfg.InvocationType),
	}, nil
}

func invocationTypeValue(raw string) interface{} {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

func stringSliceOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// promptWithContext prefixes the prompt with a "Context:" block of
// additionalContext lines when non-empty, per spec.md §4.5.
func promptWithContext(prompt string, additionalContext []string) string {
	if len(additionalContext) == 0 {
		return "User: " + prompt
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, line := range additionalContext {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(prompt)
	return b.String()
}

func timeZoneOffsetMinutes(tz string) int {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0
	}
	_, offsetSeconds := time.Now().In(loc).Zone()
	return offsetSeconds / 60
}

func writeRSFrame(conn *websocket.Conn, payload map[string]interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode substrate frame: %w", err)
	}
	encoded = append(encoded, recordSeparator)
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

func readRSFrames(conn *websocket.Conn) ([]map[string]interface{}, error) {
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frames []map[string]interface{}
	for _, raw := range splitRSFrames(payload) {
		var frame map[string]interface{}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// splitRSFrames splits a raw WebSocket message on the RS (0x1E) delimiter,
// dropping empty segments.
func splitRSFrames(payload []byte) [][]byte {
	parts := bytes.Split(payload, []byte{recordSeparator})
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		trimmed := bytes.TrimSpace(p)
		if len(trimmed) > 0 {
			out = append(out, trimmed)
		}
	}
	return out
}
