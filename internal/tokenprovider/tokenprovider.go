// Package tokenprovider resolves the bearer token used on outbound Graph
// and Substrate calls, implementing spec.md §4.9's three-tier priority:
// inbound header, cached on-disk token, single-flight external acquisition.
package tokenprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// expiryBuffer matches the margin a cached token must clear before it is
// considered usable, so a turn never starts against a token that expires
// mid-flight.
const expiryBuffer = 60 * time.Second

// cachedToken is the on-disk shape written by the external acquisition
// subprocess, generalized from the teacher's credentials.fsAuth.
type cachedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix seconds
}

// TokenAcquirer performs the out-of-process token acquisition. The real
// implementation is an external browser-driven collaborator (spec.md §1);
// this interface only models the contract the provider depends on.
type TokenAcquirer interface {
	Acquire(ctx context.Context) error
}

// CommandAcquirer shells out to a configured command that is expected to
// write a fresh token file at Path, generalized from the teacher's
// flag-driven fetcher selection in cmd/codex-proxy/main.go.
type CommandAcquirer struct {
	Command string
	Path    string
}

// Acquire runs the configured command and waits for it to exit. It does not
// itself re-read the file; the caller re-reads after a successful return.
func (a CommandAcquirer) Acquire(ctx context.Context) error {
	if a.Command == "" {
		return fmt.Errorf("tokenprovider: no acquire command configured")
	}
	fields := strings.Fields(a.Command)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tokenprovider: acquire command failed: %w (output: %s)", err, string(out))
	}
	return nil
}

// Provider resolves an Authorization header value per spec.md §4.9.
type Provider struct {
	tokenFilePath      string
	ignoreInboundAuth  bool
	acquirer           TokenAcquirer
	group              singleflight.Group
}

// New builds a Provider. acquirer may be nil, in which case tier 3
// (external acquisition) is skipped and ResolveAuthorizationHeader falls
// through to "" when the cache is empty or stale.
func New(tokenFilePath string, ignoreInboundAuth bool, acquirer TokenAcquirer) *Provider {
	return &Provider{
		tokenFilePath:     tokenFilePath,
		ignoreInboundAuth: ignoreInboundAuth,
		acquirer:          acquirer,
	}
}

// ResolveAuthorizationHeader returns "Bearer <token>" or "" if every tier
// fails. inbound is the raw `Authorization` header value from the request,
// if any.
func (p *Provider) ResolveAuthorizationHeader(ctx context.Context, inbound string) string {
	if !p.ignoreInboundAuth && inbound != "" {
		return normalizeBearer(inbound)
	}

	if tok, ok := p.readCached(); ok {
		return "Bearer " + tok
	}

	if p.acquirer == nil {
		return ""
	}

	if _, err, _ := p.group.Do("acquire", func() (interface{}, error) {
		return nil, p.acquirer.Acquire(ctx)
	}); err != nil {
		return ""
	}

	if tok, ok := p.readCached(); ok {
		return "Bearer " + tok
	}
	return ""
}

func (p *Provider) readCached() (string, bool) {
	if p.tokenFilePath == "" {
		return "", false
	}
	b, err := os.ReadFile(p.tokenFilePath)
	if err != nil {
		return "", false
	}
	var tok cachedToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return "", false
	}
	if tok.AccessToken == "" {
		return "", false
	}
	if tok.ExpiresAt > 0 {
		expiry := time.Unix(tok.ExpiresAt, 0)
		if time.Now().Add(expiryBuffer).After(expiry) {
			return "", false
		}
	}
	return tok.AccessToken, true
}

func normalizeBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return "Bearer " + strings.TrimSpace(raw[len("bearer "):])
	}
	return "Bearer " + raw
}
