package substrate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/m365proxy/m365proxy/internal/apierr"
)

// parseClaims extracts the oid/tid fields from a bearer JWT's payload segment
// without verifying its signature — the token was already issued and
// trusted upstream, this proxy only needs the claims to build the hub URL.
// Grounded on n0madic-go-chatmock's internal/auth/jwt.go.
func parseClaims(token string) (map[string]interface{}, error) {
	bare := strings.TrimPrefix(token, "Bearer ")
	bare = strings.TrimSpace(bare)

	parts := strings.Split(bare, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("bearer token is not a JWT")
	}

	payload := parts[1]
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to base64url-decode JWT payload: %w", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload JSON: %w", err)
	}
	return claims, nil
}

// extractOIDAndTID returns the oid/tid claims required to build the hub
// URL path segment. Either claim missing or empty is a caller-visible
// validation failure (spec: fail with status 400).
func extractOIDAndTID(token string) (oid, tid string, err error) {
	claims, err := parseClaims(token)
	if err != nil {
		return "", "", apierr.New(apierr.SubstrateError, err.Error()).WithStatus(http.StatusBadRequest)
	}
	oid, _ = claims["oid"].(string)
	tid, _ = claims["tid"].(string)
	if oid == "" || tid == "" {
		return "", "", apierr.New(apierr.SubstrateError, "bearer token JWT is missing required oid/tid claims").WithStatus(http.StatusBadRequest)
	}
	return oid, tid, nil
}
