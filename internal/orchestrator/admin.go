package orchestrator

import (
	"net/http"
	"strings"
)

// adminMiddleware checks for a valid admin API key from either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers, generalized
// from the teacher's adminMiddleware to read the key from config instead
// of a global env lookup.
func (o *Orchestrator) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if o.cfg.AdminAPIKey == "" {
			o.logger.Error().Msg("ADMIN_API_KEY not configured")
			http.Error(w, "admin API not configured", http.StatusInternalServerError)
			return
		}

		var provided string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}
			provided = parts[1]
		} else if key := r.Header.Get("X-API-Key"); key != "" {
			provided = key
		} else {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if provided != o.cfg.AdminAPIKey {
			o.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("invalid admin API key")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// adminCredentialsStatusHandler reports whether the token provider
// resolves a bearer token when given no inbound header, without ever
// exposing the token value itself. Resolving reads the cached token file
// and, when that is empty or stale and an acquirer is configured, runs the
// acquisition command.
func (o *Orchestrator) adminCredentialsStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	authorized := o.tokens.ResolveAuthorizationHeader(r.Context(), "") != ""
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token_file_path": o.cfg.TokenFilePath,
		"has_token":       authorized,
	})
}
