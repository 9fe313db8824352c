package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/m365proxy/m365proxy/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAPIError renders a pre-stream error as a plain JSON 4xx/5xx body
// (spec.md §4.8/§7). A non-*apierr.Error is surfaced as a 500 internal
// error without leaking its message verbatim.
func writeAPIError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.SubstrateError, "internal error").WithStatus(http.StatusInternalServerError)
	}
	writeJSON(w, apiErr.HTTPStatus, apiErr.Body())
}

// writeStreamError emits a mid-stream failure as an SSE `event: error`
// frame followed by `data: [DONE]` (spec.md §4.8/§7) — used once at least
// one byte of the response has already been written, when a plain status
// code can no longer be set.
func writeStreamError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.SubstrateError, err.Error()).WithStatus(http.StatusBadGateway)
	}
	b, _ := json.Marshal(apiErr.Body())
	_, _ = w.Write([]byte("event: error\ndata: " + string(b) + "\n\n"))
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
