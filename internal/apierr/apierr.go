// Package apierr defines the OpenAI-shaped error codes surfaced across the
// pipeline (spec.md §6/§7), shared by the parser, transports, and the
// orchestrator so a single error type flows end-to-end to the HTTP layer.
package apierr

import "net/http"

// Code is one of the error codes enumerated in spec.md §6.
type Code string

const (
	MissingAuthorization      Code = "missing_authorization"
	InvalidJSON               Code = "invalid_json"
	InvalidRequest            Code = "invalid_request"
	InvalidTransport          Code = "invalid_transport"
	InvalidPreviousResponseID Code = "invalid_previous_response_id"
	InvalidToolOutput         Code = "invalid_tool_output"
	ConversationIDMissing     Code = "conversation_id_missing"
	GraphError                Code = "graph_error"
	SubstrateError            Code = "substrate_error"
	ResponseNotFound          Code = "response_not_found"
	MissingResponseID         Code = "missing_response_id"
	ResponseStreamError       Code = "response_stream_error"
)

// Error is a structured, HTTP-status-carrying application error.
type Error struct {
	HTTPStatus int
	ErrCode    Code
	Message    string
}

func (e *Error) Error() string { return e.Message }

// New builds an Error, inferring the HTTP status from the code's
// conventional mapping unless overridden via WithStatus.
func New(code Code, message string) *Error {
	return &Error{HTTPStatus: defaultStatus(code), ErrCode: code, Message: message}
}

// WithStatus returns a copy of e with an explicit HTTP status, used for
// passthrough of clamped upstream statuses.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.HTTPStatus = status
	return &c
}

func defaultStatus(code Code) int {
	switch code {
	case MissingAuthorization:
		return http.StatusUnauthorized
	case InvalidJSON, InvalidRequest, InvalidTransport, InvalidPreviousResponseID,
		InvalidToolOutput, ConversationIDMissing, MissingResponseID:
		return http.StatusBadRequest
	case ResponseNotFound:
		return http.StatusNotFound
	case GraphError, SubstrateError, ResponseStreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body renders the conventional OpenAI error envelope:
// {"error":{"message","type","param":null,"code"}}.
func (e *Error) Body() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.Message,
			"type":    string(e.ErrCode),
			"param":   nil,
			"code":    string(e.ErrCode),
		},
	}
}
