// Package apierr writes structured JSON error envelopes for the relay server.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeNotFound       = "not_found_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeInvalidRequest   = "invalid_request"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternalError    = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteInvalidJSON writes a 400 for a request body that is not a valid
// {"contents":[...]} document.
func WriteInvalidJSON(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadRequest, msg, TypeInvalidRequest, CodeInvalidJSON)
}

// WriteNotFound writes a 404 for an unknown route.
func WriteNotFound(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusNotFound, "route not found: "+string(ctx.Path()), TypeNotFound, CodeNotFound)
}

// WriteMethodNotAllowed writes a 405 for a known route hit with the wrong verb.
func WriteMethodNotAllowed(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusMethodNotAllowed,
		"method "+string(ctx.Method())+" not allowed on "+string(ctx.Path()),
		TypeInvalidRequest, CodeMethodNotAllowed)
}

// WriteInternal writes a 500.
func WriteInternal(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusInternalServerError, msg, TypeServerError, CodeInternalError)
}
