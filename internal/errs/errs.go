// Package errs implements the gateway's error taxonomy: every failure that
// crosses a package boundary is, or wraps, an *errs.Error carrying a fixed
// JSON-RPC code, HTTP status, and canonical message tokens.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category is one of the fixed error kinds the gateway ever returns to a
// client.
type Category string

const (
	CategoryParseError         Category = "parse_error"
	CategoryInvalidRequest     Category = "invalid_request"
	CategoryInvalidParams      Category = "invalid_params"
	CategoryRangeTooLarge      Category = "range_too_large"
	CategoryTooManyAddresses   Category = "too_many_addresses"
	CategoryUnsupportedMethod  Category = "unsupported_method"
	CategoryUnauthorized       Category = "unauthorized"
	CategoryRateLimit          Category = "rate_limit"
	CategoryNotFound           Category = "not_found"
	CategoryConflict           Category = "conflict"
	CategoryUnavailable        Category = "unavailable"
	CategoryOverload           Category = "overload"
	CategoryServerError        Category = "server_error"
)

type codeStatus struct {
	code   int
	status int
}

var table = map[Category]codeStatus{
	CategoryParseError:        {-32700, 400},
	CategoryInvalidRequest:    {-32600, 400},
	CategoryInvalidParams:     {-32602, 400},
	CategoryRangeTooLarge:     {-32012, 400},
	CategoryTooManyAddresses:  {-32012, 400},
	CategoryUnsupportedMethod: {-32601, 404},
	CategoryUnauthorized:      {-32016, 401},
	CategoryRateLimit:         {-32005, 429},
	CategoryNotFound:          {-32014, 404},
	CategoryConflict:          {-32603, 409},
	CategoryUnavailable:       {-32603, 503},
	CategoryOverload:          {-32603, 503},
	CategoryServerError:       {-32603, 502},
}

// Error is the gateway's canonical error value (spec.md §3, §7).
type Error struct {
	Category   Category
	Code       int
	HTTPStatus int
	Message    string
	Data       any
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error for category, filling in its fixed code/status.
func New(category Category, message string) *Error {
	cs, ok := table[category]
	if !ok {
		cs = table[CategoryServerError]
	}
	return &Error{
		Category:   category,
		Code:       cs.code,
		HTTPStatus: cs.status,
		Message:    message,
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(category Category, format string, args ...any) *Error {
	return New(category, fmt.Sprintf(format, args...))
}

// WithData attaches a data payload and returns the receiver for chaining.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// As extracts an *Error from err, wrapping it as server_error if err is a
// plain error that isn't already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(CategoryServerError, "server error: "+err.Error())
}

// ConflictData is the optional `data` payload for a conflict error.
type ConflictData struct {
	Retryable      bool     `json:"retryable"`
	PreviousBlocks []uint64 `json:"previousBlocks,omitempty"`
}

// RPCPayload renders the error as a JSON-RPC 2.0 error object.
type RPCPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) RPCPayload() RPCPayload {
	return RPCPayload{Code: e.Code, Message: e.Message, Data: e.Data}
}

// MarshalJSON lets an *Error be embedded directly as a JSON-RPC error value.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.RPCPayload())
}
