// Package rpcserver implements the JSON-RPC dispatch surface: per-method
// handlers (C7), batch coalescing (C8), and the HTTP gateway front-end (C9)
// from spec.md §4.7-4.9.
package rpcserver

import (
	"encoding/json"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
)

// RawID preserves a JSON-RPC id exactly as received (string, number, or
// null) for echoing back in the response.
type RawID struct {
	set bool
	raw json.RawMessage
}

func (r RawID) IsSet() bool { return r.set }

func (r RawID) MarshalJSON() ([]byte, error) {
	if !r.set {
		return []byte("null"), nil
	}
	return r.raw, nil
}

func (r *RawID) UnmarshalJSON(b []byte) error {
	r.set = true
	r.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Request is one JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RawID           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// IsNotification reports whether this request carries no id (spec.md §3).
func (r Request) IsNotification() bool { return !r.ID.IsSet() }

// Response is one JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      RawID          `json:"id"`
	Result  any            `json:"result,omitempty"`
	Error   *errs.RPCPayload `json:"error,omitempty"`
}

func successResponse(id RawID, result any) Response {
	if result == nil {
		result = json.RawMessage("null")
	}
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id RawID, e *errs.Error) Response {
	p := e.RPCPayload()
	return Response{JSONRPC: "2.0", ID: id, Error: &p}
}

// invalidRequestResponse is the fixed shape for a malformed batch item
// (spec.md §4.9 step 4): id is always null because the item couldn't be
// parsed well enough to recover one.
func invalidRequestResponse() Response {
	e := errs.New(errs.CategoryInvalidRequest, "invalid request")
	p := e.RPCPayload()
	return Response{JSONRPC: "2.0", ID: RawID{}, Error: &p}
}

// validateRequest checks the shape rules from spec.md §4.9 step 4 beyond
// what JSON decoding already enforces.
func validateRequest(raw json.RawMessage) (Request, bool) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  json.RawMessage `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Request{}, false
	}
	if probe.JSONRPC != "2.0" {
		return Request{}, false
	}
	var method string
	if probe.Method == nil || json.Unmarshal(probe.Method, &method) != nil || method == "" {
		return Request{}, false
	}
	if probe.Params != nil {
		var arr []json.RawMessage
		var obj map[string]json.RawMessage
		var null any
		if json.Unmarshal(probe.Params, &arr) != nil &&
			json.Unmarshal(probe.Params, &obj) != nil &&
			!(json.Unmarshal(probe.Params, &null) == nil && null == nil) {
			return Request{}, false
		}
	}
	if probe.ID != nil {
		var s string
		var f float64
		var null any
		okString := json.Unmarshal(probe.ID, &s) == nil
		okNumber := json.Unmarshal(probe.ID, &f) == nil
		okNull := json.Unmarshal(probe.ID, &null) == nil && null == nil
		if !okString && !okNumber && !okNull {
			return Request{}, false
		}
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, false
	}
	return req, true
}

// ParsePayload parses a raw JSON-RPC body into its items, distinguishing a
// singleton request from a batch (spec.md §3, §4.9).
func ParsePayload(body []byte) (items []json.RawMessage, isBatch bool, err error) {
	trimmed := trimLeadingSpace(body)
	if len(trimmed) == 0 {
		return nil, false, errs.New(errs.CategoryParseError, "parse error")
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if jerr := json.Unmarshal(body, &arr); jerr != nil {
			return nil, false, errs.New(errs.CategoryParseError, "parse error")
		}
		if len(arr) == 0 {
			return nil, true, errs.New(errs.CategoryInvalidRequest, "invalid request")
		}
		return arr, true, nil
	}
	if !json.Valid(body) {
		return nil, false, errs.New(errs.CategoryParseError, "parse error")
	}
	return []json.RawMessage{body}, false, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}
