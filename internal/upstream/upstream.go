// Package upstream implements the optional standard EVM JSON-RPC fallback
// client (spec.md §4.6, component C6).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
)

// Config resolves the upstream URL for a chain.
type Config struct {
	URLMap      map[int64]string
	DefaultURL  string
	HTTPTimeout time.Duration
}

// URLFor implements spec.md §4.6 chain URL resolution.
func (c Config) URLFor(chainID int64) (string, bool) {
	if u, ok := c.URLMap[chainID]; ok && u != "" {
		return u, true
	}
	if c.DefaultURL != "" {
		return c.DefaultURL, true
	}
	return "", false
}

// Client forwards single JSON-RPC requests to a configured upstream node.
type Client struct {
	http *http.Client
}

func New(cfg Config) *Client {
	return &Client{http: &http.Client{Timeout: cfg.HTTPTimeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *remoteError    `json:"error"`
}

type remoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// remoteCodeCategory translates a remote JSON-RPC error code into the local
// taxonomy (spec.md §4.6).
func remoteCodeCategory(code int) errs.Category {
	switch code {
	case -32600:
		return errs.CategoryInvalidRequest
	case -32602:
		return errs.CategoryInvalidParams
	case -32601:
		return errs.CategoryUnsupportedMethod
	case -32016, -32001:
		return errs.CategoryUnauthorized
	case -32005:
		return errs.CategoryRateLimit
	case -32014:
		return errs.CategoryNotFound
	default:
		return errs.CategoryServerError
	}
}

// Forward proxies one JSON-RPC method call to url and returns the raw
// result, or a taxonomy error translated from the remote error object. A
// transport failure or 5xx is retried once; anything the remote node
// itself returned as a JSON-RPC error is not.
func (c *Client) Forward(ctx context.Context, url, method string, params any, traceparent string) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, errs.New(errs.CategoryServerError, "server error: "+err.Error())
	}

	var result json.RawMessage
	rerr := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(errs.New(errs.CategoryServerError, "server error: "+err.Error()))
		}
		req.Header.Set("Content-Type", "application/json")
		if traceparent != "" {
			req.Header.Set("traceparent", traceparent)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(errs.New(errs.CategoryUnavailable, "unavailable: "+ctx.Err().Error()))
			}
			return errs.New(errs.CategoryServerError, "server error: upstream request failed: "+err.Error())
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Unrecoverable(errs.New(errs.CategoryServerError, "server error: "+err.Error()))
		}
		if resp.StatusCode >= 500 {
			return errs.New(errs.CategoryServerError, fmt.Sprintf("server error: upstream returned status %d", resp.StatusCode))
		}

		var rr rpcResponse
		if err := json.Unmarshal(raw, &rr); err != nil || (rr.Result == nil && rr.Error == nil) {
			return retry.Unrecoverable(errs.New(errs.CategoryServerError, "server error: invalid upstream response"))
		}
		if rr.Error != nil {
			e := errs.New(remoteCodeCategory(rr.Error.Code), rr.Error.Message)
			if _, isObj := rr.Error.Data.(map[string]any); isObj {
				e = e.WithData(rr.Error.Data)
			}
			return retry.Unrecoverable(e)
		}
		result = rr.Result
		return nil
	}, retry.Attempts(2), retry.LastErrorOnly(true))

	if rerr != nil {
		return nil, errs.As(rerr)
	}
	return result, nil
}
