// Package portal implements the Portal streaming client (spec.md §4.3,
// component C3): typed head/finalizedHead/metadata/streamBlocks operations
// against the upstream columnar block-data service, with status mapping,
// continuity enforcement, and bounded single-retry recovery.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
	"github.com/sqd-community/portal-evm-gateway/internal/ndjson"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_requests_total",
		Help: "Portal HTTP requests by endpoint and resulting status.",
	}, []string{"endpoint", "status"})

	latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_latency_seconds",
		Help:    "Portal HTTP request latency by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	finalizedFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finalized_fallback_total",
		Help: "Times a finalized Portal endpoint 404'd and the client fell back to non-finalized.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, latencySeconds, finalizedFallbackTotal)
}

// Config configures the shared behavior of a Client.
type Config struct {
	APIKey            string
	APIKeyHeader      string // default "X-API-Key"
	HTTPTimeout       time.Duration
	NDJSONLimits      ndjson.Limits
	NegotiableFields  map[string]bool // fields Portal may reject and we may strip+retry
	Logger            *zap.Logger
}

// Client is a Portal client shared across datasets; each call takes the
// dataset's base URL.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Portal client sharing one *http.Client across datasets.
func New(cfg Config) *Client {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// NormalizeBaseURL strips a trailing slash and any endpoint suffix from a
// configured Portal base URL (spec.md §4.3).
func NormalizeBaseURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	for _, suffix := range []string{"/stream", "/finalized-stream", "/head", "/finalized-head", "/metadata"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return strings.TrimSuffix(base, "/")
}

// DatasetURL resolves the per-dataset base, honoring an explicit
// "{dataset}" placeholder when the configured base contains one.
func DatasetURL(base, dataset string) string {
	base = NormalizeBaseURL(base)
	if strings.Contains(base, "{dataset}") {
		return strings.ReplaceAll(base, "{dataset}", dataset)
	}
	return base + "/" + dataset
}

type StreamHeaders struct {
	FinalizedHeadNumber string
	FinalizedHeadHash   string
}

// HeaderCallback receives stream trailer fields as they're observed; the
// caller only keeps the first non-empty value per key (spec.md §4.3).
type HeaderCallback func(StreamHeaders)

func (c *Client) newRequest(ctx context.Context, method, url, accept, traceparent string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}
	if traceparent != "" {
		req.Header.Set("traceparent", traceparent)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	latencySeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctx.Err() != nil {
			return nil, errs.New(errs.CategoryUnavailable, "unavailable: portal request "+ctx.Err().Error())
		}
		return nil, errs.New(errs.CategoryServerError, "server error: portal request failed: "+err.Error())
	}
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// statusError maps a non-2xx Portal HTTP status to the taxonomy (spec.md
// §4.3 status mapping table), given the already-read body.
func statusError(status int, body []byte) *errs.Error {
	switch status {
	case 400:
		return errs.Newf(errs.CategoryInvalidParams, "invalid params: invalid portal response: %s", string(body))
	case 401, 403:
		return errs.New(errs.CategoryUnauthorized, "unauthorized")
	case 404:
		return errs.New(errs.CategoryNotFound, "not found: block not found")
	case 409:
		var pb struct {
			PreviousBlocks []uint64 `json:"previousBlocks"`
		}
		_ = json.Unmarshal(body, &pb)
		return errs.New(errs.CategoryConflict, "conflict").WithData(&errs.ConflictData{Retryable: true, PreviousBlocks: pb.PreviousBlocks})
	case 429:
		return errs.New(errs.CategoryRateLimit, "rate limit: Too Many Requests")
	case 503:
		return errs.New(errs.CategoryUnavailable, "unavailable")
	default:
		return errs.Newf(errs.CategoryServerError, "server error: portal returned status %d", status)
	}
}

// Head fetches /head or /finalized-head. When finalized=true and Portal
// 404s, it emits finalized_fallback_total, logs a warning, and retries
// once with finalized=false (spec.md §4.3).
func (c *Client) Head(ctx context.Context, baseURL string, finalized bool, traceparent string) (Head, error) {
	return c.headOnce(ctx, baseURL, finalized, traceparent, true)
}

func (c *Client) headOnce(ctx context.Context, baseURL string, finalized bool, traceparent string, allowFallback bool) (Head, error) {
	path := "/head"
	endpoint := "head"
	if finalized {
		path = "/finalized-head"
		endpoint = "finalized_head"
	}
	req, err := c.newRequest(ctx, http.MethodGet, NormalizeBaseURL(baseURL)+path, "application/json", traceparent, nil)
	if err != nil {
		return Head{}, errs.New(errs.CategoryServerError, "server error: "+err.Error())
	}
	resp, err := c.do(ctx, endpoint, req)
	if err != nil {
		return Head{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == 404 && finalized && allowFallback {
		finalizedFallbackTotal.Inc()
		c.cfg.Logger.Warn("portal finalized-head unavailable, falling back to head", zap.String("baseUrl", baseURL))
		h, err := c.headOnce(ctx, baseURL, false, traceparent, false)
		if err != nil {
			return Head{}, err
		}
		h.FinalizedAvailable = false
		return h, nil
	}
	if resp.StatusCode != 200 {
		return Head{}, statusError(resp.StatusCode, body)
	}

	var h Head
	if err := json.Unmarshal(body, &h); err != nil {
		return Head{}, errs.New(errs.CategoryServerError, "server error: invalid portal head response: "+err.Error())
	}
	h.FinalizedAvailable = finalized
	return h, nil
}

// Metadata fetches /metadata. A 404 means the metadata is absent, not an
// error (spec.md §4.3).
func (c *Client) Metadata(ctx context.Context, baseURL string, traceparent string) (*Metadata, error) {
	req, err := c.newRequest(ctx, http.MethodGet, NormalizeBaseURL(baseURL)+"/metadata", "application/json", traceparent, nil)
	if err != nil {
		return nil, errs.New(errs.CategoryServerError, "server error: "+err.Error())
	}
	resp, err := c.do(ctx, "metadata", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.StatusCode != 200 {
		return nil, statusError(resp.StatusCode, body)
	}
	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, errs.New(errs.CategoryServerError, "server error: invalid portal metadata response: "+err.Error())
	}
	return &md, nil
}

// StreamResult is the outcome of a streamBlocks call.
type StreamResult struct {
	Blocks []BlockRecord
}

// unknownField extracts the field name from Portal's 400 body of the
// shape: `unknown field `X``.
func unknownField(body string) (string, bool) {
	const marker = "unknown field `"
	idx := strings.Index(body, marker)
	if idx < 0 {
		return "", false
	}
	rest := body[idx+len(marker):]
	end := strings.Index(rest, "`")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// StreamBlocks issues one logical range stream, with unknown-field
// negotiation and continuity enforcement (spec.md §4.3).
func (c *Client) StreamBlocks(ctx context.Context, baseURL string, finalized bool, req RangeRequest, traceparent string, onHeaders HeaderCallback) (StreamResult, error) {
	isLogsOnly := len(req.Logs) > 0 && len(req.Transactions) == 0 && len(req.Traces) == 0 && len(req.StateDiffs) == 0 && !req.IncludeAllBlocks

	result, err := c.streamOnce(ctx, baseURL, finalized, req, traceparent, onHeaders)
	if err != nil {
		return StreamResult{}, err
	}

	if req.ToBlock == nil || isLogsOnly {
		return result, nil
	}

	target := *req.ToBlock
	lastSeen, ok := lastBlockNumber(result.Blocks)
	if !ok || lastSeen >= target {
		return result, nil
	}

	// Some progress was made but the range isn't complete: one resume
	// attempt, continuing from the block after the last one seen.
	resumeReq := req
	resumeReq.FromBlock = lastSeen + 1
	resumeResult, rerr := c.streamOnce(ctx, baseURL, finalized, resumeReq, traceparent, onHeaders)
	if rerr != nil {
		return StreamResult{}, rerr
	}
	result.Blocks = append(result.Blocks, resumeResult.Blocks...)

	lastSeen, ok = lastBlockNumber(result.Blocks)
	if len(resumeResult.Blocks) == 0 || !ok || lastSeen < target {
		return StreamResult{}, errs.New(errs.CategoryUnavailable, "unavailable: portal stream interrupted")
	}
	return result, nil
}

func lastBlockNumber(blocks []BlockRecord) (uint64, bool) {
	if len(blocks) == 0 {
		return 0, false
	}
	n, err := blocks[len(blocks)-1].Header.Number.Int64()
	if err != nil {
		return 0, false
	}
	return uint64(n), true
}

func (c *Client) streamOnce(ctx context.Context, baseURL string, finalized bool, req RangeRequest, traceparent string, onHeaders HeaderCallback) (StreamResult, error) {
	path := "/stream"
	endpoint := "stream"
	if finalized {
		path = "/finalized-stream"
		endpoint = "finalized_stream"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return StreamResult{}, errs.New(errs.CategoryServerError, "server error: "+err.Error())
	}

	var out StreamResult
	negotiated := false

	err = retry.Do(func() error {
		httpReq, err := c.newRequest(ctx, http.MethodPost, NormalizeBaseURL(baseURL)+path, "application/x-ndjson", traceparent, body)
		if err != nil {
			return retry.Unrecoverable(errs.New(errs.CategoryServerError, "server error: "+err.Error()))
		}
		resp, err := c.do(ctx, endpoint, httpReq)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == 204 {
			out = StreamResult{}
			return nil
		}
		if resp.StatusCode == 400 && !negotiated {
			raw, _ := io.ReadAll(resp.Body)
			if field, ok := unknownField(string(raw)); ok && c.cfg.NegotiableFields[field] {
				negotiated = true
				stripField(&req, field)
				body, err = json.Marshal(req)
				if err != nil {
					return retry.Unrecoverable(errs.New(errs.CategoryServerError, "server error: "+err.Error()))
				}
				return fmt.Errorf("retrying without negotiated field %s", field)
			}
			return retry.Unrecoverable(statusError(resp.StatusCode, raw))
		}
		if resp.StatusCode != 200 {
			raw, _ := io.ReadAll(resp.Body)
			return retry.Unrecoverable(statusError(resp.StatusCode, raw))
		}

		blocks, herr := readStream(resp.Body, c.cfg.NDJSONLimits, resp.Header, onHeaders)
		if herr != nil {
			return retry.Unrecoverable(herr)
		}
		out = StreamResult{Blocks: blocks}
		return nil
	}, retry.Attempts(2), retry.LastErrorOnly(true))

	if err != nil {
		if e, ok := err.(*errs.Error); ok {
			return StreamResult{}, e
		}
		return StreamResult{}, errs.As(err)
	}
	return out, nil
}

func stripField(req *RangeRequest, field string) {
	for _, sel := range req.Fields {
		delete(sel, field)
	}
}

func readStream(r io.Reader, limits ndjson.Limits, headers http.Header, onHeaders HeaderCallback) ([]BlockRecord, error) {
	var blocks []BlockRecord
	err := ndjson.Decode(r, limits, func(raw json.RawMessage) error {
		var rec BlockRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errs.New(errs.CategoryServerError, "server error: malformed portal block record: "+err.Error())
		}
		blocks = append(blocks, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if onHeaders != nil {
		sh := StreamHeaders{
			FinalizedHeadNumber: headers.Get("finalizedHeadNumber"),
			FinalizedHeadHash:   headers.Get("finalizedHeadHash"),
		}
		if sh.FinalizedHeadNumber != "" || sh.FinalizedHeadHash != "" {
			onHeaders(sh)
		}
	}
	return blocks, nil
}
