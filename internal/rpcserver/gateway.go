// Package rpcserver's Gateway is the HTTP front-end (spec.md §4.9,
// component C9): request admission, body decoding, JSON-RPC envelope
// handling, batch dispatch, and response assembly.
package rpcserver

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sqd-community/portal-evm-gateway/internal/chainmap"
	"github.com/sqd-community/portal-evm-gateway/internal/config"
	"github.com/sqd-community/portal-evm-gateway/internal/errs"
	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/quantity"
	"github.com/sqd-community/portal-evm-gateway/internal/stats"
	"github.com/sqd-community/portal-evm-gateway/internal/upstream"
)

// latencyWindowSize bounds how many recent request latencies feed the
// /stats percentiles.
const latencyWindowSize = 1024

// Gateway is the stateless JSON-RPC gateway front-end. One Gateway serves
// every chain in the configured table; state for a single request lives
// only in the RequestContext built for it.
type Gateway struct {
	cfg      *config.Config
	chains   *chainmap.Table
	portal   *portal.Client
	upstream *upstream.Client
	logger   *zap.Logger
	sem      *semaphore.Weighted
	latency  *stats.Window
}

// New builds a Gateway ready to serve Router().
func New(cfg *config.Config, chains *chainmap.Table, p *portal.Client, u *upstream.Client, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:      cfg,
		chains:   chains,
		portal:   p,
		upstream: u,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		latency:  stats.NewWindow(latencyWindowSize),
	}
}

// Router builds the chi mux: the JSON-RPC routes plus health, metrics, and
// capabilities.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Post("/", g.handleSingle)
	r.Post("/v1/evm/{chainId}", g.handleMulti)
	r.Get("/healthz", g.handleHealthz)
	r.Get("/readyz", g.handleReadyz)
	r.Get("/capabilities", g.handleCapabilities)
	r.Get("/stats", g.handleStats)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	tl := g.latency.Snapshot()
	out := map[string]any{
		"latency": map[string]string{
			"p50": tl.P50.String(),
			"p95": tl.P95.String(),
			"p99": tl.P99.String(),
			"max": tl.Max.String(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (g *Gateway) handleSingle(w http.ResponseWriter, r *http.Request) {
	if chain, ok := g.chains.Single(); ok {
		g.serve(w, r, chain)
		return
	}

	// Multi-chain mode also accepts POST / with the chain selected via
	// X-Chain-Id (decimal or 0x-hex), the alternative to /v1/evm/{chainId}.
	headerID := r.Header.Get("X-Chain-Id")
	if headerID == "" {
		http.Error(w, "gateway is running in multi-chain mode; use /v1/evm/{chainId} or the X-Chain-Id header", http.StatusNotFound)
		return
	}
	chainID, err := quantity.ParseDecimalOrHexUint(headerID)
	if err != nil {
		http.Error(w, "invalid X-Chain-Id header", http.StatusBadRequest)
		return
	}
	chain, ok := g.chains.Resolve(int64(chainID))
	if !ok {
		http.Error(w, "unknown chain id", http.StatusNotFound)
		return
	}
	g.serve(w, r, chain)
}

func (g *Gateway) handleMulti(w http.ResponseWriter, r *http.Request) {
	if g.chains.IsSingleMode() {
		http.Error(w, "per-chain route is not available in single-chain mode", http.StatusNotFound)
		return
	}
	chainIDStr := chi.URLParam(r, "chainId")
	chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}
	chain, ok := g.chains.Resolve(chainID)
	if !ok {
		http.Error(w, "unknown chain id", http.StatusNotFound)
		return
	}
	g.serve(w, r, chain)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	chain, ok := g.pickAnyChain()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no chains configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := g.portal.Head(ctx, datasetURL(chain), false, ""); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("portal unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (g *Gateway) pickAnyChain() (chainmap.Chain, bool) {
	if c, ok := g.chains.Single(); ok {
		return c, true
	}
	all := g.chains.All()
	if len(all) == 0 {
		return chainmap.Chain{}, false
	}
	return all[0], true
}

func (g *Gateway) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	chains := g.chains.All()
	type chainInfo struct {
		ChainID int64  `json:"chainId"`
		Dataset string `json:"dataset"`
	}
	infos := make([]chainInfo, 0, len(chains))
	for _, c := range chains {
		infos = append(infos, chainInfo{ChainID: c.ChainID, Dataset: c.Dataset})
	}
	negotiable := make([]string, 0, len(g.cfg.NegotiableFields))
	for f := range g.cfg.NegotiableFields {
		negotiable = append(negotiable, f)
	}
	out := map[string]any{
		"serviceMode":        g.cfg.ServiceMode,
		"chains":             infos,
		"upstreamEnabled":    g.cfg.UpstreamMethodsEnabled,
		"maxLogBlockRange":   g.cfg.MaxLogBlockRange,
		"maxLogAddresses":    g.cfg.MaxLogAddresses,
		"negotiableFields":   negotiable,
		"supportedMethods":   supportedMethods(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func supportedMethods() []string {
	methods := make([]string, 0, len(methodTable))
	for m := range methodTable {
		methods = append(methods, m)
	}
	return methods
}

// datasetURL resolves a chain's dataset-scoped Portal base URL.
func datasetURL(c chainmap.Chain) string {
	return portal.DatasetURL(c.BaseURL, c.Dataset)
}

// serve is the JSON-RPC envelope pipeline shared by single- and
// multi-chain mode (spec.md §4.9).
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, chain chainmap.Chain) {
	if !g.sem.TryAcquire(1) {
		writeTopLevelError(w, errs.New(errs.CategoryOverload, "overload: too many concurrent requests"))
		return
	}
	defer g.sem.Release(1)

	start := time.Now()
	defer func() { g.latency.Observe(time.Since(start)) }()

	if g.cfg.WrapperAPIKey != "" {
		if r.Header.Get(g.cfg.WrapperAPIKeyHeader) != g.cfg.WrapperAPIKey {
			writeTopLevelError(w, errs.New(errs.CategoryUnauthorized, "unauthorized"))
			return
		}
	}

	body, rerr := g.readBody(r)
	if rerr != nil {
		writeTopLevelError(w, rerr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HandlerTimeout)
	defer cancel()

	items, isBatch, perr := ParsePayload(body)
	if perr != nil {
		writeTopLevelError(w, errs.As(perr))
		return
	}

	chain.BaseURL = datasetURL(chain)
	rc := NewRequestContext(ctx, chain, g.cfg, g.portal, g.upstream, g.upstreamURLFor(chain.ChainID), r.Header.Get("traceparent"), g.logger)
	g.logger.Debug("handling request", zap.String("requestId", rc.RequestID), zap.Int64("chainId", chain.ChainID), zap.Int("items", len(items)))

	responses := make([]*Response, len(items))
	var toRun []Request
	runSlots := make([]int, 0, len(items))
	maxStatus := http.StatusOK

	for i, raw := range items {
		req, ok := validateRequest(raw)
		if !ok {
			resp := invalidRequestResponse()
			responses[i] = &resp
			maxStatus = http.StatusBadRequest
			continue
		}
		if req.IsNotification() {
			continue
		}
		toRun = append(toRun, req)
		runSlots = append(runSlots, i)
	}

	outcomes := ExecuteBatch(rc, toRun)
	for j, outcome := range outcomes {
		i := runSlots[j]
		var resp Response
		if outcome.Err != nil {
			resp = errorResponse(outcome.Req.ID, outcome.Err)
			if outcome.Err.HTTPStatus > maxStatus {
				maxStatus = outcome.Err.HTTPStatus
			}
		} else {
			resp = successResponse(outcome.Req.ID, outcome.Result)
		}
		responses[i] = &resp
		g.recordMetrics(outcome, chain.ChainID)
	}

	out := make([]Response, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, *resp)
		}
	}

	if len(out) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	g.writeFinalizedHeaders(w, rc)
	w.Header().Set("Content-Type", "application/json")

	var payload []byte
	var merr error
	if isBatch {
		payload, merr = json.Marshal(out)
	} else {
		payload, merr = json.Marshal(out[0])
	}
	if merr != nil {
		writeTopLevelError(w, errs.New(errs.CategoryServerError, "server error: "+merr.Error()))
		return
	}

	w.WriteHeader(maxStatus)
	n, _ := w.Write(payload)
	methodLabel := "batch"
	if !isBatch && len(toRun) == 1 {
		methodLabel = toRun[0].Method
	}
	responseBytesTotal.WithLabelValues(methodLabel, strconv.FormatInt(chain.ChainID, 10)).Add(float64(n))
}

func (g *Gateway) upstreamURLFor(chainID int64) string {
	if g.upstream == nil || !g.cfg.UpstreamMethodsEnabled {
		return ""
	}
	cfg := upstream.Config{URLMap: g.cfg.UpstreamRPCURLMap, DefaultURL: g.cfg.UpstreamRPCURL}
	u, _ := cfg.URLFor(chainID)
	return u
}

func (g *Gateway) readBody(r *http.Request) ([]byte, *errs.Error) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, errs.New(errs.CategoryInvalidRequest, "invalid request: malformed gzip body")
		}
		defer gz.Close()
		reader = gz
	}
	limited := io.LimitReader(reader, g.cfg.MaxRequestBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.New(errs.CategoryInvalidRequest, "invalid request: failed to read body")
	}
	if int64(len(body)) > g.cfg.MaxRequestBodyBytes {
		return nil, errs.New(errs.CategoryInvalidRequest, "invalid request: body exceeds max size")
	}
	return body, nil
}

func (g *Gateway) writeFinalizedHeaders(w http.ResponseWriter, rc *RequestContext) {
	if number, hash, ok := rc.FinalizedHeads.Get(); ok {
		if number != "" {
			w.Header().Set("X-Sqd-Finalized-Head-Number", number)
		}
		if hash != "" {
			w.Header().Set("X-Sqd-Finalized-Head-Hash", hash)
		}
	}
}

func (g *Gateway) recordMetrics(o Outcome, chainID int64) {
	chainIDStr := strconv.FormatInt(chainID, 10)
	status := "ok"
	if o.Err != nil {
		status = strconv.Itoa(o.Err.Code)
		errorsTotal.WithLabelValues(string(o.Err.Category)).Inc()
	}
	requestsTotal.WithLabelValues(o.Req.Method, chainIDStr, status).Inc()
}

// writeTopLevelError responds when the envelope itself can't be processed
// (auth, body, overload, parse failure) — there is no request id to echo,
// so id is always null.
func writeTopLevelError(w http.ResponseWriter, e *errs.Error) {
	resp := errorResponse(RawID{}, e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
