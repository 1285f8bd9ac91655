package rpcserver

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqd-community/portal-evm-gateway/internal/chainmap"
	"github.com/sqd-community/portal-evm-gateway/internal/config"
	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/upstream"
	"github.com/sqd-community/portal-evm-gateway/internal/validator"
)

// memoKey identifies a cached head lookup.
type memoKey struct {
	baseURL   string
	finalized bool
}

// memo is the per-request memoization map for Portal metadata/head lookups
// (spec.md §3, §4.7), discarded at request end.
type memo struct {
	mu        sync.Mutex
	heads     map[memoKey]portal.Head
	metadata  map[string]*portal.Metadata
	startBlk  map[string]*uint64
}

func newMemo() *memo {
	return &memo{
		heads:    map[memoKey]portal.Head{},
		metadata: map[string]*portal.Metadata{},
		startBlk: map[string]*uint64{},
	}
}

// RequestContext carries everything a handler or the coalescer needs for
// one JSON-RPC item or batch.
type RequestContext struct {
	Ctx         context.Context
	Chain       chainmap.Chain
	Cfg         *config.Config
	Portal      *portal.Client
	Upstream    *upstream.Client
	UpstreamURL string
	HasUpstream bool
	Traceparent string
	RequestID   string
	Logger      *zap.Logger
	Memo        *memo

	// FinalizedHeads captures the first non-empty finalized head fields
	// observed from any Portal stream during this request, for the
	// X-Sqd-Finalized-Head-* response headers (spec.md §4.9).
	FinalizedHeads *finalizedHeadSink
}

type finalizedHeadSink struct {
	mu     sync.Mutex
	number string
	hash   string
}

func (s *finalizedHeadSink) Observe(h portal.StreamHeaders) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.number == "" && h.FinalizedHeadNumber != "" {
		s.number = h.FinalizedHeadNumber
	}
	if s.hash == "" && h.FinalizedHeadHash != "" {
		s.hash = h.FinalizedHeadHash
	}
}

func (s *finalizedHeadSink) Get() (number, hash string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.number, s.hash, s.number != "" || s.hash != ""
}

// NewRequestContext builds the shared per-batch/request state.
func NewRequestContext(ctx context.Context, chain chainmap.Chain, cfg *config.Config, p *portal.Client, u *upstream.Client, upstreamURL string, traceparent string, logger *zap.Logger) *RequestContext {
	return &RequestContext{
		Ctx:            ctx,
		Chain:          chain,
		Cfg:            cfg,
		Portal:         p,
		Upstream:       u,
		UpstreamURL:    upstreamURL,
		HasUpstream:    upstreamURL != "",
		Traceparent:    traceparent,
		RequestID:      uuid.NewString(),
		Logger:         logger,
		Memo:           newMemo(),
		FinalizedHeads: &finalizedHeadSink{},
	}
}

// Head resolves Portal's head for this chain, memoized per (baseURL,
// finalized) within the request.
func (rc *RequestContext) Head(ctx context.Context, finalized bool) (portal.Head, error) {
	key := memoKey{baseURL: rc.Chain.BaseURL, finalized: finalized}
	rc.Memo.mu.Lock()
	if h, ok := rc.Memo.heads[key]; ok {
		rc.Memo.mu.Unlock()
		return h, nil
	}
	rc.Memo.mu.Unlock()

	h, err := rc.Portal.Head(ctx, rc.Chain.BaseURL, finalized, rc.Traceparent)
	if err != nil {
		return portal.Head{}, err
	}
	rc.Memo.mu.Lock()
	rc.Memo.heads[key] = h
	rc.Memo.mu.Unlock()
	return h, nil
}

// Metadata resolves Portal's dataset metadata, memoized within the request.
func (rc *RequestContext) Metadata(ctx context.Context) (*portal.Metadata, error) {
	rc.Memo.mu.Lock()
	if md, ok := rc.Memo.metadata[rc.Chain.BaseURL]; ok {
		rc.Memo.mu.Unlock()
		return md, nil
	}
	rc.Memo.mu.Unlock()

	md, err := rc.Portal.Metadata(ctx, rc.Chain.BaseURL, rc.Traceparent)
	if err != nil {
		return nil, err
	}
	rc.Memo.mu.Lock()
	rc.Memo.metadata[rc.Chain.BaseURL] = md
	rc.Memo.mu.Unlock()
	return md, nil
}

// StartBlock resolves the dataset's start block, if known, memoized within
// the request.
func (rc *RequestContext) StartBlock(ctx context.Context) (*uint64, error) {
	rc.Memo.mu.Lock()
	if sb, ok := rc.Memo.startBlk[rc.Chain.BaseURL]; ok {
		rc.Memo.mu.Unlock()
		return sb, nil
	}
	rc.Memo.mu.Unlock()

	md, err := rc.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	var sb *uint64
	if md != nil {
		sb = md.StartBlock
	}
	rc.Memo.mu.Lock()
	rc.Memo.startBlk[rc.Chain.BaseURL] = sb
	rc.Memo.mu.Unlock()
	return sb, nil
}

// HeadFetcher adapts RequestContext.Head to validator.HeadFetcher.
func (rc *RequestContext) HeadFetcher() validator.HeadFetcher {
	return func(ctx context.Context, finalized bool) (portal.Head, error) {
		return rc.Head(ctx, finalized)
	}
}

// Limits builds the validator.Limits from config.
func (rc *RequestContext) Limits() validator.Limits {
	return validator.Limits{
		MaxLogBlockRange: rc.Cfg.MaxLogBlockRange,
		MaxLogAddresses:  rc.Cfg.MaxLogAddresses,
		MaxBlockNumber:   rc.Cfg.MaxBlockNumber,
	}
}
