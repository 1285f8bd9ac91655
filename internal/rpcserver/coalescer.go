package rpcserver

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
	"github.com/sqd-community/portal-evm-gateway/internal/fanout"
	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/shaper"
	"github.com/sqd-community/portal-evm-gateway/internal/validator"
)

// uncleCache deduplicates the per-block upstream uncle lookup across every
// item in a batch that touches the same block number.
type uncleCache struct {
	mu sync.Mutex
	m  map[int64][]string
}

func newUncleCache() *uncleCache { return &uncleCache{m: map[int64][]string{}} }

func (c *uncleCache) fetch(rc *RequestContext, number json.Number) []string {
	n, err := number.Int64()
	if err != nil {
		return nil
	}
	c.mu.Lock()
	if v, ok := c.m[n]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := fetchUncles(rc, number)

	c.mu.Lock()
	c.m[n] = v
	c.mu.Unlock()
	return v
}

// Outcome is one batch item's dispatch result, kept alongside its original
// Request so the gateway can reassemble responses in request order.
type Outcome struct {
	Req    Request
	Result any
	Err    *errs.Error
}

// coalescableKind classifies the methods whose single-block Portal queries can
// be fused into one range stream per contiguous run of block numbers
// (spec.md §4.8).
func coalescableKind(method string) string {
	switch method {
	case "eth_getBlockByNumber":
		return "block"
	case "eth_getTransactionByBlockNumberAndIndex":
		return "tx_by_index"
	case "trace_block":
		return "trace"
	default:
		return ""
	}
}

type coItem struct {
	pos     int // index into the caller-supplied batch
	req     Request
	tag     validator.BlockTag
	fullTx  bool   // "block" kind only
	txIndex uint64 // "tx_by_index" kind only
}

type groupKey struct {
	kind         string
	useFinalized bool
	fullTx       bool
}

// ExecuteBatch runs every item of a batch, coalescing runs of
// eth_getBlockByNumber / eth_getTransactionByBlockNumberAndIndex /
// trace_block calls that resolve to contiguous block numbers on the same
// (finalized-ness, fullTx) axis into a single Portal stream per run,
// instead of one stream per item (spec.md §4.8, component C8). Anything
// that doesn't resolve cleanly to a plain block number degrades to an
// ordinary Dispatch call, identical to what a singleton request gets.
func ExecuteBatch(rc *RequestContext, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	groups := map[groupKey][]coItem{}
	var tasks []func()

	for i, r := range reqs {
		i, r := i, r
		kind := coalescableKind(r.Method)
		if kind == "" {
			tasks = append(tasks, func() { out[i] = dispatchDirect(rc, r) })
			continue
		}

		item, ok := resolveItem(rc, r, kind)
		if !ok {
			tasks = append(tasks, func() { out[i] = dispatchDirect(rc, r) })
			continue
		}
		item.pos = i

		below, berr := belowStartBlock(rc, item.tag.Number)
		if berr != nil {
			out[i] = Outcome{Req: r, Err: berr}
			continue
		}
		if below {
			out[i] = Outcome{Req: r, Result: degradeEmptyResult(kind)}
			continue
		}

		key := groupKey{kind: kind, useFinalized: item.tag.UseFinalized, fullTx: item.fullTx}
		groups[key] = append(groups[key], item)
	}

	cache := newUncleCache()
	for key, items := range groups {
		key, items := key, items
		sort.Slice(items, func(a, b int) bool { return items[a].tag.Number < items[b].tag.Number })
		for _, seg := range contiguousSegments(items) {
			seg := seg
			tasks = append(tasks, func() { runGroupSegment(rc, key, seg, out, cache) })
		}
	}

	// Every remaining task is an independent Portal/upstream round trip;
	// run them concurrently the same way the teacher fanned calls out
	// across providers, bounded by the caller's context.
	fanout.Run(rc.Ctx, len(tasks), func(ctx context.Context, i int) (struct{}, error) {
		tasks[i]()
		return struct{}{}, nil
	})

	return out
}

func dispatchDirect(rc *RequestContext, r Request) Outcome {
	result, err := Dispatch(rc, r.Method, r.Params)
	return Outcome{Req: r, Result: result, Err: err}
}

func degradeEmptyResult(kind string) any {
	if kind == "trace" {
		return []shaper.M{}
	}
	return nil
}

// resolveItem extracts and resolves the block tag (and kind-specific extra
// argument) for one coalescable request. ok is false when the request
// doesn't resolve to a plain, fully-validated block number and so must be
// handled individually (pending, a parse error, an out-of-range index,
// etc.) so its exact error/edge-case behavior stays the one handlers.go
// already implements.
func resolveItem(rc *RequestContext, r Request, kind string) (coItem, bool) {
	items := decodeParams(r.Params)

	tagStr, perr := paramString(items, 0, "latest")
	if perr != nil || tagStr == "pending" {
		return coItem{}, false
	}

	tag, err := validator.ParseBlockNumber(rc.Ctx, tagStr, rc.HeadFetcher(), rc.Limits())
	if err != nil {
		return coItem{}, false
	}

	ci := coItem{req: r, tag: tag}
	switch kind {
	case "block":
		fullTx, perr := paramBool(items, 1, false)
		if perr != nil {
			return coItem{}, false
		}
		ci.fullTx = fullTx
	case "tx_by_index":
		idxStr, perr := paramString(items, 1, "0x0")
		if perr != nil {
			return coItem{}, false
		}
		idx, ierr := validator.ParseTransactionIndex(idxStr)
		if ierr != nil {
			return coItem{}, false
		}
		ci.txIndex = idx
		ci.fullTx = true
	case "trace":
		ci.fullTx = false
	}
	return ci, true
}

// contiguousSegments splits block-number-sorted items into runs of
// consecutive block numbers (duplicates stay in the same run).
func contiguousSegments(items []coItem) [][]coItem {
	var segs [][]coItem
	var cur []coItem
	for _, it := range items {
		if len(cur) > 0 {
			prev := cur[len(cur)-1].tag.Number
			if it.tag.Number > prev+1 {
				segs = append(segs, cur)
				cur = nil
			}
		}
		cur = append(cur, it)
	}
	if len(cur) > 0 {
		segs = append(segs, cur)
	}
	return segs
}

// runGroupSegment issues one Portal stream for a contiguous run of block
// numbers sharing a group key, then shapes each item's own result out of
// the shared fetch.
func runGroupSegment(rc *RequestContext, key groupKey, seg []coItem, out []Outcome, cache *uncleCache) {
	from := seg[0].tag.Number
	to := seg[len(seg)-1].tag.Number

	fields := map[string]portal.FieldSelection{
		"block": portal.BlockFields(true),
	}
	switch key.kind {
	case "block":
		fields["transaction"] = portal.TransactionFields(key.fullTx)
	case "tx_by_index":
		fields["transaction"] = portal.TransactionFields(true)
	case "trace":
		fields["transaction"] = portal.TransactionFields(false)
		fields["trace"] = portal.TraceFields()
	}

	req := portal.RangeRequest{Type: "block", FromBlock: from, ToBlock: &to, Fields: fields}
	result, err := rc.Portal.StreamBlocks(rc.Ctx, rc.Chain.BaseURL, key.useFinalized, req, rc.Traceparent, rc.FinalizedHeads.Observe)
	if err != nil {
		e := errs.As(err)
		for _, it := range seg {
			out[it.pos] = Outcome{Req: it.req, Err: e}
		}
		return
	}

	byNumber := make(map[uint64]portal.BlockRecord, len(result.Blocks))
	for _, rec := range result.Blocks {
		n, numErr := rec.Header.Number.Int64()
		if numErr == nil {
			byNumber[uint64(n)] = rec
		}
	}

	for _, it := range seg {
		rec, ok := byNumber[it.tag.Number]
		if !ok {
			out[it.pos] = Outcome{Req: it.req, Result: degradeEmptyResult(key.kind)}
			continue
		}
		switch key.kind {
		case "block":
			out[it.pos] = Outcome{Req: it.req, Result: shapeBlockCached(rc, rec, it.fullTx, cache)}
		case "tx_by_index":
			if it.txIndex >= uint64(len(rec.Transactions)) {
				out[it.pos] = Outcome{Req: it.req, Result: nil}
				continue
			}
			out[it.pos] = Outcome{Req: it.req, Result: shaper.Transaction(rec.Transactions[it.txIndex])}
		case "trace":
			loc := &shaper.TxLocator{Hashes: hashesOf(rec.Transactions)}
			traces := make([]shaper.M, 0, len(rec.Traces))
			for i, t := range rec.Traces {
				traces = append(traces, shaper.Trace(t, loc, i))
			}
			out[it.pos] = Outcome{Req: it.req, Result: traces}
		}
	}
}

// shapeBlockCached is shapeBlock with the upstream uncle lookup
// deduplicated per block number across the whole batch.
func shapeBlockCached(rc *RequestContext, rec portal.BlockRecord, fullTx bool, cache *uncleCache) shaper.M {
	var txObjects []shaper.M
	if fullTx {
		txObjects = make([]shaper.M, 0, len(rec.Transactions))
		for _, tx := range rec.Transactions {
			txObjects = append(txObjects, shaper.Transaction(tx))
		}
	}
	uncles := cache.fetch(rc, rec.Header.Number)
	return shaper.Block(rec, txObjects, uncles)
}
