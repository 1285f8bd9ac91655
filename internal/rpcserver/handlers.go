package rpcserver

import (
	"encoding/json"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/quantity"
	"github.com/sqd-community/portal-evm-gateway/internal/shaper"
	"github.com/sqd-community/portal-evm-gateway/internal/validator"
)

// HandlerFunc resolves one JSON-RPC method against a bound RequestContext.
// A nil result with a nil error means a JSON null result (the canonical
// "not found" for object-returning methods).
type HandlerFunc func(rc *RequestContext, params json.RawMessage) (any, *errs.Error)

var methodTable = map[string]HandlerFunc{
	"eth_chainId":                              handleChainID,
	"eth_blockNumber":                           handleBlockNumber,
	"eth_getBlockByNumber":                      handleGetBlockByNumber,
	"eth_getBlockByHash":                        handleGetBlockByHash,
	"eth_getTransactionByHash":                  handleGetTransactionByHash,
	"eth_getTransactionReceipt":                 handleGetTransactionReceipt,
	"eth_getTransactionByBlockNumberAndIndex":   handleGetTransactionByBlockNumberAndIndex,
	"eth_getLogs":                               handleGetLogs,
	"trace_block":                               handleTraceBlock,
	"trace_transaction":                         handleTraceTransaction,
}

// Dispatch resolves and invokes the handler for method, or returns
// unsupported_method when none is registered (spec.md §4.7).
func Dispatch(rc *RequestContext, method string, params json.RawMessage) (any, *errs.Error) {
	h, ok := methodTable[method]
	if !ok {
		return nil, errs.New(errs.CategoryUnsupportedMethod, "unsupported method: "+method)
	}
	return h(rc, params)
}

// decodeParams splits a params value (array, object, or absent) into its
// positional items. JSON-RPC allows object-shaped params, but every method
// this gateway serves is positional, so an object is treated as having no
// usable positions.
func decodeParams(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		return arr
	}
	return nil
}

func paramAt(items []json.RawMessage, i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(items) {
		return nil, false
	}
	return items[i], true
}

func paramString(items []json.RawMessage, i int, def string) (string, *errs.Error) {
	raw, ok := paramAt(items, i)
	if !ok || string(raw) == "null" {
		return def, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errs.New(errs.CategoryInvalidParams, "invalid params: expected a string")
	}
	return s, nil
}

func paramBool(items []json.RawMessage, i int, def bool) (bool, *errs.Error) {
	raw, ok := paramAt(items, i)
	if !ok || string(raw) == "null" {
		return def, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, errs.New(errs.CategoryInvalidParams, "invalid params: expected a boolean")
	}
	return b, nil
}

func handleChainID(rc *RequestContext, _ json.RawMessage) (any, *errs.Error) {
	return quantity.QuantityHexUint64(uint64(rc.Chain.ChainID)), nil
}

func handleBlockNumber(rc *RequestContext, _ json.RawMessage) (any, *errs.Error) {
	h, err := rc.Head(rc.Ctx, false)
	if err != nil {
		return nil, errs.As(err)
	}
	return quantity.QuantityHexUint64(h.Number), nil
}

// belowStartBlock reports whether n predates the dataset's known start
// block, the "block not found" case a fresh Portal dataset produces for
// history it was never backfilled with (spec.md §3 "dataset start block").
func belowStartBlock(rc *RequestContext, n uint64) (bool, *errs.Error) {
	sb, err := rc.StartBlock(rc.Ctx)
	if err != nil {
		return false, errs.As(err)
	}
	return sb != nil && n < *sb, nil
}

func handleGetBlockByNumber(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	items := decodeParams(params)
	tagStr, perr := paramString(items, 0, "latest")
	if perr != nil {
		return nil, perr
	}
	fullTx, perr := paramBool(items, 1, false)
	if perr != nil {
		return nil, perr
	}

	if tagStr == "pending" {
		if rc.HasUpstream && rc.Cfg.UpstreamMethodsEnabled {
			return proxyUpstream(rc, "eth_getBlockByNumber", params)
		}
		return nil, errs.New(errs.CategoryInvalidParams, "invalid params: pending block not found")
	}

	tag, err := validator.ParseBlockNumber(rc.Ctx, tagStr, rc.HeadFetcher(), rc.Limits())
	if err != nil {
		return nil, errs.As(err)
	}
	below, berr := belowStartBlock(rc, tag.Number)
	if berr != nil {
		return nil, berr
	}
	if below {
		return nil, nil
	}

	blocks, serr := fetchBlockRange(rc, tag.Number, tag.Number, tag.UseFinalized, fullTx, true)
	if serr != nil {
		return nil, serr
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	return shapeBlock(rc, blocks[0], fullTx), nil
}

func handleGetTransactionByBlockNumberAndIndex(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	items := decodeParams(params)
	tagStr, perr := paramString(items, 0, "latest")
	if perr != nil {
		return nil, perr
	}
	idxStr, perr := paramString(items, 1, "0x0")
	if perr != nil {
		return nil, perr
	}

	tag, err := validator.ParseBlockNumber(rc.Ctx, tagStr, rc.HeadFetcher(), rc.Limits())
	if err != nil {
		return nil, errs.As(err)
	}
	idx, ierr := validator.ParseTransactionIndex(idxStr)
	if ierr != nil {
		return nil, errs.As(ierr)
	}
	below, berr := belowStartBlock(rc, tag.Number)
	if berr != nil {
		return nil, berr
	}
	if below {
		return nil, nil
	}

	blocks, serr := fetchBlockRange(rc, tag.Number, tag.Number, tag.UseFinalized, true, false)
	if serr != nil {
		return nil, serr
	}
	if len(blocks) == 0 || idx >= uint64(len(blocks[0].Transactions)) {
		return nil, nil
	}
	return shaper.Transaction(blocks[0].Transactions[idx]), nil
}

func handleGetLogs(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	items := decodeParams(params)
	raw, ok := paramAt(items, 0)
	if !ok {
		return nil, errs.New(errs.CategoryInvalidParams, "invalid params: filter object required")
	}

	var probe struct {
		FromBlock *string `json:"fromBlock"`
		ToBlock   *string `json:"toBlock"`
		Address   json.RawMessage `json:"address"`
		Topics    []any   `json:"topics"`
		BlockHash *string `json:"blockHash"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errs.New(errs.CategoryInvalidParams, "invalid params: invalid filter object")
	}
	addresses, aerr := decodeAddressField(probe.Address)
	if aerr != nil {
		return nil, aerr
	}

	input := validator.LogFilterInput{
		FromBlock: probe.FromBlock,
		ToBlock:   probe.ToBlock,
		Address:   addresses,
		Topics:    probe.Topics,
		BlockHash: probe.BlockHash,
	}

	parsed, err := validator.ParseLogFilter(rc.Ctx, input, rc.HeadFetcher(), rc.Limits())
	if err != nil {
		if err == validator.ErrBlockHashFilter {
			if rc.HasUpstream && rc.Cfg.UpstreamMethodsEnabled {
				return proxyUpstream(rc, "eth_getLogs", params)
			}
			return nil, validator.ErrBlockHashFilter
		}
		return nil, errs.As(err)
	}

	fromBlock := parsed.FromBlock
	sb, serr := rc.StartBlock(rc.Ctx)
	if serr != nil {
		return nil, errs.As(serr)
	}
	if sb != nil {
		if *sb > parsed.ToBlock {
			return []shaper.M{}, nil
		}
		if fromBlock < *sb {
			fromBlock = *sb
		}
	}

	to := parsed.ToBlock
	req := portal.RangeRequest{
		Type:      "logs",
		FromBlock: fromBlock,
		ToBlock:   &to,
		Fields: map[string]portal.FieldSelection{
			"block": portal.BlockFields(false),
			"log":   portal.LogFields(),
		},
		Logs: []portal.LogFilter{{Address: parsed.Addresses, Topics: parsed.Topics}},
	}

	result, perr := rc.Portal.StreamBlocks(rc.Ctx, rc.Chain.BaseURL, parsed.UseFinalized, req, rc.Traceparent, rc.FinalizedHeads.Observe)
	if perr != nil {
		return nil, errs.As(perr)
	}

	out := make([]shaper.M, 0)
	for _, blk := range result.Blocks {
		for _, l := range blk.Logs {
			out = append(out, shaper.Log(l))
		}
	}
	return out, nil
}

func decodeAddressField(raw json.RawMessage) ([]string, *errs.Error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if json.Unmarshal(raw, &single) == nil {
		return []string{single}, nil
	}
	var many []string
	if json.Unmarshal(raw, &many) == nil {
		return many, nil
	}
	return nil, errs.New(errs.CategoryInvalidParams, "invalid params: address must be a string or array of strings")
}

func handleTraceBlock(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	items := decodeParams(params)
	tagStr, perr := paramString(items, 0, "latest")
	if perr != nil {
		return nil, perr
	}

	if tagStr == "pending" {
		if rc.HasUpstream && rc.Cfg.UpstreamMethodsEnabled {
			return proxyUpstream(rc, "trace_block", params)
		}
		return nil, errs.New(errs.CategoryInvalidParams, "invalid params: pending block not found")
	}

	tag, err := validator.ParseBlockNumber(rc.Ctx, tagStr, rc.HeadFetcher(), rc.Limits())
	if err != nil {
		return nil, errs.As(err)
	}
	below, berr := belowStartBlock(rc, tag.Number)
	if berr != nil {
		return nil, berr
	}
	if below {
		return []shaper.M{}, nil
	}

	req := portal.RangeRequest{
		Type:      "block",
		FromBlock: tag.Number,
		ToBlock:   &tag.Number,
		Fields: map[string]portal.FieldSelection{
			"block":       portal.BlockFields(false),
			"transaction": portal.TransactionFields(false),
			"trace":       portal.TraceFields(),
		},
	}
	result, serr := rc.Portal.StreamBlocks(rc.Ctx, rc.Chain.BaseURL, tag.UseFinalized, req, rc.Traceparent, rc.FinalizedHeads.Observe)
	if serr != nil {
		return nil, errs.As(serr)
	}
	if len(result.Blocks) == 0 {
		return []shaper.M{}, nil
	}

	blk := result.Blocks[0]
	loc := &shaper.TxLocator{Hashes: hashesOf(blk.Transactions)}
	out := make([]shaper.M, 0, len(blk.Traces))
	for i, t := range blk.Traces {
		out = append(out, shaper.Trace(t, loc, i))
	}
	return out, nil
}

func hashesOf(txs []portal.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.Hash
	}
	return out
}

// fetchBlockRange streams the blocks in the number range [from, to]
// (used with from==to by the block/txByIndex handlers), selecting
// transaction fullness per caller need. includeWithdrawals does not change
// the request: no withdrawal selection is sent to Portal.
func fetchBlockRange(rc *RequestContext, from, to uint64, useFinalized, fullTx, includeWithdrawals bool) ([]portal.BlockRecord, *errs.Error) {
	req := portal.RangeRequest{
		Type:      "block",
		FromBlock: from,
		ToBlock:   &to,
		Fields: map[string]portal.FieldSelection{
			"block":       portal.BlockFields(true),
			"transaction": portal.TransactionFields(fullTx),
		},
	}
	result, err := rc.Portal.StreamBlocks(rc.Ctx, rc.Chain.BaseURL, useFinalized, req, rc.Traceparent, rc.FinalizedHeads.Observe)
	if err != nil {
		return nil, errs.As(err)
	}
	return result.Blocks, nil
}

// shapeBlock renders a Portal block record as the canonical
// eth_getBlockByNumber/eth_getBlockByHash result, enriching uncles from the
// upstream node when one is configured.
func shapeBlock(rc *RequestContext, rec portal.BlockRecord, fullTx bool) shaper.M {
	var txObjects []shaper.M
	if fullTx {
		txObjects = make([]shaper.M, 0, len(rec.Transactions))
		for _, tx := range rec.Transactions {
			txObjects = append(txObjects, shaper.Transaction(tx))
		}
	}
	uncles := fetchUncles(rc, rec.Header.Number)
	return shaper.Block(rec, txObjects, uncles)
}

// fetchUncles enriches a block with its uncle hash list via the upstream
// node, per spec.md §4.7; Portal itself carries no uncle data. Any failure
// or absence of an upstream degrades to an empty list, never an error.
func fetchUncles(rc *RequestContext, number json.Number) []string {
	if !rc.HasUpstream || !rc.Cfg.UpstreamMethodsEnabled {
		return nil
	}
	n, err := number.Int64()
	if err != nil {
		return nil
	}
	raw, ferr := rc.Upstream.Forward(rc.Ctx, rc.UpstreamURL, "eth_getBlockByNumber", []any{quantity.QuantityHexUint64(uint64(n)), false}, rc.Traceparent)
	if ferr != nil {
		return nil
	}
	var block struct {
		Uncles []string `json:"uncles"`
	}
	if json.Unmarshal(raw, &block) != nil {
		return nil
	}
	return block.Uncles
}

// proxyUpstream forwards a method this gateway doesn't serve from Portal
// data to the configured upstream node, passing its params through
// unmodified (spec.md §4.6).
func proxyUpstream(rc *RequestContext, method string, params json.RawMessage) (any, *errs.Error) {
	if !rc.HasUpstream || !rc.Cfg.UpstreamMethodsEnabled {
		return nil, errs.New(errs.CategoryUnsupportedMethod, "unsupported method: "+method)
	}
	var p any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errs.New(errs.CategoryInvalidParams, "invalid params")
		}
	}
	raw, err := rc.Upstream.Forward(rc.Ctx, rc.UpstreamURL, method, p, rc.Traceparent)
	if err != nil {
		return nil, errs.As(err)
	}
	return raw, nil
}

func handleGetBlockByHash(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	return proxyUpstream(rc, "eth_getBlockByHash", params)
}

func handleGetTransactionByHash(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	return proxyUpstream(rc, "eth_getTransactionByHash", params)
}

func handleGetTransactionReceipt(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	return proxyUpstream(rc, "eth_getTransactionReceipt", params)
}

func handleTraceTransaction(rc *RequestContext, params json.RawMessage) (any, *errs.Error) {
	return proxyUpstream(rc, "trace_transaction", params)
}
