// Package validator implements block-tag, transaction-index, and log-filter
// parsing and validation (spec.md §4.4, component C4).
package validator

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/quantity"
)

// Limits bounds validator behavior from configuration.
type Limits struct {
	MaxLogBlockRange uint64
	MaxLogAddresses  int
	MaxBlockNumber   uint64
}

// BlockTag is the parsed form of a block number/tag parameter.
type BlockTag struct {
	Number       uint64
	UseFinalized bool
}

// HeadFetcher resolves Portal's head for the purposes of tag resolution; the
// gateway supplies one backed by the per-request memoization map.
type HeadFetcher func(ctx context.Context, finalized bool) (portal.Head, error)

// ParseBlockNumber implements spec.md §4.4 parseBlockNumber.
func ParseBlockNumber(ctx context.Context, value string, head HeadFetcher, limits Limits) (BlockTag, error) {
	switch value {
	case "", "latest":
		h, err := head(ctx, false)
		if err != nil {
			return BlockTag{}, err
		}
		return BlockTag{Number: h.Number, UseFinalized: false}, nil
	case "finalized", "safe":
		h, err := head(ctx, true)
		if err != nil {
			return BlockTag{}, err
		}
		return BlockTag{Number: h.Number, UseFinalized: h.FinalizedAvailable}, nil
	case "earliest":
		return BlockTag{Number: 0, UseFinalized: false}, nil
	case "pending":
		return BlockTag{}, errs.New(errs.CategoryInvalidParams, "invalid params: pending block not found")
	}

	n, err := quantity.ParseUint53(value)
	if err != nil {
		return BlockTag{}, errs.Newf(errs.CategoryInvalidParams, "invalid params: invalid block number: %s", err.Error())
	}
	if n > limits.MaxBlockNumber {
		return BlockTag{}, errs.New(errs.CategoryInvalidParams, "invalid params: invalid block number: exceeds max block number")
	}
	return BlockTag{Number: n, UseFinalized: false}, nil
}

// ParseTransactionIndex implements spec.md §4.4 parseTransactionIndex.
func ParseTransactionIndex(value string) (uint64, error) {
	n, err := quantity.ParseDecimalOrHexUint(value)
	if err != nil {
		return 0, errs.Newf(errs.CategoryInvalidParams, "invalid params: invalid transaction index: %s", err.Error())
	}
	return n, nil
}

// LogFilterInput is the raw JSON-RPC eth_getLogs filter object.
type LogFilterInput struct {
	FromBlock *string
	ToBlock   *string
	Address   []string
	Topics    []any
	BlockHash *string
}

// ParsedLogFilter is the validated, normalized filter ready for a Portal
// request, or a signal that the caller must fall back to blockHash handling.
type ParsedLogFilter struct {
	FromBlock    uint64
	ToBlock      uint64
	UseFinalized bool
	Addresses    []string
	Topics       [][]string
}

// ParseLogFilter implements spec.md §4.4 parseLogFilter. A filter carrying
// blockHash returns ErrBlockHashFilter so the caller can decide between
// upstream fallback and an error.
var ErrBlockHashFilter = errs.New(errs.CategoryInvalidParams, "invalid params: blockHash filter not supported")

func ParseLogFilter(ctx context.Context, f LogFilterInput, head HeadFetcher, limits Limits) (ParsedLogFilter, error) {
	if f.BlockHash != nil {
		if f.FromBlock != nil || f.ToBlock != nil {
			return ParsedLogFilter{}, errs.New(errs.CategoryInvalidParams, "invalid params: blockHash cannot be combined with fromBlock/toBlock")
		}
		return ParsedLogFilter{}, ErrBlockHashFilter
	}

	var toTag, fromTag BlockTag
	var err error
	if f.ToBlock != nil {
		toTag, err = ParseBlockNumber(ctx, *f.ToBlock, head, limits)
	} else {
		toTag, err = ParseBlockNumber(ctx, "latest", head, limits)
	}
	if err != nil {
		return ParsedLogFilter{}, err
	}

	if f.FromBlock != nil {
		fromTag, err = ParseBlockNumber(ctx, *f.FromBlock, head, limits)
		if err != nil {
			return ParsedLogFilter{}, err
		}
	} else {
		fromTag = toTag
	}

	if fromTag.Number > toTag.Number {
		return ParsedLogFilter{}, errs.New(errs.CategoryInvalidParams, "invalid params: invalid block range")
	}
	rangeLen := toTag.Number - fromTag.Number + 1
	if rangeLen > limits.MaxLogBlockRange {
		return ParsedLogFilter{}, errs.Newf(errs.CategoryRangeTooLarge, "range too large; max block range %d", limits.MaxLogBlockRange)
	}

	if len(f.Address) > limits.MaxLogAddresses {
		return ParsedLogFilter{}, errs.New(errs.CategoryTooManyAddresses, "specify less number of address")
	}
	addresses := make([]string, 0, len(f.Address))
	for _, a := range f.Address {
		if !common.IsHexAddress(a) {
			return ParsedLogFilter{}, errs.New(errs.CategoryInvalidParams, "invalid params: address must be 20 bytes")
		}
		addresses = append(addresses, strings.ToLower(a))
	}

	if len(f.Topics) > 4 {
		return ParsedLogFilter{}, errs.New(errs.CategoryInvalidParams, "invalid params: at most 4 topic positions")
	}
	topics := make([][]string, 0, len(f.Topics))
	for _, slot := range f.Topics {
		normalized, err := normalizeTopicSlot(slot)
		if err != nil {
			return ParsedLogFilter{}, err
		}
		topics = append(topics, normalized)
	}

	return ParsedLogFilter{
		FromBlock:    fromTag.Number,
		ToBlock:      toTag.Number,
		UseFinalized: toTag.UseFinalized,
		Addresses:    addresses,
		Topics:       topics,
	}, nil
}

// normalizeTopicSlot handles one topics[] entry: nil (wildcard), a single
// topic string, or an array of alternative topic strings.
func normalizeTopicSlot(slot any) ([]string, error) {
	switch t := slot.(type) {
	case nil:
		return nil, nil
	case string:
		h, err := quantity.HexBytes("topic", t, 32)
		if err != nil {
			return nil, err
		}
		return []string{h}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errs.New(errs.CategoryInvalidParams, "invalid params: topic must be a hex string")
			}
			h, err := quantity.HexBytes("topic", s, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, h)
		}
		return out, nil
	default:
		return nil, errs.New(errs.CategoryInvalidParams, "invalid params: invalid topic entry")
	}
}
