// Package shaper converts Portal's columnar block/tx/log/trace records into
// the canonical EVM JSON-RPC object shapes Ethereum clients expect (spec.md
// §4.5, component C5).
package shaper

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/quantity"
)

// M is a shaped JSON-RPC object, kept as an ordinary map so the shaper can
// freely omit absent fields per spec.md §4.5 without a struct-tag dance for
// every optional EIP.
type M map[string]any

func numHex(n json.Number) string {
	if n == "" {
		return quantity.QuantityHex(nil)
	}
	bi, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return quantity.QuantityHex(nil)
	}
	return quantity.QuantityHex(bi)
}

func optNumHex(n *json.Number) (string, bool) {
	if n == nil {
		return "", false
	}
	return numHex(*n), true
}

func nonceHex(raw string) string {
	if strings.HasPrefix(raw, "0x") {
		return strings.ToLower(raw)
	}
	bi, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "0x0000000000000000"
	}
	return hexutil.EncodeBig(bi)
}

// Block shapes a Portal BlockRecord into the canonical eth_getBlockByNumber
// result. txObjects, when non-nil, replaces the bare tx-hash list with fully
// shaped transaction objects (fullTx=true). uncles, when non-nil, overrides
// the default empty uncles array (see enrichment, spec.md §4.7).
func Block(rec portal.BlockRecord, txObjects []M, uncles []string) M {
	h := rec.Header
	b := M{
		"number":           numHex(h.Number),
		"hash":             h.Hash,
		"parentHash":       h.ParentHash,
		"timestamp":        numHex(h.Timestamp),
		"miner":            h.Miner,
		"gasUsed":          numHex(h.GasUsed),
		"gasLimit":         numHex(h.GasLimit),
		"difficulty":       numHex(h.Difficulty),
		"size":             numHex(h.Size),
		"stateRoot":        h.StateRoot,
		"transactionsRoot": h.TransactionsRoot,
		"receiptsRoot":     h.ReceiptsRoot,
		"logsBloom":        h.LogsBloom,
		"extraData":        h.ExtraData,
		"mixHash":          h.MixHash,
		"sha3Uncles":       h.Sha3Uncles,
		"nonce":            nonceHex(h.Nonce),
	}
	if h.TotalDifficulty != "" {
		b["totalDifficulty"] = numHex(h.TotalDifficulty)
	}
	if h.BaseFeePerGas != nil {
		b["baseFeePerGas"] = numHex(*h.BaseFeePerGas)
	}
	if h.BlobGasUsed != nil {
		b["blobGasUsed"] = numHex(*h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		b["excessBlobGas"] = numHex(*h.ExcessBlobGas)
	}
	if h.WithdrawalsRoot != nil {
		b["withdrawalsRoot"] = *h.WithdrawalsRoot
	}
	if h.ParentBeaconBlockRoot != nil {
		b["parentBeaconBlockRoot"] = *h.ParentBeaconBlockRoot
	}
	if len(rec.Withdrawals) > 0 {
		ws := make([]M, 0, len(rec.Withdrawals))
		for _, w := range rec.Withdrawals {
			ws = append(ws, M{
				"index":          numHex(w.Index),
				"validatorIndex": numHex(w.ValidatorIndex),
				"address":        w.Address,
				"amount":         numHex(w.Amount),
			})
		}
		b["withdrawals"] = ws
	}

	if txObjects != nil {
		b["transactions"] = txObjects
	} else {
		hashes := make([]string, 0, len(rec.Transactions))
		for _, tx := range rec.Transactions {
			hashes = append(hashes, tx.Hash)
		}
		b["transactions"] = hashes
	}

	if uncles != nil {
		b["uncles"] = uncles
	} else {
		b["uncles"] = []string{}
	}
	return b
}

// Transaction shapes a Portal transaction record into the canonical
// eth_getTransactionBy* / block.transactions[i] object.
func Transaction(tx portal.Transaction) M {
	out := M{
		"blockHash":        tx.BlockHash,
		"blockNumber":      numHex(tx.BlockNumber),
		"transactionIndex": numHex(tx.TransactionIndex),
		"hash":             tx.Hash,
		"from":             tx.From,
		"value":            numHex(tx.Value),
		"input":            tx.Input,
		"nonce":            numHex(tx.Nonce),
		"gas":              numHex(tx.Gas),
		"type":             numHex(tx.Type),
	}
	if tx.To != nil {
		out["to"] = *tx.To
	} else {
		out["to"] = nil
	}
	if v, ok := optNumHex(tx.GasPrice); ok {
		out["gasPrice"] = v
	}
	if v, ok := optNumHex(tx.MaxFeePerGas); ok {
		out["maxFeePerGas"] = v
	}
	if v, ok := optNumHex(tx.MaxPriorityFeePerGas); ok {
		out["maxPriorityFeePerGas"] = v
	}
	if v, ok := optNumHex(tx.ChainId); ok {
		out["chainId"] = v
	}
	if v, ok := optNumHex(tx.YParity); ok {
		out["yParity"] = v
	}
	if len(tx.AccessList) > 0 {
		out["accessList"] = json.RawMessage(tx.AccessList)
	}
	if v, ok := optNumHex(tx.MaxFeePerBlobGas); ok {
		out["maxFeePerBlobGas"] = v
	}
	if len(tx.BlobVersionedHashes) > 0 {
		out["blobVersionedHashes"] = tx.BlobVersionedHashes
	}
	if len(tx.V) > 0 {
		out["v"] = json.RawMessage(tx.V)
	}
	if len(tx.R) > 0 {
		out["r"] = json.RawMessage(tx.R)
	}
	if len(tx.S) > 0 {
		out["s"] = json.RawMessage(tx.S)
	}
	return out
}

// Log shapes a Portal log record into the canonical eth_getLogs entry.
func Log(l portal.Log) M {
	return M{
		"blockHash":        l.BlockHash,
		"blockNumber":      numHex(l.BlockNumber),
		"transactionIndex": numHex(l.TransactionIndex),
		"transactionHash":  l.TransactionHash,
		"logIndex":         numHex(l.LogIndex),
		"address":          strings.ToLower(l.Address),
		"data":             l.Data,
		"topics":           l.Topics,
		"removed":          false,
	}
}

// TxLocator resolves transactionHash for a trace from the block's own
// transaction list, matching on array index.
type TxLocator struct {
	Hashes []string
}

// Trace shapes a Portal trace record into the canonical trace_* entry.
func Trace(t portal.Trace, loc *TxLocator, traceIndex int) M {
	action := M{}
	setIf := func(k string, v *string) {
		if v != nil {
			action[k] = *v
		}
	}
	setIf("from", t.CallFrom)
	setIf("to", t.CallTo)
	setIf("value", t.CallValue)
	setIf("gas", t.CallGas)
	setIf("input", t.CallInput)
	setIf("callType", t.CallType)
	setIf("init", t.Init)
	setIf("address", t.Address)
	setIf("balance", t.Balance)
	setIf("refundAddress", t.RefundAddress)
	setIf("author", t.Author)
	setIf("rewardType", t.RewardType)

	out := M{
		"action":       action,
		"type":         t.Type,
		"subtraces":    t.Subtraces,
		"traceAddress": t.TraceAddress,
	}

	if t.Error != nil {
		out["error"] = *t.Error
	} else {
		result := M{}
		has := false
		if t.CallResultGasUsed != nil {
			result["gasUsed"] = *t.CallResultGasUsed
			has = true
		}
		if t.CallResultOutput != nil {
			result["output"] = *t.CallResultOutput
			has = true
		}
		if t.CreateResultGasUsed != nil {
			result["gasUsed"] = *t.CreateResultGasUsed
			has = true
		}
		if t.CreateResultCode != nil {
			result["code"] = *t.CreateResultCode
			has = true
		}
		if t.CreateResultAddress != nil {
			result["address"] = *t.CreateResultAddress
			has = true
		}
		if has {
			out["result"] = result
		}
	}
	if t.RevertReason != nil {
		out["revertReason"] = *t.RevertReason
	}

	if t.TransactionHash != nil {
		out["transactionHash"] = *t.TransactionHash
	} else if loc != nil && traceIndex >= 0 && traceIndex < len(loc.Hashes) {
		out["transactionHash"] = loc.Hashes[traceIndex]
	}
	if t.TransactionPosition != nil {
		out["transactionPosition"] = numHex(*t.TransactionPosition)
	}
	return out
}
