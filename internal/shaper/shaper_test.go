package shaper

import (
	"encoding/json"
	"testing"

	"github.com/sqd-community/portal-evm-gateway/internal/portal"
)

func strp(s string) *string { return &s }
func jnp(s string) *json.Number {
	n := json.Number(s)
	return &n
}

func TestBlockHashOnlyTransactionsByDefault(t *testing.T) {
	rec := portal.BlockRecord{
		Header: portal.Header{Number: "100", Hash: "0xblock", Timestamp: "1700000000"},
		Transactions: []portal.Transaction{
			{Hash: "0xtx1"},
			{Hash: "0xtx2"},
		},
	}
	b := Block(rec, nil, nil)
	if b["number"] != "0x64" {
		t.Errorf("number = %v, want 0x64", b["number"])
	}
	txs, ok := b["transactions"].([]string)
	if !ok || len(txs) != 2 || txs[0] != "0xtx1" {
		t.Errorf("transactions = %v, want hash-only list", b["transactions"])
	}
	if uncles, ok := b["uncles"].([]string); !ok || len(uncles) != 0 {
		t.Errorf("uncles = %v, want empty slice", b["uncles"])
	}
}

func TestBlockFullTransactionsAndUncles(t *testing.T) {
	rec := portal.BlockRecord{
		Header: portal.Header{Number: "100", Hash: "0xblock", Timestamp: "1700000000"},
		Transactions: []portal.Transaction{
			{Hash: "0xtx1"},
		},
	}
	txObjects := []M{Transaction(rec.Transactions[0])}
	b := Block(rec, txObjects, []string{"0xuncle1"})

	txs, ok := b["transactions"].([]M)
	if !ok || len(txs) != 1 {
		t.Fatalf("transactions = %v, want 1 shaped object", b["transactions"])
	}
	uncles, ok := b["uncles"].([]string)
	if !ok || len(uncles) != 1 || uncles[0] != "0xuncle1" {
		t.Errorf("uncles = %v, want [0xuncle1]", b["uncles"])
	}
}

func TestBlockOptionalEIPFields(t *testing.T) {
	rec := portal.BlockRecord{
		Header: portal.Header{
			Number:        "1",
			Hash:          "0xblock",
			Timestamp:     "1",
			BaseFeePerGas: jnp("1000000000"),
			BlobGasUsed:   jnp("131072"),
		},
	}
	b := Block(rec, nil, nil)
	if b["baseFeePerGas"] == nil {
		t.Error("expected baseFeePerGas to be present")
	}
	if b["blobGasUsed"] == nil {
		t.Error("expected blobGasUsed to be present")
	}
	if _, ok := b["withdrawalsRoot"]; ok {
		t.Error("withdrawalsRoot should be absent when not set on the header")
	}
}

func TestBlockWithdrawals(t *testing.T) {
	rec := portal.BlockRecord{
		Header: portal.Header{Number: "1", Hash: "0xblock", Timestamp: "1"},
		Withdrawals: []portal.Withdrawal{
			{Index: "1", ValidatorIndex: "2", Address: "0xaddr", Amount: "3"},
		},
	}
	b := Block(rec, nil, nil)
	ws, ok := b["withdrawals"].([]M)
	if !ok || len(ws) != 1 {
		t.Fatalf("withdrawals = %v, want 1 entry", b["withdrawals"])
	}
	if ws[0]["index"] != "0x1" {
		t.Errorf("withdrawal index = %v, want 0x1", ws[0]["index"])
	}
}

func TestTransactionOptionalFields(t *testing.T) {
	tx := portal.Transaction{
		Hash:         "0xtx",
		To:           strp("0xto"),
		GasPrice:     jnp("1000"),
		MaxFeePerGas: jnp("2000"),
		ChainId:      jnp("1"),
	}
	out := Transaction(tx)
	if out["to"] != "0xto" {
		t.Errorf("to = %v, want 0xto", out["to"])
	}
	if out["gasPrice"] != "0x3e8" {
		t.Errorf("gasPrice = %v, want 0x3e8", out["gasPrice"])
	}
	if out["chainId"] != "0x1" {
		t.Errorf("chainId = %v, want 0x1", out["chainId"])
	}
	if _, ok := out["maxPriorityFeePerGas"]; ok {
		t.Error("maxPriorityFeePerGas should be absent when unset")
	}
}

func TestTransactionContractCreationToIsNil(t *testing.T) {
	out := Transaction(portal.Transaction{Hash: "0xtx"})
	if v, ok := out["to"]; !ok || v != nil {
		t.Errorf("to = %v, want explicit nil", v)
	}
}

func TestLogLowercasesAddress(t *testing.T) {
	l := portal.Log{
		BlockHash: "0xb", Address: "0xABCDEF0000000000000000000000000000000000",
		Topics: []string{"0xt1"},
	}
	out := Log(l)
	if out["address"] != "0xabcdef0000000000000000000000000000000000" {
		t.Errorf("address = %v, want lowercased", out["address"])
	}
	if out["removed"] != false {
		t.Errorf("removed = %v, want false", out["removed"])
	}
}

func TestTraceCallAction(t *testing.T) {
	tr := portal.Trace{
		Type:      "call",
		CallFrom:  strp("0xfrom"),
		CallTo:    strp("0xto"),
		Subtraces: "0",
	}
	loc := &TxLocator{Hashes: []string{"0xtx0", "0xtx1"}}
	out := Trace(tr, loc, 1)

	action, ok := out["action"].(M)
	if !ok || action["from"] != "0xfrom" || action["to"] != "0xto" {
		t.Errorf("action = %v", out["action"])
	}
	if out["transactionHash"] != "0xtx1" {
		t.Errorf("transactionHash = %v, want locator fallback 0xtx1", out["transactionHash"])
	}
}

func TestTraceErrorOmitsResult(t *testing.T) {
	tr := portal.Trace{Type: "call", Error: strp("out of gas")}
	out := Trace(tr, nil, 0)
	if out["error"] != "out of gas" {
		t.Errorf("error = %v, want out of gas", out["error"])
	}
	if _, ok := out["result"]; ok {
		t.Error("result should be absent when the trace errored")
	}
}

func TestTraceExplicitTransactionHashWins(t *testing.T) {
	tr := portal.Trace{Type: "call", TransactionHash: strp("0xexplicit")}
	loc := &TxLocator{Hashes: []string{"0xfallback"}}
	out := Trace(tr, loc, 0)
	if out["transactionHash"] != "0xexplicit" {
		t.Errorf("transactionHash = %v, want 0xexplicit", out["transactionHash"])
	}
}
