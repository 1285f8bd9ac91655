package rpcserver

import (
	"encoding/json"
	"testing"
)

func TestParsePayloadSingleton(t *testing.T) {
	items, isBatch, err := ParsePayload([]byte(`{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isBatch {
		t.Error("expected a singleton, got batch")
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
}

func TestParsePayloadBatch(t *testing.T) {
	items, isBatch, err := ParsePayload([]byte(`[{"jsonrpc":"2.0","id":1,"method":"eth_chainId"},{"jsonrpc":"2.0","id":2,"method":"eth_blockNumber"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isBatch {
		t.Error("expected a batch")
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}

func TestParsePayloadEmptyBatchIsInvalidRequest(t *testing.T) {
	_, isBatch, err := ParsePayload([]byte(`[]`))
	if !isBatch {
		t.Error("expected isBatch=true even on error")
	}
	if err == nil {
		t.Fatal("expected invalid_request error for empty batch")
	}
}

func TestParsePayloadMalformedJSON(t *testing.T) {
	_, _, err := ParsePayload([]byte(`not json`))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParsePayloadEmptyBody(t *testing.T) {
	_, _, err := ParsePayload([]byte(``))
	if err == nil {
		t.Fatal("expected parse error for empty body")
	}
}

func TestValidateRequestNotification(t *testing.T) {
	req, ok := validateRequest(json.RawMessage(`{"jsonrpc":"2.0","method":"eth_chainId"}`))
	if !ok {
		t.Fatal("expected valid request")
	}
	if !req.IsNotification() {
		t.Error("request without id should be a notification")
	}
}

func TestValidateRequestRejectsWrongVersion(t *testing.T) {
	_, ok := validateRequest(json.RawMessage(`{"jsonrpc":"1.0","id":1,"method":"eth_chainId"}`))
	if ok {
		t.Error("expected invalid request for wrong jsonrpc version")
	}
}

func TestValidateRequestRejectsMissingMethod(t *testing.T) {
	_, ok := validateRequest(json.RawMessage(`{"jsonrpc":"2.0","id":1}`))
	if ok {
		t.Error("expected invalid request for missing method")
	}
}

func TestValidateRequestRejectsBadIDType(t *testing.T) {
	_, ok := validateRequest(json.RawMessage(`{"jsonrpc":"2.0","id":{},"method":"eth_chainId"}`))
	if ok {
		t.Error("expected invalid request for object id")
	}
}

func TestValidateRequestAcceptsArrayAndObjectParams(t *testing.T) {
	if _, ok := validateRequest(json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"m","params":[1,2]}`)); !ok {
		t.Error("expected array params to validate")
	}
	if _, ok := validateRequest(json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"m","params":{"a":1}}`)); !ok {
		t.Error("expected object params to validate")
	}
	if _, ok := validateRequest(json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"m","params":null}`)); !ok {
		t.Error("expected null params to validate")
	}
}

func TestSuccessResponseNilResultBecomesJSONNull(t *testing.T) {
	resp := successResponse(RawID{}, nil)
	b, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "null" {
		t.Errorf("result = %s, want null", b)
	}
}

func TestRawIDRoundTrip(t *testing.T) {
	var id RawID
	if err := json.Unmarshal([]byte(`42`), &id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "42" {
		t.Errorf("id round-trip = %s, want 42", b)
	}
}

func TestRawIDUnsetMarshalsNull(t *testing.T) {
	var id RawID
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "null" {
		t.Errorf("unset id = %s, want null", b)
	}
}
