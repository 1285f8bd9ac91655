package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
	"github.com/sqd-community/portal-evm-gateway/internal/ndjson"
)

func newTestClient(negotiable map[string]bool) *Client {
	return New(Config{
		NDJSONLimits:     ndjson.Limits{MaxLineBytes: 1 << 20, MaxBytes: 1 << 20},
		NegotiableFields: negotiable,
	})
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://portal.example/eth/stream":         "https://portal.example/eth",
		"https://portal.example/eth/":                "https://portal.example/eth",
		"https://portal.example/eth/finalized-stream": "https://portal.example/eth",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDatasetURLPlaceholder(t *testing.T) {
	got := DatasetURL("https://portal.example/{dataset}", "eth-mainnet")
	if got != "https://portal.example/eth-mainnet" {
		t.Errorf("got %q", got)
	}
}

func TestDatasetURLAppend(t *testing.T) {
	got := DatasetURL("https://portal.example", "eth-mainnet")
	if got != "https://portal.example/eth-mainnet" {
		t.Errorf("got %q", got)
	}
}

func TestHeadBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/head" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Head{Number: 100, Hash: "0xabc"})
	}))
	defer srv.Close()

	c := newTestClient(nil)
	h, err := c.Head(context.Background(), srv.URL, false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Number != 100 || h.Hash != "0xabc" {
		t.Errorf("head = %+v", h)
	}
}

func TestHeadFinalizedFallsBackOn404(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if r.URL.Path == "/finalized-head" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(Head{Number: 50, Hash: "0xhead"})
	}))
	defer srv.Close()

	c := newTestClient(nil)
	h, err := c.Head(context.Background(), srv.URL, true, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.FinalizedAvailable {
		t.Error("FinalizedAvailable should be false after fallback")
	}
	if h.Number != 50 {
		t.Errorf("number = %d, want 50", h.Number)
	}
	if len(calls) != 2 || calls[0] != "/finalized-head" || calls[1] != "/head" {
		t.Errorf("calls = %v, want [/finalized-head /head]", calls)
	}
}

func TestMetadataAbsentIs404NotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	md, err := c.Metadata(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md != nil {
		t.Errorf("metadata = %+v, want nil", md)
	}
}

func TestStatusErrorConflictCarriesPreviousBlocks(t *testing.T) {
	body := []byte(`{"previousBlocks":[1,2,3]}`)
	e := statusError(409, body)
	if e.Category != errs.CategoryConflict {
		t.Fatalf("category = %v, want conflict", e.Category)
	}
	data, ok := e.Data.(*errs.ConflictData)
	if !ok || len(data.PreviousBlocks) != 3 {
		t.Errorf("data = %+v", e.Data)
	}
}

func TestStreamBlocksNegotiatesUnknownField(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		var req RangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if attempt == 1 {
			if !req.Fields["block"]["withdrawalsRoot"] {
				t.Fatalf("expected first attempt to request withdrawalsRoot")
			}
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "unknown field `withdrawalsRoot`")
			return
		}
		if req.Fields["block"]["withdrawalsRoot"] {
			t.Fatalf("second attempt should have stripped withdrawalsRoot")
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"header":{"number":"1","hash":"0xb1","parentHash":"0xp","timestamp":"1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(map[string]bool{"withdrawalsRoot": true})
	to := uint64(1)
	req := RangeRequest{
		Type:      "block",
		FromBlock: 1,
		ToBlock:   &to,
		Fields:    map[string]FieldSelection{"block": {"number": true, "withdrawalsRoot": true}},
	}
	result, err := c.StreamBlocks(context.Background(), srv.URL, false, req, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(result.Blocks))
	}
	if attempt != 2 {
		t.Errorf("attempts = %d, want 2", attempt)
	}
}

func TestStreamBlocksResumesOnIncompleteRange(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		var req RangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/x-ndjson")
		if attempt == 1 {
			fmt.Fprintln(w, `{"header":{"number":"1","hash":"0xb1","parentHash":"0xp","timestamp":"1"}}`)
			return
		}
		if req.FromBlock != 2 {
			t.Fatalf("resume fromBlock = %d, want 2", req.FromBlock)
		}
		fmt.Fprintln(w, `{"header":{"number":"2","hash":"0xb2","parentHash":"0xb1","timestamp":"2"}}`)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	to := uint64(2)
	req := RangeRequest{
		Type:      "block",
		FromBlock: 1,
		ToBlock:   &to,
		Fields:    map[string]FieldSelection{"block": {"number": true}},
	}
	result, err := c.StreamBlocks(context.Background(), srv.URL, false, req, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(result.Blocks))
	}
	if attempt != 2 {
		t.Errorf("attempts = %d, want 2", attempt)
	}
}

func TestStreamBlocksGivesUpWhenResumeMakesNoProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"header":{"number":"1","hash":"0xb1","parentHash":"0xp","timestamp":"1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	to := uint64(5)
	req := RangeRequest{
		Type:      "block",
		FromBlock: 1,
		ToBlock:   &to,
		Fields:    map[string]FieldSelection{"block": {"number": true}},
	}
	_, err := c.StreamBlocks(context.Background(), srv.URL, false, req, "", nil)
	if err == nil {
		t.Fatal("expected an unavailable error when the range never completes")
	}
}

func TestStreamBlocksObservesFinalizedHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("finalizedHeadNumber", "99")
		w.Header().Set("finalizedHeadHash", "0xfinal")
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"header":{"number":"1","hash":"0xb1","parentHash":"0xp","timestamp":"1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	req := RangeRequest{
		Type:      "block",
		FromBlock: 1,
		Fields:    map[string]FieldSelection{"block": {"number": true}},
	}
	var observed StreamHeaders
	_, err := c.StreamBlocks(context.Background(), srv.URL, false, req, "", func(h StreamHeaders) { observed = h })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed.FinalizedHeadNumber != "99" || observed.FinalizedHeadHash != "0xfinal" {
		t.Errorf("observed = %+v", observed)
	}
}
