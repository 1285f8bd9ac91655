package errs

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewFillsCodeAndStatus(t *testing.T) {
	e := New(CategoryInvalidParams, "invalid params: bad address")
	if e.Code != -32602 || e.HTTPStatus != 400 {
		t.Errorf("got code=%d status=%d, want -32602/400", e.Code, e.HTTPStatus)
	}
}

func TestNewUnknownCategoryFallsBackToServerError(t *testing.T) {
	e := New(Category("made_up"), "oops")
	if e.Category != Category("made_up") {
		t.Errorf("category should be preserved even when unmapped, got %v", e.Category)
	}
	if e.Code != table[CategoryServerError].code {
		t.Errorf("code should fall back to server_error's, got %d", e.Code)
	}
}

func TestAsWrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	e := As(plain)
	if e.Category != CategoryServerError {
		t.Errorf("category = %v, want server_error", e.Category)
	}
}

func TestAsPassesThroughOwnError(t *testing.T) {
	original := New(CategoryNotFound, "not found: block")
	e := As(original)
	if e != original {
		t.Errorf("As should return the same *Error instance unchanged")
	}
}

func TestAsNil(t *testing.T) {
	if As(nil) != nil {
		t.Error("As(nil) should be nil")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CategoryInvalidParams, "invalid params: bad address").WithData(map[string]any{"field": "address"})
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["code"].(float64) != -32602 {
		t.Errorf("code = %v, want -32602", out["code"])
	}
	if out["data"] == nil {
		t.Error("expected data to be present")
	}
}

func TestMarshalJSONOmitsEmptyData(t *testing.T) {
	e := New(CategoryServerError, "server error: boom")
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["data"]; ok {
		t.Error("expected data field to be omitted")
	}
}
