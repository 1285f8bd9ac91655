package ndjson

import (
	"encoding/json"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, body string, limits Limits) ([]string, error) {
	t.Helper()
	var got []string
	err := Decode(strings.NewReader(body), limits, func(raw json.RawMessage) error {
		got = append(got, string(raw))
		return nil
	})
	return got, err
}

func TestDecodeBasic(t *testing.T) {
	body := "{\"a\":1}\n{\"a\":2}\n"
	got, err := decodeAll(t, body, Limits{MaxLineBytes: 1024, MaxBytes: 4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}

func TestDecodeNoTrailingNewline(t *testing.T) {
	body := "{\"a\":1}\n{\"a\":2}"
	got, err := decodeAll(t, body, Limits{MaxLineBytes: 1024, MaxBytes: 4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	body := "{\"a\":1}\n\n   \n{\"a\":2}\n"
	got, err := decodeAll(t, body, Limits{MaxLineBytes: 1024, MaxBytes: 4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	body := "{\"a\":1}\nnot json\n"
	_, err := decodeAll(t, body, Limits{MaxLineBytes: 1024, MaxBytes: 4096})
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestDecodeLineTooLarge(t *testing.T) {
	body := "{\"a\":\"" + strings.Repeat("x", 200) + "\"}\n"
	_, err := decodeAll(t, body, Limits{MaxLineBytes: 32, MaxBytes: 4096})
	if err == nil {
		t.Fatal("expected error for oversized line")
	}
}

func TestDecodeTotalTooLarge(t *testing.T) {
	body := strings.Repeat("{\"a\":1}\n", 100)
	_, err := decodeAll(t, body, Limits{MaxLineBytes: 1024, MaxBytes: 50})
	if err == nil {
		t.Fatal("expected error for oversized total stream")
	}
}

func TestDecodeAbortsOnCallbackError(t *testing.T) {
	body := "{\"a\":1}\n{\"a\":2}\n"
	sentinel := errTest
	var seen int
	err := Decode(strings.NewReader(body), Limits{MaxLineBytes: 1024, MaxBytes: 4096}, func(raw json.RawMessage) error {
		seen++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("got err %v, want sentinel", err)
	}
	if seen != 1 {
		t.Fatalf("callback invoked %d times, want 1", seen)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

var errTest = testError("stop")
