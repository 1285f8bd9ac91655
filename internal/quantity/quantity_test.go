package quantity

import (
	"math/big"
	"testing"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string // big.Int.String(), "" for nil
		wantErr bool
	}{
		{"nil", nil, "", false},
		{"hex string", "0x1a", "26", false},
		{"decimal string", "42", "42", false},
		{"empty string", "", "", false},
		{"int", 7, "7", false},
		{"uint64", uint64(100), "100", false},
		{"float whole", float64(5), "5", false},
		{"float fractional", float64(5.5), "", true},
		{"negative decimal", "-1", "", true},
		{"malformed hex", "0xzz", "", true},
		{"malformed decimal", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuantity(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQuantity(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.want == "" {
				if got != nil {
					t.Errorf("ParseQuantity(%v) = %v, want nil", tt.in, got)
				}
				return
			}
			if got == nil || got.String() != tt.want {
				t.Errorf("ParseQuantity(%v) = %v, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuantityHex(t *testing.T) {
	if got := QuantityHex(nil); got != "0x0" {
		t.Errorf("QuantityHex(nil) = %s, want 0x0", got)
	}
	if got := QuantityHex(big.NewInt(255)); got != "0xff" {
		t.Errorf("QuantityHex(255) = %s, want 0xff", got)
	}
}

func TestQuantityHexIfSet(t *testing.T) {
	if _, ok := QuantityHexIfSet(nil); ok {
		t.Errorf("QuantityHexIfSet(nil) ok = true, want false")
	}
	hex, ok := QuantityHexIfSet(big.NewInt(16))
	if !ok || hex != "0x10" {
		t.Errorf("QuantityHexIfSet(16) = (%s, %v), want (0x10, true)", hex, ok)
	}
}

func TestHexBytes(t *testing.T) {
	addr := "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"
	got, err := HexBytes("address", addr, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xd8da6bf26964af9d7eed9e03e53415d37aa96045" {
		t.Errorf("HexBytes lowercased = %s", got)
	}

	if _, err := HexBytes("address", "0x1234", 20); err == nil {
		t.Error("expected error for wrong-length address")
	}
	if _, err := HexBytes("address", "not hex", 20); err == nil {
		t.Error("expected error for non-hex input")
	}
}

func TestParseUint53(t *testing.T) {
	n, err := ParseUint53("0x64")
	if err != nil || n != 100 {
		t.Errorf("ParseUint53(0x64) = (%d, %v), want (100, nil)", n, err)
	}
	if _, err := ParseUint53("-1"); err == nil {
		t.Error("expected error for negative quantity")
	}
	if _, err := ParseUint53(nil); err == nil {
		t.Error("expected error for missing quantity")
	}
}

func TestParseDecimalOrHexUint(t *testing.T) {
	n, err := ParseDecimalOrHexUint("0x2a")
	if err != nil || n != 42 {
		t.Errorf("ParseDecimalOrHexUint(0x2a) = (%d, %v), want (42, nil)", n, err)
	}
	n, err = ParseDecimalOrHexUint("42")
	if err != nil || n != 42 {
		t.Errorf("ParseDecimalOrHexUint(42) = (%d, %v), want (42, nil)", n, err)
	}
	if _, err := ParseDecimalOrHexUint("nope"); err == nil {
		t.Error("expected error for malformed index")
	}
}
