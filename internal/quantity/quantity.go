// Package quantity implements the EVM hex-quantity and fixed-width byte
// string codec (spec.md §4.1, component C1): parsing and formatting the hex
// integers and 20/32-byte identifiers that appear throughout the JSON-RPC
// wire format.
package quantity

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sqd-community/portal-evm-gateway/internal/errs"
)

// ParseQuantity accepts a hex-prefixed string, a decimal string, or a
// non-negative integer and returns its value as *big.Int. A nil/empty input
// returns (nil, nil). A float with no fractional part is accepted as its
// integer value; other floats and malformed strings are rejected.
func ParseQuantity(v any) (*big.Int, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *big.Int:
		return t, nil
	case int:
		return big.NewInt(int64(t)), nil
	case int64:
		return big.NewInt(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case float64:
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("quantity must be an integer, got float %v", t)
		}
		return big.NewInt(int64(t)), nil
	case string:
		return parseQuantityString(t)
	default:
		return nil, fmt.Errorf("unsupported quantity type %T", v)
	}
}

func parseQuantityString(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	if strings.ContainsAny(s, ".eE") && !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("quantity %q is not an integer", s)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := hexutil.DecodeBig(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex quantity %q: %w", s, err)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal quantity %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("quantity %q must not be negative", s)
	}
	return n, nil
}

// QuantityHex formats v as a lowercase shortest-hex 0x-prefixed string.
// nil formats as "0x0".
func QuantityHex(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

// QuantityHexUint64 is QuantityHex for the common uint64 case.
func QuantityHexUint64(v uint64) string {
	return hexutil.EncodeUint64(v)
}

// QuantityHexIfSet returns (hex, true) when v is non-nil, or ("", false)
// when the field should be omitted entirely.
func QuantityHexIfSet(v *big.Int) (string, bool) {
	if v == nil {
		return "", false
	}
	return QuantityHex(v), true
}

var hexBytesRe = regexp.MustCompile(`^0x[0-9a-fA-F]*$`)

// HexBytes validates that s is a "0x"-prefixed hex string of exactly n bytes
// (2n hex characters) and returns it lowercased.
func HexBytes(label, s string, n int) (string, error) {
	if s == "" || !hexBytesRe.MatchString(s) {
		return "", errs.Newf(errs.CategoryInvalidParams, "invalid params: %s must be a 0x-prefixed hex string", label)
	}
	body := s[2:]
	if len(body) != n*2 {
		return "", errs.Newf(errs.CategoryInvalidParams, "invalid params: %s must be %d bytes", label, n)
	}
	return strings.ToLower(s), nil
}

// ParseUint53 parses v as a non-negative integer representable as a 53-bit
// safe integer (the JS-safe-integer ceiling used throughout the wire
// protocol). It rejects negative numbers and anything not exactly
// representable.
func ParseUint53(v any) (uint64, error) {
	n, err := ParseQuantity(v)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, fmt.Errorf("missing quantity")
	}
	if n.Sign() < 0 {
		return 0, fmt.Errorf("quantity must not be negative")
	}
	if n.BitLen() > 53 {
		return 0, fmt.Errorf("quantity exceeds safe integer range")
	}
	return n.Uint64(), nil
}

// ParseDecimalOrHexUint parses a transaction index style value: a
// hex-prefixed or decimal non-negative integer.
func ParseDecimalOrHexUint(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := hexutil.DecodeUint64(s)
		if err != nil {
			return 0, err
		}
		return n, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}
