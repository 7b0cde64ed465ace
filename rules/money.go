package rules

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"

	"github.com/shopspring/decimal"
)

// Amount converts a JSON-decoded or native numeric value into a decimal.
// Floats go through their shortest representation so 10000.01 stays 10000.01.
func Amount(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), nil
	case uint32:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case nil:
		return decimal.Zero, fmt.Errorf("amount is missing")
	default:
		return decimal.Zero, fmt.Errorf("amount has unsupported type %T", v)
	}
}

// FieldAmount reads key from m as a decimal amount
func FieldAmount(m map[string]any, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s is missing", key)
	}
	d, err := Amount(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// FieldAmountOrZero reads key from m, treating absent or unparseable values as zero
func FieldAmountOrZero(m map[string]any, key string) decimal.Decimal {
	d, err := FieldAmount(m, key)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SliceLen returns the length of a slice-valued field, 0 when absent or not a slice
func SliceLen(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv.Len()
	}
	return 0
}

func formatUSD(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
