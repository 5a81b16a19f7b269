package xrpl

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// dropsPerXRP is the ledger's smallest-unit scale (6 decimals).
const dropsPerXRP = 6

// XRPToDrops converts a decimal XRP string to a drops string. Ledger
// amounts are 64-bit unsigned decimal strings.
func XRPToDrops(xrp string) (string, error) {
	dec, err := decimal.NewFromString(xrp)
	if err != nil {
		return "", err
	}
	scaled := dec.Shift(dropsPerXRP)
	if !scaled.IsInteger() {
		return "", errors.New("xrpl: amount has more than 6 decimal places")
	}
	if scaled.IsNegative() {
		return "", errors.New("xrpl: amount is negative")
	}
	return scaled.String(), nil
}

// DropsToXRP converts a drops string to a decimal XRP value.
func DropsToXRP(drops string) (decimal.Decimal, error) {
	dec, err := decimal.NewFromString(drops)
	if err != nil {
		return decimal.Zero, err
	}
	return dec.Shift(-dropsPerXRP), nil
}

// AddDrops sums two drops strings with arbitrary-precision integer
// arithmetic, the way ledger balances are mutated off-chain.
func AddDrops(a, b string) (string, error) {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return "", errors.New("xrpl: invalid drops amount " + a)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return "", errors.New("xrpl: invalid drops amount " + b)
	}
	sum := new(big.Int).Add(x, y)
	if sum.Sign() < 0 {
		return "", errors.New("xrpl: negative drops sum")
	}
	return sum.String(), nil
}

// DropsUint64 parses a drops string into a uint64 for claim signing.
func DropsUint64(drops string) (uint64, error) {
	v, ok := new(big.Int).SetString(drops, 10)
	if !ok || v.Sign() < 0 || !v.IsUint64() {
		return 0, errors.New("xrpl: drops amount out of range")
	}
	return v.Uint64(), nil
}
