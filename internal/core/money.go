// Package core holds the ledger domain: budgets, transactions, request
// values and the error taxonomy shared by every layer.
//
// This file contains amount parsing for the request surface.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept on stored amounts.
const AmountScale = 2

// ParseAmount converts a user-supplied decimal string to a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half away from zero to two decimals. Zero and negative values are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
//	ParseAmount("0")      -> validation error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, invalid("amount", "amount is required")
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid("amount", "amount must be a number")
	}
	d = d.Round(AmountScale)
	if err := validateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// NormalizeAmount rounds any amount to the stored scale.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
