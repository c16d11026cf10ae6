// Package utils holds small helpers shared by the CLI and the API: US market
// hours and ticker normalization.
package utils

import "strings"

// NormalizeTicker normalizes a user-input ticker to the Yahoo Finance symbol
// format. Class shares written with a dot (BRK.B) use a dash (BRK-B).
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))

	// Remove $ prefix if present (cashtag)
	ticker = strings.TrimPrefix(ticker, "$")

	return strings.ReplaceAll(ticker, ".", "-")
}
