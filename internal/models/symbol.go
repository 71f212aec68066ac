package models

import (
	"regexp"
	"strings"

	apperrors "nifty-breakout/internal/errors"
)

// symbolPattern matches NSE trading symbols such as M&M and BAJAJ-AUTO.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9&-]{1,20}$`)

// NormalizeSymbol upper-cases and trims raw and checks it is a plausible NSE
// symbol.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case symbol == "":
		return "", apperrors.NewValidationError("symbol", raw, "symbol is required")
	case len(symbol) > 20:
		return "", apperrors.NewValidationError("symbol", raw, "symbol too long (max 20 characters)")
	case !symbolPattern.MatchString(symbol):
		return "", apperrors.NewValidationError("symbol", raw, "invalid symbol format")
	}
	return symbol, nil
}
