package common

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeAsset canonicalises an asset symbol: NFKC folded, trimmed and
// upper-cased, so full-width or composed variants name the same asset.
func NormalizeAsset(symbol string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
}

// NormalizeText trims free-form user metadata and folds it to NFKC.
func NormalizeText(value string) string {
	return strings.TrimSpace(norm.NFKC.String(value))
}
