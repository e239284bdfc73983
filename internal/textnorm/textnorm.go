// Package textnorm folds accented text to plain ASCII so messages fit
// the GSM-7 alphabet instead of falling back to UCS-2 segmentation.
package textnorm

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripAccents removes diacritical marks: "Příliš žluťoučký" becomes
// "Prilis zlutoucky". Runes without a decomposed form pass through
// unchanged. The chain is built per call; chained transformers are not
// safe for concurrent use.
func StripAccents(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(chain, s)
	if err != nil {
		return s
	}
	return out
}
