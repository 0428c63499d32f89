package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b(19|20)\d{2}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.](19|20)?\d{2}\b`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|sar|aed|egp|kwd|qar|inr)\b|[$£€﷼]|ر\.س|د\.إ`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2,3}\b`)
)

// NativeTextConfidence is assigned to a usable embedded text layer.
const NativeTextConfidence = 95.0

func hasDatePattern(s string) bool     { return reDate.MatchString(s) }
func hasCurrencyPattern(s string) bool { return reCurr.MatchString(s) }
func hasAmountPattern(s string) bool   { return reAmount.MatchString(s) }

// HeuristicConfidence scores text on a 0..100 scale from invoice artifacts
// (date, currency, amounts) when the producer reports no confidence itself.
func HeuristicConfidence(txt string) float64 {
	if strings.TrimSpace(txt) == "" {
		return 0
	}
	txtL := strings.ToLower(txt)
	score := 20.0 // base
	if hasDatePattern(txtL) {
		score += 20
	}
	if hasCurrencyPattern(txtL) {
		score += 15
	}
	if hasAmountPattern(txtL) {
		score += 15
	}
	if len(txt) > 120 {
		score += 10
	} // enough content
	if GarbledRatio(txt) < 0.02 {
		score += 10
	}
	if score > 90 {
		score = 90
	}
	return score
}
