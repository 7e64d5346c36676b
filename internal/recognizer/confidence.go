package recognizer

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reParcel   = regexp.MustCompile(`\b\d{2,4}[- ]\d{2,4}[- ]\d{2,5}(?:[- ]\d{2,4})?\b`)
	reCurrency = regexp.MustCompile(`\$\s?\d|\b\d{1,3}(,\d{3})*\.\d{2}\b`)
	reDate     = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b(19|20)\d{2}-\d{2}-\d{2}\b|\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2},? (19|20)\d{2}\b`)
	reKeyword  = regexp.MustCompile(`\b(owner|parcel|apn|assessed|assessment|property|tax|deed|county|situs)\b`)
)

// HeuristicConfidence scores recognized text by the artifacts property and tax
// records usually carry. The result is in [0, 1].
func HeuristicConfidence(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.2
	if reParcel.MatchString(lower) {
		score += 0.2
	}
	if reCurrency.MatchString(lower) {
		score += 0.15
	}
	if reDate.MatchString(lower) {
		score += 0.15
	}
	if reKeyword.MatchString(lower) {
		score += 0.15
	}
	if len(text) > 200 {
		score += 0.1
	}
	if noiseRatio(text) > 0.3 {
		score -= 0.3
	}
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// noiseRatio is the share of non-space characters that are neither letters,
// digits nor common punctuation.
func noiseRatio(text string) float64 {
	var total, noise int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(".,:;-/$#()%&'\"", r) {
			continue
		}
		noise++
	}
	if total == 0 {
		return 1
	}
	return float64(noise) / float64(total)
}

var reBlankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize cleans engine output: unix newlines, no trailing spaces, at most
// one blank line in a row.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRightFunc(ln, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(reBlankRuns.ReplaceAllString(text, "\n\n"))
}
