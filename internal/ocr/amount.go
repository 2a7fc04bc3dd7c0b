// Package ocr turns scanned payment proofs into a best-guess amount.
//
// The vision call that produces text lives behind TextRecognizer; everything in
// this file is a pure text heuristic. It returns the most plausible single
// amount, not a guaranteed-correct one.
package ocr

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Defaults for the extraction heuristic. The keyword order is significant:
// earlier keywords win when several labels carry a number.
const DefaultContextWindow = 12

var (
	DefaultKeywords = []string{
		"total", "amount", "subtotal", "grand total", "balance",
		"paid", "payment", "amount paid", "paid amount",
	}
	DefaultContextWords = []string{"paid", "amount", "total", "rupee", "rs"}

	// DefaultExtractor is used by ExtractAmount.
	DefaultExtractor = NewExtractor(DefaultContextWindow)
)

const (
	currencyMarker = `(?:₹|₨|\bINR\.?|\bRs\.?)`
	currencySuffix = `(?:₹|₨|inr|rs\.?|rupees?)?`
	number         = `(\d+(?:[,\d]*\d)?(?:\.\d+)?)`
)

var (
	weirdSpaces = strings.NewReplacer(
		"\u00a0", " ", // no-break space
		"\u202f", " ", // narrow no-break space
		"\u200b", " ", // zero-width space
		"\ufeff", " ", // byte order mark
	)
	whitespaceRun = regexp.MustCompile(`\s+`)

	// Currency marker immediately followed by a number. Comma groups are two
	// or three digits (lakh or thousand style), space groups exactly three,
	// so a trailing year or item count is not glued on.
	anchoredRe = regexp.MustCompile(`(?i)` + currencyMarker + `\s*(\d+(?:,\d{2,3}\b| \d{3}\b)*(?:\.\d+)?)`)
	bareRe     = regexp.MustCompile(`(?i)` + currencyMarker + `\s*` + number)
	genericRe  = regexp.MustCompile(`\d[\d,]*\d(?:\.\d+)?`)

	currencySymbols = []string{"₹", "₨", "$", "€", "£"}
)

// Extractor holds the tunable constants of the heuristic.
type Extractor struct {
	ContextWindow int
	ContextWords  []string
	keywordRes    []*regexp.Regexp
}

// NewExtractor compiles the default keyword patterns with the given context
// window for the generic-number tier.
func NewExtractor(window int) *Extractor {
	if window < 0 {
		window = DefaultContextWindow
	}
	e := &Extractor{
		ContextWindow: window,
		ContextWords:  DefaultContextWords,
	}
	for _, kw := range DefaultKeywords {
		label := strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`)
		e.keywordRes = append(e.keywordRes,
			regexp.MustCompile(`(?i)\b`+label+`[:\s]*`+number+`\s*`+currencySuffix))
	}
	return e
}

// ExtractAmount runs DefaultExtractor over text.
func ExtractAmount(text string) (float64, bool) {
	return DefaultExtractor.Extract(text)
}

// Extract returns the most plausible positive amount in text.
func (e *Extractor) Extract(text string) (float64, bool) {
	s := Normalize(text)
	if s == "" {
		return 0, false
	}

	// Tier 1: currency-anchored.
	for _, m := range anchoredRe.FindAllStringSubmatch(s, -1) {
		if v, ok := parseAmount(m[1]); ok {
			return v, true
		}
	}

	// Tier 2: labeled keywords in declared order, then bare currency numbers.
	for _, re := range e.keywordRes {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if v, ok := parseAmount(m[1]); ok {
				return v, true
			}
		}
	}
	for _, m := range bareRe.FindAllStringSubmatch(s, -1) {
		if v, ok := parseAmount(m[1]); ok {
			return v, true
		}
	}

	// Tier 3: any 2+ digit number with money context nearby.
	runes := []rune(s)
	for _, loc := range genericRe.FindAllStringIndex(s, -1) {
		start := utf8.RuneCountInString(s[:loc[0]])
		end := start + utf8.RuneCountInString(s[loc[0]:loc[1]])
		if !e.hasMoneyContext(runes, start, end) {
			continue
		}
		if v, ok := parseAmount(s[loc[0]:loc[1]]); ok {
			return v, true
		}
	}
	return 0, false
}

func (e *Extractor) hasMoneyContext(runes []rune, start, end int) bool {
	lo := max(0, start-e.ContextWindow)
	hi := min(len(runes), end+e.ContextWindow)
	window := string(runes[lo:start]) + " " + string(runes[end:hi])
	for _, sym := range currencySymbols {
		if strings.Contains(window, sym) {
			return true
		}
	}
	lower := strings.ToLower(window)
	for _, w := range e.ContextWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Normalize maps the whitespace variants OCR engines emit to plain spaces and
// collapses runs.
func Normalize(text string) string {
	s := weirdSpaces.Replace(text)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// parseAmount keeps digits and dots; the first dot is the decimal separator
// and later digit groups are concatenated onto the fraction.
func parseAmount(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" {
		return 0, false
	}
	if parts := strings.Split(cleaned, "."); len(parts) > 2 {
		cleaned = parts[0] + "." + strings.Join(parts[1:], "")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
