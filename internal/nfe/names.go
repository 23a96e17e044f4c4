package nfe

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultNameLimit is the maximum length of a cleaned name.
	DefaultNameLimit = 80

	// DefaultTruncWidth is the width used for path segments shortened to fit
	// the maximum path length.
	DefaultTruncWidth = 20

	// TaxIDWidth is the width of a normalized issuer tax id.
	TaxIDWidth = 14
)

var (
	disallowedChars = regexp.MustCompile(`[^A-Za-z0-9 _\-.]`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
	nonDigits       = regexp.MustCompile(`\D`)
)

// decompose -> drop combining marks -> recompose. Chains are stateful, so
// they are pooled rather than shared.
var accentPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	},
}

// Unaccent transliterates accented letters to their unaccented form
// ("Peças" -> "Pecas"). Letters without a decomposition are left alone.
func Unaccent(s string) string {
	if s == "" {
		return s
	}
	tr := accentPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	accentPool.Put(tr)
	if err != nil {
		return s
	}
	return out
}

// CleanName turns free text into a name safe for a folder segment: accents
// are transliterated, anything outside letters, digits, space, underscore,
// hyphen and period is dropped, whitespace runs collapse to one space,
// trailing spaces and periods are trimmed and the result is cut to limit
// characters. A limit <= 0 means DefaultNameLimit.
func CleanName(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultNameLimit
	}
	s = Unaccent(s)
	s = disallowedChars.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	s = TrimReserved(strings.TrimSpace(s))
	// only ASCII is left, so byte slicing is safe
	if len(s) > limit {
		s = TrimReserved(s[:limit])
	}
	return s
}

// Truncate cleans s and shortens it to width characters. Used for the folder
// segment that is shortened when a destination path is too long.
func Truncate(s string, width int) string {
	if width <= 0 {
		width = DefaultTruncWidth
	}
	return CleanName(CleanName(s, DefaultNameLimit), width)
}

// TrimReserved strips trailing spaces and periods, which Windows filesystems
// silently drop from file and folder names.
func TrimReserved(seg string) string {
	return strings.TrimRight(seg, " .")
}

// NormalizeTaxID keeps only the digits of raw and left-pads them with zeros
// to 14 characters. Longer values are returned unpadded and untouched.
func NormalizeTaxID(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) >= TaxIDWidth {
		return digits
	}
	return strings.Repeat("0", TaxIDWidth-len(digits)) + digits
}
