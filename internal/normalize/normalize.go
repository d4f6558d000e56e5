// Package normalize holds the text normalization shared by the identity
// resolver, the scrape ingester, and the media-server matcher. Two levels
// exist: Name/Title are conservative and safe for storage; Aggressive is
// lossy and only used for matching.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	apostrophes = regexp.MustCompile("[‘’‛´`]")
	dashes      = regexp.MustCompile("[‐‑‒–—―]")
	punctuation = regexp.MustCompile(`[^\w\s']`)

	// Trailing clauses radio feeds bolt onto titles.
	trailingParen  = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]\s*$`)
	trailingSuffix = regexp.MustCompile(`(?i)\s+-\s+(single|radio edit|remix|live|remastered( \d{4})?)$`)
	featClause     = regexp.MustCompile(`(?i)\s*[(\[]?\s*(feat\.?|ft\.?|featuring)\s+[^)\]]*[)\]]?\s*$`)
)

// Name normalizes an artist name for storage: trim, unify apostrophe and
// dash variants, fold runs of whitespace. Casing is preserved so display
// names survive round trips to the library manager.
func Name(s string) string {
	s = apostrophes.ReplaceAllString(s, "'")
	s = strings.ReplaceAll(s, "''", "'")
	s = dashes.ReplaceAllString(s, "-")
	return strings.Join(strings.Fields(s), " ")
}

// Title normalizes a song title for storage, same rules as Name.
func Title(s string) string {
	return Name(s)
}

// Key lowercases a stored name into the form used for cache and override
// lookups. A trailing "feat." clause is stripped for lookup only; the stored
// display name keeps it.
func Key(s string) string {
	s = Name(s)
	s = featClause.ReplaceAllString(s, "")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Aggressive reduces a string for fuzzy comparison: Name rules, then strip
// diacritics, drop punctuation, strip trailing parentheticals and suffix
// clauses such as "- Radio Edit", and lowercase. For matching only; never
// store the result.
func Aggressive(s string) string {
	s = Name(s)
	s = trailingSuffix.ReplaceAllString(s, "")
	s = trailingParen.ReplaceAllString(s, "")
	s = stripDiacritics(s)
	s = punctuation.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "'", "")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func stripDiacritics(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var collabSplit = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring|with|&|\+|x|and)\s+`)

// SplitCollaboration splits a collaboration credit ("A feat. B", "A & B")
// into the constituent artists. A plain name comes back as a one-element
// slice. Constituents shorter than two characters are dropped.
func SplitCollaboration(artist string) []string {
	artist = Name(artist)
	parts := collabSplit.Split(artist, -1)
	if len(parts) <= 1 {
		return []string{artist}
	}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= 2 {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{artist}
	}
	return out
}

// PrimaryArtist returns the left-hand artist of a "feat." credit, or the
// input unchanged when no clause is present. Used by the retry job to give
// unresolvable collaboration strings a second chance.
func PrimaryArtist(artist string) string {
	lower := strings.ToLower(artist)
	for _, marker := range []string{" feat.", " feat ", " featuring "} {
		if i := strings.Index(lower, marker); i > 0 {
			return strings.TrimSpace(artist[:i])
		}
	}
	return strings.TrimSpace(artist)
}

// TokenSetRatio computes a token-set similarity in [0,1]: tokens of each
// string are deduplicated and the score compares the shared token set
// against each side's full set. Word order and repeated words do not count
// against the score, which suits titles like "Break My Soul (Queens Remix)".
func TokenSetRatio(a, b string) float64 {
	ta := tokenSet(Aggressive(a))
	tb := tokenSet(Aggressive(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	// Dice coefficient over the two sets.
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(s) {
		set[f] = struct{}{}
	}
	return set
}
