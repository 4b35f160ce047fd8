package errortracker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Replacements applied in order; earlier patterns consume text later ones would split.
var normalizers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "<uuid>"},
	{regexp.MustCompile(`0x[0-9a-fA-F]+`), "<addr>"},
	{regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\w.\-]*[/\\])+[\w.\-]+(?::\d+)*`), "<path>"},
	{regexp.MustCompile(`[\w.\-]+\.\w+:\d+(?::\d+)?`), "<path>"},
	// A single quote opens a literal only after a non-word character, so contractions
	// such as can't are left alone.
	{regexp.MustCompile(`(^|[^\w])'[^']*'`), "${1}<id>"},
	{regexp.MustCompile(`"[^"]*"`), "<id>"},
	{regexp.MustCompile("`[^`]*`"), "<id>"},
	{regexp.MustCompile(`\b\d+(?:\.\d+)?\b`), "<n>"},
	{regexp.MustCompile(`\s+`), " "},
}

// Normalize strips the parts of an error message that vary from run to run (addresses,
// paths with positions, quoted identifiers, numbers, UUIDs) so that recurrences of the
// same problem produce the same text.
func Normalize(message string) string {
	s := strings.ToLower(message)
	for _, n := range normalizers {
		s = n.pattern.ReplaceAllString(s, n.replacement)
	}
	return strings.TrimSpace(s)
}

// Fingerprint is a stable hash of the normalized message.
func Fingerprint(message string) string {
	return fingerprintNormalized(Normalize(message))
}

func fingerprintNormalized(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// words returns the set of whitespace-separated tokens of a normalized message, with
// surrounding punctuation trimmed.
func words(normalized string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		w = strings.Trim(w, ".,;:()[]{}!?")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

// Overlap is the Jaccard ratio of two word sets: shared words over all distinct words.
// It is symmetric, so two messages always see each other at the same score.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
