// Package privacy masks high-risk personal data before conversation
// history is written to the store. Live playback and streaming deltas
// carry the original text; only the history record is scrubbed.
package privacy

import "regexp"

type rule struct {
	pattern *regexp.Regexp
	mask    string
}

// Card numbers run first so a 16-digit PAN is not half-eaten by the
// phone rule.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email removed]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card number removed]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone removed]"},
}

// Scrub replaces email addresses, payment card numbers, and phone
// numbers with neutral placeholders. The second return reports whether
// anything was replaced.
func Scrub(text string) (string, bool) {
	out := text
	changed := false
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
