// Package filter implements keyword matching for feed entries.
package filter

import (
	"strings"
)

// Item is the plain text of a feed entry that keywords are matched against.
// Summary must already be stripped of markup.
type Item struct {
	Title   string
	Summary string
}

// Match reports whether item passes the keyword filter. An item passes when
// any keyword appears, case-insensitively, in its title or in its summary.
// An empty keyword list passes everything.
func Match(item Item, keywords []string) bool {
	title := strings.ToLower(item.Title)
	summary := strings.ToLower(item.Summary)

	active := false
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		active = true
		if strings.Contains(title, kw) || strings.Contains(summary, kw) {
			return true
		}
	}
	return !active
}

// ParseKeywords splits a comma-separated keyword list, dropping blanks and
// duplicates. Case is folded.
func ParseKeywords(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}
