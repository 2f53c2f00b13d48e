package publish

import (
	"strings"
	"unicode/utf8"
)

// DefaultCaption is used when body, hashtags and call-to-action are all empty;
// the provider never receives an empty caption.
const DefaultCaption = "New post"

// ComposeCaption assembles the final post text: body, then hashtags, then
// call-to-action, each separated by a blank line. Part ordering is fixed and
// must not be reordered by locale or platform. Empty parts are skipped.
func ComposeCaption(body, hashtags, callToAction string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{body, hashtags, callToAction} {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return DefaultCaption
	}
	out := strings.Join(parts, "\n\n")
	// Postgres and downstream provider APIs both reject NUL/invalid UTF-8.
	out = strings.ReplaceAll(out, "\x00", "")
	if !utf8.ValidString(out) {
		out = strings.ToValidUTF8(out, "")
	}
	if out == "" {
		return DefaultCaption
	}
	return out
}
