package gateway

import (
	"regexp"
	"strings"
)

var (
	leadingFence  = regexp.MustCompile("^\\s*```[A-Za-z0-9_+-]*[ \\t]*\\r?\\n?")
	trailingFence = regexp.MustCompile("\\r?\\n?[ \\t]*```\\s*$")
)

// StripCodeFence removes a markdown code fence enclosing text, such as
// "```json\n{...}\n```", and trims surrounding whitespace. Either marker is
// removed on its own if the other is missing. Fences inside the body are
// left alone.
func StripCodeFence(text string) string {
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
