// Package protocol recovers tool-call payloads from free-form model replies.
package protocol

import "strings"

const (
	jsonFence = "```json"
	fence     = "```"
)

// Extract returns the JSON candidate inside raw. Replies wrapped in a
// markdown code fence (with or without a language tag) are unwrapped;
// anything else is returned trimmed. Extract never fails: callers decide
// whether the candidate is a tool call.
func Extract(raw string) string {
	trimmed := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(trimmed, jsonFence):
		inner := dropLineBreak(trimmed[len(jsonFence):])
		return closeFence(inner)

	case strings.HasPrefix(trimmed, fence):
		inner := trimmed[len(fence):]
		// Anything before the first line break is the language tag.
		if idx := strings.IndexByte(inner, '\n'); idx >= 0 {
			inner = inner[idx:]
		}
		return closeFence(dropLineBreak(inner))
	}

	return trimmed
}

func dropLineBreak(s string) string {
	if strings.HasPrefix(s, "\n") || strings.HasPrefix(s, "\r") {
		return s[1:]
	}
	return s
}

func closeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "`")
	return strings.TrimSpace(s)
}
