// Package sanitize cleans raw generator output before validation.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const fence = "```"

// StripFences removes at most one leading and one trailing markdown fence
// from text, together with the whitespace touching each fence. A leading
// fence may carry a language tag. Text without fences is returned as-is and
// interior content is never modified.
func StripFences(text string) string {
	out := text
	if body, ok := cutLeadingFence(out); ok {
		out = body
	}
	if body, ok := cutTrailingFence(out); ok {
		out = body
	}
	return out
}

func cutLeadingFence(s string) (string, bool) {
	rest := strings.TrimLeftFunc(s, unicode.IsSpace)
	if !strings.HasPrefix(rest, fence) {
		return s, false
	}
	rest = trimLanguageTag(rest[len(fence):])
	return strings.TrimLeftFunc(rest, unicode.IsSpace), true
}

func cutTrailingFence(s string) (string, bool) {
	rest := strings.TrimRightFunc(s, unicode.IsSpace)
	if !strings.HasSuffix(rest, fence) {
		return s, false
	}
	rest = strings.TrimSuffix(rest, fence)
	return strings.TrimRightFunc(rest, unicode.IsSpace), true
}

// trimLanguageTag drops the info string after an opening fence. Any tag
// counts when it ends the fence line; "json" is also accepted when the
// payload follows on the same line.
func trimLanguageTag(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !isTagRune(r) })
	if end < 0 {
		end = len(s)
	}
	if end > 0 && end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); r == '\n' || r == '\r' {
			return s[end:]
		}
	}
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		return s[4:]
	}
	return s
}

func isTagRune(r rune) bool {
	switch r {
	case '-', '+', '_', '.':
		return true
	}
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
