package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CSI, OSC, DCS/PM/APC strings, charset selection and two-byte escapes.
var ansiRe = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[PX^_][^\x1b]*\x1b\\|\x1b[()*+][0-9A-Za-z]|\x1b[=>@-Z\\^_]`)

// Control bytes that never render as text. Tab and newline are kept.
var controlRe = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)

// maxPendingEscape bounds how much of a chunk tail is held back as a
// possibly split escape sequence.
const maxPendingEscape = 32

// Strip removes terminal escape sequences, carriage returns and other
// control bytes from s.
func Strip(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	return controlRe.ReplaceAllString(s, "")
}

// splitEscape separates a trailing escape sequence that may continue in the
// next chunk.
func splitEscape(s string) (complete, pending string) {
	idx := strings.LastIndexByte(s, 0x1b)
	if idx < 0 {
		return s, ""
	}
	rest := s[idx:]
	if len(rest) >= maxPendingEscape || strings.ContainsRune(rest, '\n') {
		return s, ""
	}
	if loc := ansiRe.FindStringIndex(rest); loc != nil && loc[0] == 0 {
		return s, ""
	}
	return s[:idx], rest
}

// splitRune separates a trailing UTF-8 sequence cut off by the end of the
// chunk.
func splitRune(s string) (complete, pending string) {
	for i := len(s) - 1; i >= 0 && i > len(s)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if !utf8.FullRuneInString(s[i:]) {
			return s[:i], s[i:]
		}
		break
	}
	return s, ""
}
