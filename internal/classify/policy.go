package classify

import (
	"regexp"
	"strings"
)

var (
	trailingPunct = regexp.MustCompile(`[:>?]\s*$`)

	defaultPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\benter (a|an|the|your)\b`),
		regexp.MustCompile(`(?i)\bplease (provide|enter|input|type)\b`),
		regexp.MustCompile(`(?i)\bwaiting for input\b`),
	}

	// Input calls recognised when a language has no tokens of its own.
	fallbackTokens = []string{"input(", "raw_input(", "scanf(", "readline(", "prompt(", "gets(", "Scanner"}
)

// Policy decides whether a line of output means the program is blocked on
// standard input.
type Policy struct {
	Language string
	Trailing *regexp.Regexp
	Tokens   []*regexp.Regexp
	Phrases  []*regexp.Regexp
}

// NewPolicy builds the policy for a language from its input-call tokens.
// Tokens are matched literally on word boundaries. Without tokens the
// language-agnostic set is used.
func NewPolicy(language string, tokens []string) *Policy {
	if len(tokens) == 0 {
		tokens = fallbackTokens
	}
	p := &Policy{
		Language: language,
		Trailing: trailingPunct,
		Phrases:  defaultPhrases,
	}
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			p.Tokens = append(p.Tokens, tokenRegexp(tok))
		}
	}
	return p
}

// Fallback returns the language-agnostic policy.
func Fallback() *Policy {
	return NewPolicy("", nil)
}

func tokenRegexp(tok string) *regexp.Regexp {
	expr := regexp.QuoteMeta(tok)
	if isWordByte(tok[0]) {
		expr = `\b` + expr
	}
	if isWordByte(tok[len(tok)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// IsPrompt reports whether line looks like a request for input. line must
// already be stripped of escape sequences.
func (p *Policy) IsPrompt(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if p.Trailing != nil && p.Trailing.MatchString(line) {
		return true
	}
	for _, re := range p.Tokens {
		if re.MatchString(line) {
			return true
		}
	}
	for _, re := range p.Phrases {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
