package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultParsers understands redactions, sed-style substitutions and
// literal "from => to" replacements.
func DefaultParsers() []Parser {
	return []Parser{RedactParser{}, SubstituteParser{}, LiteralParser{}}
}

// LiteralParser handles "from => to", matched case-insensitively.
type LiteralParser struct{}

func (LiteralParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (LiteralParser) Parse(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule needs text to replace")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, err
	}
	return patternRule{re: re, replacement: to, all: true}, nil
}

// SubstituteParser handles "s/pattern/replacement/flags" with any
// non-alphanumeric delimiter. Matching is case-insensitive; flag g replaces
// every match, m and s map to the regexp flags of the same name.
type SubstituteParser struct{}

func (SubstituteParser) Accepts(line string) bool {
	return len(line) > 1 && line[0] == 's' && isDelimiter(line[1])
}

func (SubstituteParser) Parse(line string) (Rule, error) {
	delim := line[1]
	pattern, rest, err := readDelimited(line[2:], delim)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	replacement, rest, err := readDelimited(rest, delim)
	if err != nil {
		return nil, fmt.Errorf("replacement: %w", err)
	}

	modes := "i"
	all := false
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'i', ' ':
		case 'g':
			all = true
		case 'm', 's':
			if !strings.ContainsRune(modes, flag) {
				modes += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modes + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return patternRule{re: re, replacement: replacement, all: all}, nil
}

// Redaction presets for personal data that should not leave the desk.
var redactionPresets = map[string]struct {
	pattern string
	label   string
}{
	"email": {pattern: `[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`, label: "[email]"},
	"phone": {pattern: `\+?\d[\d\-\s().]{7,}\d`, label: "[phone]"},
	"card":  {pattern: `\b(?:\d[ \-]?){13,16}\b`, label: "[card]"},
	"ssn":   {pattern: `\b\d{3}-\d{2}-\d{4}\b`, label: "[ssn]"},
}

// RedactParser handles "redact <preset>" and "redact /pattern/". Matches
// are replaced with a bracketed label.
type RedactParser struct{}

func (RedactParser) Accepts(line string) bool {
	return strings.HasPrefix(strings.ToLower(line), "redact ")
}

func (RedactParser) Parse(line string) (Rule, error) {
	target := strings.TrimSpace(line[len("redact "):])
	if target == "" {
		return nil, errors.New("redact needs a preset or /pattern/")
	}

	if isDelimiter(target[0]) {
		pattern, rest, err := readDelimited(target[1:], target[0])
		if err != nil {
			return nil, fmt.Errorf("pattern: %w", err)
		}
		if strings.TrimSpace(rest) != "" {
			return nil, fmt.Errorf("unexpected text after pattern: %q", rest)
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		return patternRule{re: re, replacement: "[redacted]", all: true}, nil
	}

	preset, ok := redactionPresets[strings.ToLower(target)]
	if !ok {
		return nil, fmt.Errorf("unknown redaction preset %q", target)
	}
	return patternRule{re: regexp.MustCompile("(?i)" + preset.pattern), replacement: preset.label, all: true}, nil
}

type patternRule struct {
	re          *regexp.Regexp
	replacement string
	all         bool
}

func (r patternRule) Rewrite(text string) (string, bool) {
	if r.all {
		out := r.re.ReplaceAllString(text, r.replacement)
		return out, out != text
	}
	loc := r.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, text, loc)
	out := text[:loc[0]] + string(expanded) + text[loc[1]:]
	return out, out != text
}

// readDelimited reads up to the next unescaped delim. Escapes are kept so
// the regexp compiler sees them.
func readDelimited(s string, delim byte) (string, string, error) {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == delim:
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", errors.New("unterminated expression")
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ' ' || c == '\t' || c == '\\':
		return false
	}
	return true
}
