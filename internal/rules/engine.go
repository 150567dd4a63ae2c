package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultPassLimit = 30

// Rule rewrites transcript text. It reports whether anything changed.
type Rule interface {
	Rewrite(text string) (string, bool)
}

// Parser turns one line of a rules file into a Rule.
type Parser interface {
	Accepts(line string) bool
	Parse(line string) (Rule, error)
}

// Engine runs transcript rules until the text stops changing. It implements
// ports.RulesEngine.
type Engine struct {
	rules     []Rule
	passLimit int
}

// NewEngine loads a rules file. A missing or empty path yields an engine
// that returns text unchanged.
func NewEngine(path string, passLimit int) (*Engine, error) {
	return LoadEngine(path, passLimit, DefaultParsers()...)
}

// LoadEngine is NewEngine with a custom parser set, tried in order.
func LoadEngine(path string, passLimit int, parsers ...Parser) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, passLimit), nil
	}
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newEngine(nil, passLimit), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}
	engine, err := ParseEngine(string(contents), passLimit, parsers...)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return engine, nil
}

// ParseEngine compiles rules from text. Blank lines and lines starting with
// '#' are skipped.
func ParseEngine(contents string, passLimit int, parsers ...Parser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	var compiled []Rule
	for number, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		compiled = append(compiled, rule)
	}
	return newEngine(compiled, passLimit), nil
}

func newEngine(rules []Rule, passLimit int) *Engine {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}
	return &Engine{rules: rules, passLimit: passLimit}
}

func parseLine(line string, parsers []Parser) (Rule, error) {
	for _, parser := range parsers {
		if parser.Accepts(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text with every rule, repeating full passes until a pass
// changes nothing or the pass limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	for pass := 0; pass < e.passLimit && len(e.rules) > 0; pass++ {
		dirty := false
		for _, rule := range e.rules {
			if next, changed := rule.Rewrite(text); changed {
				text = next
				dirty = true
			}
		}
		if !dirty {
			break
		}
	}
	return text, nil
}
