package handlers

import (
	"context"
	"regexp"
	"strings"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
)

type rewrite struct {
	re   *regexp.Regexp
	with string
}

// Minifier applies an ordered list of regexp rewrites to textual assets.
// It does not parse the language; string literals containing comment
// markers may be altered.
type Minifier struct {
	kind  domain.ContentKind
	rules []rewrite
}

func (m *Minifier) Kind() domain.ContentKind { return m.kind }

func (m *Minifier) Optimize(_ context.Context, payload []byte) (domain.OptimizationResult, error) {
	out := string(payload)
	for _, r := range m.rules {
		out = r.re.ReplaceAllString(out, r.with)
	}
	return domain.OptimizationResult{
		Output:   []byte(strings.TrimSpace(out)),
		Encoding: "identity",
	}, nil
}

// NewCSSHandler strips comments, collapses whitespace and drops the
// semicolon before a closing brace.
func NewCSSHandler() *Minifier {
	return &Minifier{kind: domain.KindCSS, rules: []rewrite{
		{regexp.MustCompile(`(?s)/\*.*?\*/`), ""},
		{regexp.MustCompile(`\s+`), " "},
		{regexp.MustCompile(`\s*([{}:;,])\s*`), "$1"},
		{regexp.MustCompile(`;}`), "}"},
	}}
}

// NewJSHandler strips line and block comments and collapses whitespace.
func NewJSHandler() *Minifier {
	return &Minifier{kind: domain.KindJS, rules: []rewrite{
		{regexp.MustCompile(`(?s)/\*.*?\*/`), ""},
		{regexp.MustCompile(`(?m)(^|[^:\\])//.*$`), "$1"},
		{regexp.MustCompile(`\s+`), " "},
	}}
}

// NewHTMLHandler strips comments and whitespace between tags.
func NewHTMLHandler() *Minifier {
	return &Minifier{kind: domain.KindHTML, rules: []rewrite{
		{regexp.MustCompile(`(?s)<!--.*?-->`), ""},
		{regexp.MustCompile(`>\s+<`), "><"},
		{regexp.MustCompile(`\s+`), " "},
	}}
}
