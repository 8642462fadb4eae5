// Package parser turns a raw utterance into structured stock updates:
// rule-based transcript correction, clause segmentation and per-clause
// extraction.
package parser

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	defaultCleanupTimeout  = 3 * time.Second
	defaultCleanupMaxInput = 500
	devanagariLanguage     = "hi"
)

var horizontalSpace = regexp.MustCompile(`[ \t]+`)

// Correction is the output of [Corrector.Correct]. Text is always usable;
// CleanupErr records why the cleanup stage was bypassed, if it was.
type Correction struct {
	Text       string
	RuleText   string
	Language   string
	CleanupErr error
}

// CorrectorOption configures a [Corrector].
type CorrectorOption func(*Corrector)

// WithCleaner attaches the external cleanup stage. Inputs longer than
// maxInput runes skip it; each call is bounded by timeout.
func WithCleaner(cleaner port.TextCleaner, maxInput int, timeout time.Duration) CorrectorOption {
	return func(c *Corrector) {
		c.cleaner = cleaner
		if maxInput > 0 {
			c.maxInput = maxInput
		}
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithDefaultLanguage sets the language used when neither the hint nor the
// script identifies one.
func WithDefaultLanguage(lang string) CorrectorOption {
	return func(c *Corrector) {
		c.defaultLanguage = lang
	}
}

// Corrector fixes known phonetic mis-transcriptions, then hands the text to
// an optional cleanup service. It is safe for concurrent use.
type Corrector struct {
	catalog         *catalog.Catalog
	cleaner         port.TextCleaner
	maxInput        int
	timeout         time.Duration
	defaultLanguage string
}

func NewCorrector(cat *catalog.Catalog, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		catalog:         cat,
		maxInput:        defaultCleanupMaxInput,
		timeout:         defaultCleanupTimeout,
		defaultLanguage: "en",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DetectLanguage picks the hint when the catalog knows it, Hindi when the
// text is written in Devanagari, and the default language otherwise.
func (c *Corrector) DetectLanguage(text, hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint != "" && c.catalog.HasLanguage(hint) {
		return hint
	}
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return devanagariLanguage
		}
	}
	return c.defaultLanguage
}

// Correct applies the language's rewrite rules and then the cleanup stage.
// When cleanup fails, times out, is skipped or answers with nothing, the
// rule-corrected text is returned.
func (c *Corrector) Correct(ctx context.Context, text, lang string) Correction {
	ruleText := c.ApplyRules(text, lang)
	out := Correction{Text: ruleText, RuleText: ruleText, Language: lang}
	if c.cleaner == nil || ruleText == "" {
		return out
	}
	if utf8.RuneCountInString(ruleText) > c.maxInput {
		return out
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cleaned, err := c.cleaner.Clean(cctx, ruleText, lang)
	if err != nil {
		out.CleanupErr = err
		return out
	}
	if cleaned = strings.TrimSpace(cleaned); cleaned != "" {
		out.Text = cleaned
	}
	return out
}

type span struct {
	text   string
	locked bool
}

// ApplyRules runs the ordered rules for lang. Text produced by one rule is
// locked against the rules that follow it, so a specific rewrite is never
// undone by a generic one.
func (c *Corrector) ApplyRules(text, lang string) string {
	spans := []span{{text: text}}
	for _, rule := range c.catalog.Rules(lang) {
		re := rule.Regexp()
		if re == nil {
			continue
		}
		next := make([]span, 0, len(spans))
		for _, s := range spans {
			if s.locked {
				next = append(next, s)
				continue
			}
			next = append(next, rewrite(s.text, re, rule.Replace)...)
		}
		spans = next
	}

	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.text)
	}
	return tidy(b.String())
}

func rewrite(text string, re *regexp.Regexp, replace string) []span {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []span{{text: text}}
	}

	var out []span
	last := 0
	for _, m := range matches {
		if m[0] == m[1] {
			continue
		}
		if m[0] > last {
			out = append(out, span{text: text[last:m[0]]})
		}
		out = append(out, span{text: string(re.ExpandString(nil, replace, text, m)), locked: true})
		last = m[1]
	}
	if last < len(text) {
		out = append(out, span{text: text[last:]})
	}
	return out
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
