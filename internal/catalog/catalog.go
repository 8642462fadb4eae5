// Package catalog loads the language data used by the parsing pipeline:
// product aliases, spelled numbers, action keywords, lot selectors, month
// names and transcript correction rules. The data is keyed by language so a
// new language is a YAML change rather than a code change.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

//go:embed default.yaml
var defaultYAML string

// Product is one catalog entry. Aliases are matched as case-insensitive
// substrings in declaration order.
type Product struct {
	Name    string   `yaml:"name"`
	Unit    string   `yaml:"unit"`
	Aliases []string `yaml:"aliases"`
}

// Rule is a pattern-based transcript rewrite.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern.
func (r Rule) Regexp() *regexp.Regexp {
	return r.re
}

type Actions struct {
	Purchased []string `yaml:"purchased"`
	Sold      []string `yaml:"sold"`
	Remaining []string `yaml:"remaining"`
}

type Selectors struct {
	Oldest []string `yaml:"oldest"`
	Newest []string `yaml:"newest"`
}

// Language holds the data for one language or script.
type Language struct {
	SegmentDelimiters []string       `yaml:"segment_delimiters"`
	ExpandCompounds   bool           `yaml:"expand_compounds"`
	Yes               []string       `yaml:"yes"`
	No                []string       `yaml:"no"`
	Actions           Actions        `yaml:"actions"`
	Selectors         Selectors      `yaml:"selectors"`
	Months            map[string]int `yaml:"months"`
	Numbers           map[string]int `yaml:"numbers"`
	Corrections       []Rule         `yaml:"corrections"`
}

// Catalog is the compiled, read-only view over all languages. It is safe for
// concurrent use.
type Catalog struct {
	Products  []Product            `yaml:"products"`
	Languages map[string]*Language `yaml:"languages"`

	numbers     map[string]int
	months      map[string]time.Month
	yes         map[string]struct{}
	no          map[string]struct{}
	purchased   *regexp.Regexp
	sold        *regexp.Regexp
	remaining   *regexp.Regexp
	oldest      *regexp.Regexp
	newest      *regexp.Regexp
	delimiters  *regexp.Regexp
	lowerAlias  [][]string
	productByID map[string]int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return LoadFromReader(strings.NewReader(defaultYAML))
}

// Load reads a catalog from the YAML file at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %q: %w", path, err)
	}
	return c, nil
}

// LoadFromReader decodes and compiles a catalog.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	c := &Catalog{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) compile() error {
	var errs []error

	if len(c.Products) == 0 {
		errs = append(errs, errors.New("catalog: at least one product is required"))
	}
	c.productByID = make(map[string]int, len(c.Products))
	c.lowerAlias = make([][]string, len(c.Products))
	for i, p := range c.Products {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("catalog: products[%d].name is required", i))
			continue
		}
		if _, dup := c.productByID[strings.ToLower(p.Name)]; dup {
			errs = append(errs, fmt.Errorf("catalog: products[%d].name %q is a duplicate", i, p.Name))
		}
		c.productByID[strings.ToLower(p.Name)] = i
		aliases := append([]string{}, p.Aliases...)
		if len(aliases) == 0 {
			aliases = []string{p.Name}
		}
		for _, a := range aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				c.lowerAlias[i] = append(c.lowerAlias[i], a)
			}
		}
	}

	c.numbers = make(map[string]int)
	c.months = make(map[string]time.Month)
	c.yes = make(map[string]struct{})
	c.no = make(map[string]struct{})
	var purchased, sold, remaining, oldest, newest, delimiters []string

	for _, name := range c.languageNames() {
		lang := c.Languages[name]
		if lang == nil {
			continue
		}
		for word, n := range lang.Numbers {
			c.numbers[strings.ToLower(word)] = n
		}
		if lang.ExpandCompounds {
			expandCompounds(lang.Numbers, c.numbers)
		}
		for word, m := range lang.Months {
			if m < 1 || m > 12 {
				errs = append(errs, fmt.Errorf("catalog: languages.%s.months.%s %d is out of range", name, word, m))
				continue
			}
			c.months[strings.ToLower(word)] = time.Month(m)
		}
		for _, w := range lang.Yes {
			c.yes[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
		}
		for _, w := range lang.No {
			c.no[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
		}
		purchased = append(purchased, lang.Actions.Purchased...)
		sold = append(sold, lang.Actions.Sold...)
		remaining = append(remaining, lang.Actions.Remaining...)
		oldest = append(oldest, lang.Selectors.Oldest...)
		newest = append(newest, lang.Selectors.Newest...)
		delimiters = append(delimiters, lang.SegmentDelimiters...)

		for i := range lang.Corrections {
			rule := &lang.Corrections[i]
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				errs = append(errs, fmt.Errorf("catalog: languages.%s.corrections[%d] (%s): %w", name, i, rule.Name, err))
				continue
			}
			rule.re = re
		}
	}

	c.purchased = keywordRegexp(purchased)
	c.sold = keywordRegexp(sold)
	c.remaining = keywordRegexp(remaining)
	c.oldest = keywordRegexp(oldest)
	c.newest = keywordRegexp(newest)
	if alternation := quoteAll(delimiters); alternation != "" {
		c.delimiters = regexp.MustCompile(`(?i)\s+(?:(?:` + alternation + `)\s+)+`)
	}

	return errors.Join(errs...)
}

func (c *Catalog) languageNames() []string {
	names := make([]string, 0, len(c.Languages))
	for name := range c.Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// expandCompounds adds hyphenated forms such as "twenty-five" for every
// multiple of ten between 20 and 90 combined with 1..9.
func expandCompounds(words map[string]int, into map[string]int) {
	var ones, tens []string
	for w, n := range words {
		switch {
		case n >= 1 && n <= 9:
			ones = append(ones, w)
		case n >= 20 && n <= 90 && n%10 == 0:
			tens = append(tens, w)
		}
	}
	for _, t := range tens {
		for _, o := range ones {
			n := words[t] + words[o]
			into[strings.ToLower(t+"-"+o)] = n
			into[strings.ToLower(t+o)] = n
		}
	}
}

// keywordRegexp matches any keyword that starts a word. Keywords are
// prefixes, so "purchas" would also match "purchased".
func keywordRegexp(keywords []string) *regexp.Regexp {
	alternation := quoteAll(keywords)
	if alternation == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{M}])(?:` + alternation + `)`)
}

func quoteAll(words []string) string {
	// Longest first so alternation prefers "in stock" over "in".
	sorted := append([]string{}, words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, 0, len(sorted))
	for _, w := range sorted {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	return strings.Join(quoted, "|")
}

// HasLanguage reports whether the catalog defines lang.
func (c *Catalog) HasLanguage(lang string) bool {
	_, ok := c.Languages[lang]
	return ok
}

// Rules returns the ordered correction rules for lang.
func (c *Catalog) Rules(lang string) []Rule {
	l, ok := c.Languages[lang]
	if !ok {
		return nil
	}
	return l.Corrections
}

// MatchProduct returns the first product with an alias contained in text.
func (c *Catalog) MatchProduct(text string) (Product, bool) {
	lower := strings.ToLower(text)
	for i, aliases := range c.lowerAlias {
		for _, a := range aliases {
			if strings.Contains(lower, a) {
				return c.Products[i], true
			}
		}
	}
	return Product{}, false
}

// ProductByName looks up a product by canonical name.
func (c *Catalog) ProductByName(name string) (Product, bool) {
	i, ok := c.productByID[strings.ToLower(name)]
	if !ok {
		return Product{}, false
	}
	return c.Products[i], true
}

// Number resolves a spelled-out number token.
func (c *Catalog) Number(token string) (int, bool) {
	n, ok := c.numbers[strings.ToLower(token)]
	return n, ok
}

// Month resolves a month name or abbreviation.
func (c *Catalog) Month(name string) (time.Month, bool) {
	m, ok := c.months[strings.ToLower(name)]
	return m, ok
}

// Action evaluates the keyword sets in priority order: purchase, sale,
// remaining.
func (c *Catalog) Action(text string) (domain.Action, bool) {
	switch {
	case c.purchased != nil && c.purchased.MatchString(text):
		return domain.ActionPurchased, true
	case c.sold != nil && c.sold.MatchString(text):
		return domain.ActionSold, true
	case c.remaining != nil && c.remaining.MatchString(text):
		return domain.ActionRemaining, true
	}
	return "", false
}

// IsYes reports whether text is exactly an affirmative reply.
func (c *Catalog) IsYes(text string) bool {
	_, ok := c.yes[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// IsNo reports whether text is exactly a negative reply.
func (c *Catalog) IsNo(text string) bool {
	_, ok := c.no[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// WantsOldest reports whether text contains an "oldest lot" selector.
func (c *Catalog) WantsOldest(text string) bool {
	return c.oldest != nil && c.oldest.MatchString(text)
}

// WantsNewest reports whether text contains a "newest lot" selector.
func (c *Catalog) WantsNewest(text string) bool {
	return c.newest != nil && c.newest.MatchString(text)
}

// Delimiters returns the conjunction splitter, or nil when none is defined.
func (c *Catalog) Delimiters() *regexp.Regexp {
	return c.delimiters
}
