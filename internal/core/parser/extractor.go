package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/units"
)

// DefaultAction decides what happens to a clause with no action keyword.
type DefaultAction string

const (
	// DefaultSold treats an unmarked clause as a sale.
	DefaultSold DefaultAction = "sold"
	// DefaultReject marks an unmarked clause invalid.
	DefaultReject DefaultAction = "reject"
)

const defaultUnit = "pieces"

var (
	digitRun  = regexp.MustCompile(`[0-9०-९]+`)
	fraction  = regexp.MustCompile(`^[.,][0-9०-९]+`)
	unitAfter = regexp.MustCompile(`^\s*([\p{L}\p{M}]+)`)
	priceRe   = regexp.MustCompile(`(?i)(?:@|₹|\brs\.?|\bat\b|\brate\b)\s*([0-9]+(?:\.[0-9]+)?)`)
)

// Extraction is the result of parsing one message.
type Extraction struct {
	Updates []domain.ParsedUpdate // valid only, in clause order
	Dropped []domain.ParsedUpdate
	Total   int
	Valid   int
}

// Extractor parses clauses into updates.
type Extractor struct {
	catalog       *catalog.Catalog
	segmenter     *Segmenter
	defaultAction DefaultAction
}

func NewExtractor(cat *catalog.Catalog, segmenter *Segmenter, defaultAction DefaultAction) *Extractor {
	if defaultAction == "" {
		defaultAction = DefaultSold
	}
	return &Extractor{catalog: cat, segmenter: segmenter, defaultAction: defaultAction}
}

// Extract segments text and parses every clause, keeping the valid ones.
func (e *Extractor) Extract(text string) Extraction {
	var out Extraction
	for _, clause := range e.segmenter.Split(text) {
		out.Total++
		u := e.Parse(clause)
		if !u.Valid() {
			out.Dropped = append(out.Dropped, u)
			continue
		}
		out.Valid++
		out.Updates = append(out.Updates, u)
	}
	return out
}

// Parse turns one clause into an update. The result may be invalid.
func (e *Extractor) Parse(clause string) domain.ParsedUpdate {
	u := domain.ParsedUpdate{Product: domain.Unknown, Clause: clause}

	productUnit := ""
	if p, ok := e.catalog.MatchProduct(clause); ok {
		u.Product = p.Name
		productUnit = p.Unit
	}

	rest := clause
	if m := priceRe.FindStringSubmatchIndex(clause); m != nil {
		if price, err := decimal.NewFromString(clause[m[2]:m[3]]); err == nil {
			u.Price = &price
		}
		rest = clause[:m[0]] + " " + clause[m[1]:]
	}

	qty, unitAlias, truncated := e.quantity(rest)
	u.Truncated = truncated
	switch {
	case unitAlias != "":
		u.Unit = units.Canonical(unitAlias)
	case productUnit != "":
		u.Unit = units.Canonical(productUnit)
	default:
		u.Unit = defaultUnit
	}

	action, ok := e.catalog.Action(clause)
	if !ok && e.defaultAction == DefaultSold {
		action, ok = domain.ActionSold, true
	}
	if ok {
		u.Action = action
	}

	if qty < 0 {
		qty = -qty
	}
	if u.Action == domain.ActionSold {
		qty = -qty
	}
	u.Quantity = qty
	return u
}

// quantity returns the stated quantity, the unit alias when the next token is
// one, and any quantity text past the integer that was ignored.
func (e *Extractor) quantity(text string) (int, string, string) {
	if loc := digitRun.FindStringIndex(text); loc != nil {
		n, err := strconv.Atoi(asciiDigits(text[loc[0]:loc[1]]))
		if err != nil {
			return 0, "", ""
		}
		after := text[loc[1]:]
		truncated := fraction.FindString(after)
		after = after[len(truncated):]
		unit := ""
		if m := unitAfter.FindStringSubmatch(after); m != nil {
			if _, ok := units.Lookup(m[1]); ok {
				unit = m[1]
			}
		}
		return n, unit, truncated
	}

	tokens := strings.Fields(text)
	for i, tok := range tokens {
		n, ok := e.catalog.Number(trimToken(tok))
		if !ok {
			continue
		}
		unit, truncated := "", ""
		if i+1 < len(tokens) {
			if next := trimToken(tokens[i+1]); next != "" {
				if _, ok := units.Lookup(next); ok {
					unit = next
				} else if _, ok := e.catalog.Number(next); ok {
					truncated = next
				}
			}
		}
		return n, unit, truncated
	}
	return 0, "", ""
}

func asciiDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '०' && r <= '९' {
			r = '0' + (r - '०')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func trimToken(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}
