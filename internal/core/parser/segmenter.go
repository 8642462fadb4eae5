package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rl1809/stock-ledger/internal/catalog"
)

// Segmenter splits one message into ordered clauses.
type Segmenter struct {
	delimiters *regexp.Regexp
}

func NewSegmenter(cat *catalog.Catalog) *Segmenter {
	return &Segmenter{delimiters: cat.Delimiters()}
}

// Split breaks text on sentence punctuation and on the catalog's conjunction
// words. A '.' or ',' between two digits belongs to a number and is kept.
// Empty clauses are dropped; order is preserved.
func (s *Segmenter) Split(text string) []string {
	var clauses []string
	for _, sentence := range splitTerminals(text) {
		parts := []string{sentence}
		if s.delimiters != nil {
			parts = s.delimiters.Split(" "+sentence+" ", -1)
		}
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				clauses = append(clauses, p)
			}
		}
	}
	return clauses
}

func splitTerminals(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i, r := range runes {
		if !isTerminal(r) {
			continue
		}
		if (r == '.' || r == ',') && i > 0 && i < len(runes)-1 &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i]))
		start = i + 1
	}
	return append(out, string(runes[start:]))
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ',', '\n', '।':
		return true
	}
	return false
}
