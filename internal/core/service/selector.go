package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/core/domain"
)

var (
	numericDate = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2}|\d{4})\b`)
	isoDate     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	namedDate   = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+([\p{L}\p{M}]+)\.?,?\s+(\d{4})\b`)
	expiryReply = regexp.MustCompile(`^\s*([^:]+?)\s*:\s*(.+?)\s*$`)
)

// Selector resolves free-text replies to lots and expiry dates.
type Selector struct {
	catalog *catalog.Catalog
	ledger  *Ledger
}

func NewSelector(cat *catalog.Catalog, ledger *Ledger) *Selector {
	return &Selector{catalog: cat, ledger: ledger}
}

// SelectBatch picks from lots ordered newest first: "oldest" words pick the
// last, "newest" words the first, a date the lot bought that day, and
// anything else the oldest. It returns nil only when lots is empty.
func (s *Selector) SelectBatch(lots []domain.BatchRecord, text string) *domain.BatchRecord {
	if len(lots) == 0 {
		return nil
	}
	switch {
	case s.catalog.WantsOldest(text):
		return &lots[len(lots)-1]
	case s.catalog.WantsNewest(text):
		return &lots[0]
	}
	if day, ok := s.ParseDate(text); ok {
		want := day.Format(domain.DateLayout)
		for i := range lots {
			if lots[i].PurchaseDate.Format(domain.DateLayout) == want {
				return &lots[i]
			}
		}
	}
	return &lots[len(lots)-1]
}

// IsSelectionReply reports whether text names a lot by age or date.
func (s *Selector) IsSelectionReply(text string) bool {
	if s.catalog.WantsOldest(text) || s.catalog.WantsNewest(text) {
		return true
	}
	_, ok := s.ParseDate(text)
	return ok
}

// ParseDate reads D/M/Y (with '/', '-' or '.'; two-digit years are 20YY),
// YYYY-MM-DD or "D Month YYYY".
func (s *Selector) ParseDate(text string) (time.Time, bool) {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		return makeDate(m[1], m[2], m[3])
	}
	if m := numericDate.FindStringSubmatch(text); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		return makeDate(year, m[2], m[1])
	}
	if m := namedDate.FindStringSubmatch(text); m != nil {
		month, ok := s.catalog.Month(m[2])
		if !ok {
			return time.Time{}, false
		}
		return makeDate(m[3], strconv.Itoa(int(month)), m[1])
	}
	return time.Time{}, false
}

func makeDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// Reject dates that time.Date normalized, such as 31/02.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// ParseExpiry reads "<product>: <date>". The product is resolved through the
// catalog when possible.
func (s *Selector) ParseExpiry(text string) (string, time.Time, bool) {
	m := expiryReply.FindStringSubmatch(text)
	if m == nil {
		return "", time.Time{}, false
	}
	expiry, ok := s.ParseDate(m[2])
	if !ok {
		return "", time.Time{}, false
	}
	product := strings.TrimSpace(m[1])
	if p, ok := s.catalog.MatchProduct(product); ok {
		product = p.Name
	}
	return product, expiry, true
}

// UpdateExpiry sets the expiry of the product's most recent lot.
func (s *Selector) UpdateExpiry(ctx context.Context, shopID, product string, expiry time.Time) (*domain.BatchRecord, error) {
	lots, err := s.ledger.ListBatches(ctx, shopID, product)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, fmt.Errorf("%s: %w", product, domain.ErrNoRecentPurchase)
	}
	return s.ledger.SetExpiry(ctx, lots[0].ID, expiry)
}
