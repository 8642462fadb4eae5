package service

import (
	"testing"
	"time"

	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return NewSelector(cat, nil)
}

func TestSelector_ParseDate(t *testing.T) {
	s := newTestSelector(t)
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"31/12/2024", day(2024, 12, 31), true},
		{"5-3-24", day(2024, 3, 5), true},
		{"01.06.2025", day(2025, 6, 1), true},
		{"2025-01-15", day(2025, 1, 15), true},
		{"1 January 2025", day(2025, 1, 1), true},
		{"3rd mar 2024", day(2024, 3, 3), true},
		{"15 maarch 2024", day(2024, 3, 15), true},
		{"31/02/2024", time.Time{}, false},
		{"13/13/2024", time.Time{}, false},
		{"5 smarch 2024", time.Time{}, false},
		{"next week", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := s.ParseDate(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSelector_SelectBatch(t *testing.T) {
	s := newTestSelector(t)
	lots := []domain.BatchRecord{
		{ID: "c", PurchaseDate: day(2024, 3, 9)},
		{ID: "b", PurchaseDate: day(2024, 3, 5)},
		{ID: "a", PurchaseDate: day(2024, 3, 1)},
	}
	tests := []struct {
		reply string
		want  string
	}{
		{"oldest", "a"},
		{"the purana wala", "a"},
		{"newest", "c"},
		{"latest one", "c"},
		{"5/3/2024", "b"},
		{"2024-03-09", "c"},
		{"7/3/2024", "a"},
		{"whatever", "a"},
	}
	for _, tt := range tests {
		got := s.SelectBatch(lots, tt.reply)
		if got == nil || got.ID != tt.want {
			t.Errorf("SelectBatch(%q) = %+v, want %s", tt.reply, got, tt.want)
		}
	}

	if got := s.SelectBatch(nil, "oldest"); got != nil {
		t.Errorf("expected nil for no lots, got %+v", got)
	}
}

func TestSelector_IsSelectionReply(t *testing.T) {
	s := newTestSelector(t)
	for _, text := range []string{"oldest", "naya", "5/3/2024"} {
		if !s.IsSelectionReply(text) {
			t.Errorf("%q should be a selection reply", text)
		}
	}
	for _, text := range []string{"10 parle sold", "hello"} {
		if s.IsSelectionReply(text) {
			t.Errorf("%q should not be a selection reply", text)
		}
	}
}

func TestSelector_ParseExpiry(t *testing.T) {
	s := newTestSelector(t)

	product, expiry, ok := s.ParseExpiry("chini: 31/12/2024")
	if !ok || product != "Sugar" || !expiry.Equal(day(2024, 12, 31)) {
		t.Errorf("got %q %v %v", product, expiry, ok)
	}

	product, _, ok = s.ParseExpiry("Unobtainium : 2025-01-01")
	if !ok || product != "Unobtainium" {
		t.Errorf("expected unknown product kept verbatim, got %q %v", product, ok)
	}

	for _, text := range []string{"Sugar 31/12/2024", "Sugar: soon", "10 parle sold"} {
		if _, _, ok := s.ParseExpiry(text); ok {
			t.Errorf("%q should not parse as an expiry", text)
		}
	}
}
