package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCompositeKey_RoundTrip(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	key := CompositeKey("shop-1", "Parle-G", day)
	if key != "shop-1|Parle-G|2026-03-09" {
		t.Fatalf("unexpected key %q", key)
	}

	shop, product, date, err := ParseCompositeKey(key)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if shop != "shop-1" || product != "Parle-G" || !date.Equal(day) {
		t.Errorf("got %q %q %v", shop, product, date)
	}
}

func TestParseCompositeKey_ProductWithSeparator(t *testing.T) {
	_, product, _, err := ParseCompositeKey("s|Salt|Iodised|2026-01-02")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if product != "Salt|Iodised" {
		t.Errorf("expected product 'Salt|Iodised', got %q", product)
	}
}

func TestParseCompositeKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "shop", "shop|2026-01-02", "|p|2026-01-02", "s|p|notadate", "s|p|"} {
		if _, _, _, err := ParseCompositeKey(key); !errors.Is(err, ErrInvalidCompositeKey) {
			t.Errorf("key %q: expected ErrInvalidCompositeKey, got %v", key, err)
		}
	}
}

func TestLinkBatch_Deduplicates(t *testing.T) {
	rec := InventoryRecord{}
	if !rec.LinkBatch("a") || !rec.LinkBatch("b") {
		t.Fatal("expected new links to be added")
	}
	if rec.LinkBatch("a") {
		t.Error("expected duplicate link to be ignored")
	}
	if len(rec.BatchIDs) != 2 {
		t.Errorf("expected 2 links, got %v", rec.BatchIDs)
	}
}

func TestBatchExpired(t *testing.T) {
	expiry := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	b := BatchRecord{ExpiryDate: &expiry}
	if b.Expired(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)) {
		t.Error("lot should still be usable on its expiry day")
	}
	if !b.Expired(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("lot should be expired the day after")
	}
	if (BatchRecord{}).Expired(time.Now()) {
		t.Error("lot without expiry never expires")
	}
}
