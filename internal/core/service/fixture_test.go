package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/parser"
	"github.com/rl1809/stock-ledger/internal/port"
)

var testNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

type fixtureConfig struct {
	attribution  SaleAttribution
	promptExpiry bool
	inventory    func(*storage.MemoryAdapter) port.InventoryRepository
	cleaner      port.TextCleaner
}

type fixture struct {
	svc        *MessageService
	repo       *storage.MemoryAdapter
	states     *storage.MemoryStateStore
	ledger     *Ledger
	reconciler *Reconciler
	logs       *bytes.Buffer
}

func newFixture(t *testing.T, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()
	cfg := fixtureConfig{attribution: AttributeFIFO}
	for _, o := range opts {
		o(&cfg)
	}

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	repo := storage.NewMemoryAdapter()
	var inventory port.InventoryRepository = repo
	if cfg.inventory != nil {
		inventory = cfg.inventory(repo)
	}
	states := storage.NewMemoryStateStore(
		storage.StateTTL{Pending: 5 * time.Minute, Correction: 10 * time.Minute},
		storage.WithStateClock(func() time.Time { return testNow }),
	)
	locker := storage.NewLocalLocker()

	ledger := NewLedger(repo, inventory, locker, nil, LedgerConfig{Location: time.UTC})
	ledger.now = func() time.Time { return testNow }
	reconciler := NewReconciler(inventory, ledger, locker, nil, cfg.attribution)
	reconciler.now = func() time.Time { return testNow }

	var correctorOpts []parser.CorrectorOption
	if cfg.cleaner != nil {
		correctorOpts = append(correctorOpts, parser.WithCleaner(cfg.cleaner, 500, time.Second))
	}

	logs := &bytes.Buffer{}
	svc := NewMessageService(MessageServiceConfig{
		Catalog:      cat,
		Corrector:    parser.NewCorrector(cat, correctorOpts...),
		Extractor:    parser.NewExtractor(cat, parser.NewSegmenter(cat), parser.DefaultSold),
		Gate:         NewGate(true, 0.8),
		States:       states,
		Reconciler:   reconciler,
		Ledger:       ledger,
		Selector:     NewSelector(cat, ledger),
		Inventory:    inventory,
		Logger:       slog.New(slog.NewJSONHandler(&syncWriter{w: logs}, nil)),
		PromptExpiry: cfg.promptExpiry,
	})
	svc.now = func() time.Time { return testNow }

	return &fixture{svc: svc, repo: repo, states: states, ledger: ledger, reconciler: reconciler, logs: logs}
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (f *fixture) send(t *testing.T, text string) domain.Outcome {
	t.Helper()
	return f.svc.HandleMessage(context.Background(), domain.NormalizedMessage{
		ActorID:  "actor-1",
		ShopID:   "shop-1",
		Text:     text,
		Modality: domain.ModalityText,
	})
}

func (f *fixture) sendVoice(t *testing.T, text string, confidence float64) domain.Outcome {
	t.Helper()
	return f.svc.HandleMessage(context.Background(), domain.NormalizedMessage{
		ActorID:    "actor-1",
		ShopID:     "shop-1",
		Text:       text,
		Modality:   domain.ModalityVoice,
		Confidence: &confidence,
	})
}

func (f *fixture) stock(t *testing.T, product string) *domain.InventoryRecord {
	t.Helper()
	rec, err := f.repo.FindInventory(context.Background(), "shop-1", product)
	if err != nil {
		t.Fatalf("find inventory: %v", err)
	}
	return rec
}

func (f *fixture) lots(t *testing.T, product string) []domain.BatchRecord {
	t.Helper()
	lots, err := f.repo.ListBatches(context.Background(), "shop-1", product)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	return lots
}

func (f *fixture) addLot(t *testing.T, product string, qty int64, unit string, day time.Time) domain.BatchRecord {
	t.Helper()
	b, err := f.ledger.CreateOrIncrementBatch(context.Background(), "shop-1", product, decimal.NewFromInt(qty), unit, day, nil)
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	return *b
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
