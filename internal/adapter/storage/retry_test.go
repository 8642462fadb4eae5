package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observe"
)

type flakyRepo struct {
	*MemoryAdapter
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyRepo) FindInventory(ctx context.Context, shopID, product string) (*domain.InventoryRecord, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.MemoryAdapter.FindInventory(ctx, shopID, product)
}

func (f *flakyRepo) CreateBatch(ctx context.Context, b domain.BatchRecord) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func newTestRetrying(repo *flakyRepo, attempts int, retries *[]int) *Retrying {
	r := NewRetrying(repo, repo, RetryConfig{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		OnRetry: func(op string, attempt int, err error) {
			*retries = append(*retries, attempt)
		},
	})
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetrying_RecoversFromTransientError(t *testing.T) {
	repo := &flakyRepo{MemoryAdapter: NewMemoryAdapter(), failures: 2, err: errors.New("connection reset")}
	var retries []int
	r := newTestRetrying(repo, 3, &retries)

	_, err := r.FindInventory(context.Background(), "shop-1", "Parle-G")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.calls != 3 {
		t.Errorf("expected 3 calls, got %d", repo.calls)
	}
	if len(retries) != 2 {
		t.Errorf("expected 2 retries, got %d", len(retries))
	}
}

func TestRetrying_ExhaustedReturnsStoreError(t *testing.T) {
	cause := errors.New("connection reset")
	repo := &flakyRepo{MemoryAdapter: NewMemoryAdapter(), failures: 10, err: cause}
	var retries []int
	r := newTestRetrying(repo, 3, &retries)

	_, err := r.FindInventory(context.Background(), "shop-1", "Parle-G")

	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *StoreError, got %v", err)
	}
	if storeErr.Op != "find_inventory" || storeErr.Attempts != 3 {
		t.Errorf("unexpected store error: %+v", storeErr)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be wrapped")
	}
}

func TestRetrying_PermanentErrorsNotRetried(t *testing.T) {
	for _, cause := range []error{domain.ErrDuplicate, domain.ErrLotNotFound, context.Canceled} {
		repo := &flakyRepo{MemoryAdapter: NewMemoryAdapter(), err: cause}
		var retries []int
		r := newTestRetrying(repo, 3, &retries)

		err := r.CreateBatch(context.Background(), domain.BatchRecord{ID: "lot-1"})
		if !errors.Is(err, cause) {
			t.Errorf("expected %v, got %v", cause, err)
		}
		if repo.calls != 1 {
			t.Errorf("%v: expected 1 call, got %d", cause, repo.calls)
		}
	}
}

func TestRetrying_LogsWithContextLogger(t *testing.T) {
	repo := &flakyRepo{MemoryAdapter: NewMemoryAdapter(), failures: 1, err: errors.New("connection reset")}
	var retries []int
	r := newTestRetrying(repo, 3, &retries)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("correlation_id", "corr-42")
	ctx := observe.WithLogger(context.Background(), logger)

	if _, err := r.FindInventory(ctx, "shop-1", "Parle-G"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "store operation failed, retrying") {
		t.Fatalf("expected retry warning, got %q", out)
	}
	if !strings.Contains(out, `"correlation_id":"corr-42"`) {
		t.Errorf("expected correlation id on retry warning, got %q", out)
	}
}
