package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// StateTTL bounds how long dialog state stays readable.
type StateTTL struct {
	Pending    time.Duration
	Correction time.Duration
}

// MemoryStateStore keeps per-actor dialog state in process. Expired entries
// are dropped lazily on read.
type MemoryStateStore struct {
	mu          sync.Mutex
	ttl         StateTTL
	pending     map[string]domain.PendingConfirmation
	corrections map[string]domain.CorrectionState
	now         func() time.Time
}

// StateOption configures a MemoryStateStore.
type StateOption func(*MemoryStateStore)

// WithStateClock sets the clock used to judge expiry.
func WithStateClock(now func() time.Time) StateOption {
	return func(s *MemoryStateStore) { s.now = now }
}

func NewMemoryStateStore(ttl StateTTL, opts ...StateOption) *MemoryStateStore {
	s := &MemoryStateStore{
		ttl:         ttl,
		pending:     make(map[string]domain.PendingConfirmation),
		corrections: make(map[string]domain.CorrectionState),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStateStore) PutPending(ctx context.Context, pending domain.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[pending.ActorID] = pending
	return nil
}

func (s *MemoryStateStore) TakePending(ctx context.Context, actorID string) (*domain.PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[actorID]
	if !ok {
		return nil, nil
	}
	delete(s.pending, actorID)
	if p.Expired(s.now(), s.ttl.Pending) {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStateStore) PutCorrection(ctx context.Context, state domain.CorrectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.corrections[state.ActorID] = state
	return nil
}

func (s *MemoryStateStore) GetCorrection(ctx context.Context, actorID string) (*domain.CorrectionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.corrections[actorID]
	if !ok {
		return nil, nil
	}
	if c.Expired(s.now(), s.ttl.Correction) {
		delete(s.corrections, actorID)
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStateStore) DeleteCorrectionIf(ctx context.Context, actorID, stateID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.corrections[actorID]
	if !ok || c.ID != stateID {
		return false, nil
	}
	delete(s.corrections, actorID)
	return true, nil
}

// LocalLocker is a keyed mutex for single-process deployments. Entries are
// dropped once no caller holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 && l.locks[key] == kl {
		delete(l.locks, key)
	}
}
