package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

// LedgerMemory is an in-memory domain.LedgerStore. A single mutex
// serializes balance mutations, which gives the same atomicity
// guarantees the PostgreSQL implementation gets from row locking. It
// backs tests and database-less local runs.
type LedgerMemory struct {
	mu       sync.Mutex
	balances map[string]int
	entries  []domain.CreditTransaction
	refs     map[string]struct{}
}

// NewLedgerMemory creates an empty in-memory ledger.
func NewLedgerMemory() *LedgerMemory {
	return &LedgerMemory{
		balances: make(map[string]int),
		refs:     make(map[string]struct{}),
	}
}

// Seed creates or replaces a user balance.
func (m *LedgerMemory) Seed(userID string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = credits
}

func (m *LedgerMemory) ApplyDebit(_ context.Context, userID string, amount int, entry *domain.CreditTransaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if balance < amount {
		return 0, domain.ErrInsufficientCredits
	}
	balance -= amount
	m.balances[userID] = balance
	entry.BalanceAfter = balance
	m.entries = append(m.entries, *entry)
	return balance, nil
}

func (m *LedgerMemory) ApplyCredit(_ context.Context, userID string, amount int, entry *domain.CreditTransaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if entry.RelatedPaymentRef != "" {
		if _, dup := m.refs[entry.RelatedPaymentRef]; dup {
			return 0, domain.ErrDuplicateOperation
		}
	}
	balance += amount
	m.balances[userID] = balance
	entry.BalanceAfter = balance
	m.entries = append(m.entries, *entry)
	if entry.RelatedPaymentRef != "" {
		m.refs[entry.RelatedPaymentRef] = struct{}{}
	}
	return balance, nil
}

func (m *LedgerMemory) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

func (m *LedgerMemory) ListTransactions(_ context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *LedgerMemory) FindByPaymentRef(_ context.Context, ref string) (*domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].RelatedPaymentRef == ref && ref != "" {
			entry := m.entries[i]
			return &entry, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Entries returns a copy of the transaction log, oldest first.
func (m *LedgerMemory) Entries() []domain.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CreditTransaction, len(m.entries))
	copy(out, m.entries)
	return out
}

var _ domain.LedgerStore = (*LedgerMemory)(nil)

// VideoMemory is an in-memory domain.VideoRepository.
type VideoMemory struct {
	mu     sync.Mutex
	videos map[string]*domain.Video
}

// NewVideoMemory creates an empty in-memory video repository.
func NewVideoMemory() *VideoMemory {
	return &VideoMemory{videos: make(map[string]*domain.Video)}
}

func (m *VideoMemory) Create(_ context.Context, v *domain.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.videos[v.ID] = &cp
	return nil
}

func (m *VideoMemory) GetByID(_ context.Context, id string) (*domain.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *VideoMemory) GetByProviderJobID(_ context.Context, providerJobID string) (*domain.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.videos {
		if v.ProviderJobID == providerJobID && providerJobID != "" {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *VideoMemory) ListByUser(_ context.Context, userID string, limit int) ([]domain.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Video
	for _, v := range m.videos {
		if v.UserID == userID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *VideoMemory) UpdateProgress(_ context.Context, id string, status domain.VideoStatus, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return domain.ErrNotFound
	}
	if v.Status.Terminal() {
		return nil
	}
	v.Status = status
	v.Progress = progress
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *VideoMemory) FinishIfActive(_ context.Context, id string, upd domain.TerminalUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if v.Status.Terminal() {
		return false, nil
	}
	v.Status = upd.Status
	if upd.VideoKey != "" {
		v.VideoKey = upd.VideoKey
	}
	if upd.ThumbKey != "" {
		v.ThumbKey = upd.ThumbKey
	}
	v.ErrorMessage = upd.ErrorMessage
	if upd.Status == domain.VideoStatusCompleted {
		completed := upd.CompletedAt
		v.CompletedAt = &completed
		v.Progress = 100
	}
	v.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *VideoMemory) ListReconcilable(_ context.Context, olderThan time.Duration, limit int) ([]domain.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var out []domain.Video
	for _, v := range m.videos {
		if v.Status.Terminal() || v.ProviderJobID == "" {
			continue
		}
		if v.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *VideoMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.videos, id)
	return nil
}

var _ domain.VideoRepository = (*VideoMemory)(nil)
