package domain

import (
	"context"
	"time"
)

// LedgerStore persists per-user balances plus the append-only
// transaction log. ApplyDebit and ApplyCredit commit the balance
// mutation and the log entry atomically: on error nothing is written.
type LedgerStore interface {
	// ApplyDebit subtracts amount from the user's balance and appends
	// entry with BalanceAfter filled in. Returns ErrInsufficientCredits
	// when the balance cannot cover amount, ErrNotFound for an unknown
	// user.
	ApplyDebit(ctx context.Context, userID string, amount int, entry *CreditTransaction) (int, error)
	// ApplyCredit adds amount to the user's balance and appends entry.
	// Returns ErrDuplicateOperation when entry.RelatedPaymentRef is
	// already present in the log.
	ApplyCredit(ctx context.Context, userID string, amount int, entry *CreditTransaction) (int, error)
	Balance(ctx context.Context, userID string) (int, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
	// FindByPaymentRef returns the log entry recorded for a processor
	// payment reference, or ErrNotFound.
	FindByPaymentRef(ctx context.Context, ref string) (*CreditTransaction, error)
}

// VideoRepository persists generation job records.
type VideoRepository interface {
	Create(ctx context.Context, v *Video) error
	GetByID(ctx context.Context, id string) (*Video, error)
	GetByProviderJobID(ctx context.Context, providerJobID string) (*Video, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Video, error)
	// UpdateProgress records a non-terminal status/progress observation.
	UpdateProgress(ctx context.Context, id string, status VideoStatus, progress int) error
	// FinishIfActive transitions the job into the given terminal state
	// only when it is still active, and reports whether this call won
	// the transition. Losing the race is not an error.
	FinishIfActive(ctx context.Context, id string, upd TerminalUpdate) (bool, error)
	// ListReconcilable returns active jobs with a provider job id whose
	// last update is older than the given age.
	ListReconcilable(ctx context.Context, olderThan time.Duration, limit int) ([]Video, error)
	Delete(ctx context.Context, id string) error
}

// Generator is the narrow contract against the external generation
// provider. Calls may take seconds to minutes and must never be made
// while holding ledger state.
type Generator interface {
	Submit(ctx context.Context, req GenerationRequest) (*ProviderJob, error)
	Remix(ctx context.Context, providerJobID, prompt string) (*ProviderJob, error)
	Status(ctx context.Context, providerJobID string) (*ProviderJobStatus, error)
	FetchArtifact(ctx context.Context, providerJobID string, variant ArtifactVariant) ([]byte, error)
	Cancel(ctx context.Context, providerJobID string) error
}

// PaymentProcessor verifies checkout sessions with the payment
// provider of record.
type PaymentProcessor interface {
	RetrieveSession(ctx context.Context, sessionRef string) (*PaymentSession, error)
}

// BlobStore persists generated artifacts addressed by storage key.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// Notifier delivers side-channel user notifications. Implementations
// must not be invoked on the ledger's critical path.
type Notifier interface {
	NotifyLowBalance(ctx context.Context, userID string, balance int) error
}
