package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
)

// Service exposes the atomic debit/credit/refund operations over the
// ledger store. Every committed operation appends exactly one
// transaction log entry carrying the resulting balance; on failure
// neither the balance nor the log is touched.
type Service struct {
	store    domain.LedgerStore
	notifier domain.Notifier
	logger   infra.Logger

	lowBalanceThreshold int
}

// NewService constructs the ledger service. notifier may be nil when
// no low-balance side channel is wired.
func NewService(store domain.LedgerStore, notifier domain.Notifier, logger infra.Logger) *Service {
	return &Service{
		store:               store,
		notifier:            notifier,
		logger:              logger,
		lowBalanceThreshold: domain.LowBalanceThreshold,
	}
}

// Debit removes amount credits from the user's balance and records a
// GENERATION_DEBIT entry. Fails with InsufficientCreditsError when the
// balance cannot cover the amount; two racing debits can never jointly
// overdraw an account.
func (s *Service) Debit(ctx context.Context, userID string, amount int, description, relatedJobID string) (int, string, error) {
	if amount <= 0 {
		return 0, "", &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}

	entry := &domain.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         domain.TransactionGenerationDebit,
		Amount:       -amount,
		Description:  description,
		RelatedJobID: relatedJobID,
		CreatedAt:    time.Now().UTC(),
	}

	balance, err := s.store.ApplyDebit(ctx, userID, amount, entry)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			available, balErr := s.store.Balance(ctx, userID)
			if balErr != nil {
				available = 0
			}
			return 0, "", &domain.InsufficientCreditsError{Required: amount, Available: available}
		}
		return 0, "", fmt.Errorf("debit user %s: %w", userID, err)
	}

	if s.notifier != nil && balance < s.lowBalanceThreshold {
		// Side channel only; never on the debit's critical path.
		go s.notifyLowBalance(userID, balance)
	}

	return balance, entry.ID, nil
}

// Credit adds amount credits to the user's balance. kind must be
// PURCHASE or WORKSPACE_ALLOCATION; paymentRef, when set, is recorded
// as the idempotency witness for the payment and the store rejects a
// second entry with the same ref via ErrDuplicateOperation.
func (s *Service) Credit(ctx context.Context, userID string, amount int, kind domain.TransactionKind, description, paymentRef string, amountCentsUSD int64) (int, string, error) {
	if amount <= 0 {
		return 0, "", &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if kind != domain.TransactionPurchase && kind != domain.TransactionWorkspaceAllocation {
		return 0, "", &domain.ValidationError{Field: "kind", Message: "must be PURCHASE or WORKSPACE_ALLOCATION"}
	}

	entry := &domain.CreditTransaction{
		ID:                uuid.NewString(),
		UserID:            userID,
		Kind:              kind,
		Amount:            amount,
		Description:       description,
		RelatedPaymentRef: paymentRef,
		AmountCentsUSD:    amountCentsUSD,
		CreatedAt:         time.Now().UTC(),
	}

	balance, err := s.store.ApplyCredit(ctx, userID, amount, entry)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			return 0, "", err
		}
		return 0, "", fmt.Errorf("credit user %s: %w", userID, err)
	}
	return balance, entry.ID, nil
}

// Refund restores amount credits as compensation for a prior debit on
// the given job. It is a credit restricted to the REFUND kind.
func (s *Service) Refund(ctx context.Context, userID string, amount int, description, relatedJobID string) (int, string, error) {
	if amount <= 0 {
		return 0, "", &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}

	entry := &domain.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         domain.TransactionRefund,
		Amount:       amount,
		Description:  description,
		RelatedJobID: relatedJobID,
		CreatedAt:    time.Now().UTC(),
	}

	balance, err := s.store.ApplyCredit(ctx, userID, amount, entry)
	if err != nil {
		return 0, "", fmt.Errorf("refund user %s: %w", userID, err)
	}
	return balance, entry.ID, nil
}

// Balance returns the user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	return s.store.Balance(ctx, userID)
}

// History lists the most recent transaction log entries for the user.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

func (s *Service) notifyLowBalance(userID string, balance int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.notifier.NotifyLowBalance(ctx, userID, balance); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Int("balance", balance).Msg("credits: low balance notification failed")
	}
}
