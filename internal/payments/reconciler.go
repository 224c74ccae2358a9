package payments

import (
	"context"
	"errors"
	"fmt"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
)

// Outcome reports what a payment application did. Applied is false
// when the payment reference had already been credited; repeated
// confirmations are a defined result, never an error.
type Outcome struct {
	Applied bool
	Credits int
	Balance int
}

// Reconciler turns confirmed processor payments into ledger credits,
// at most once per payment reference. The transaction log is the
// idempotency witness: a fast-path lookup handles redeliveries, and
// the store's uniqueness guarantee on the payment reference is the
// authoritative guard when two confirmations race.
type Reconciler struct {
	ledger    *credits.Service
	store     domain.LedgerStore
	processor domain.PaymentProcessor
	logger    infra.Logger
}

// NewReconciler wires the payment reconciler.
func NewReconciler(ledger *credits.Service, store domain.LedgerStore, processor domain.PaymentProcessor, logger infra.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, store: store, processor: processor, logger: logger}
}

// Confirm verifies the session with the processor and applies it.
// Webhook payloads and client confirmation calls both land here, so
// credits are always re-derived from verified session metadata and
// never taken from an inbound request body. A session the processor
// has not settled yet is rejected with ErrPaymentNotSettled and
// nothing is credited.
func (r *Reconciler) Confirm(ctx context.Context, sessionRef string) (*Outcome, error) {
	if sessionRef == "" {
		return nil, &domain.ValidationError{Field: "session_ref", Message: "required"}
	}

	session, err := r.processor.RetrieveSession(ctx, sessionRef)
	if err != nil {
		return nil, fmt.Errorf("retrieve session %s: %w", sessionRef, err)
	}
	if !session.Paid {
		return nil, domain.ErrPaymentNotSettled
	}
	if session.UserID == "" || session.Credits <= 0 {
		return nil, &domain.ValidationError{Field: "metadata", Message: "session metadata missing user or credits"}
	}

	return r.ApplyPayment(ctx, session.Ref, session.UserID, session.Credits, session.AmountTotalCents)
}

// ApplyPayment credits creditsGranted to the user for the given
// processor reference, exactly once. Callers must only pass settled
// payments.
func (r *Reconciler) ApplyPayment(ctx context.Context, processorRef, userID string, creditsGranted int, amountCents int64) (*Outcome, error) {
	if existing, err := r.store.FindByPaymentRef(ctx, processorRef); err == nil {
		return r.alreadyProcessed(ctx, existing)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup payment ref %s: %w", processorRef, err)
	}

	desc := fmt.Sprintf("Purchased %d credits", creditsGranted)
	balance, _, err := r.ledger.Credit(ctx, userID, creditsGranted, domain.TransactionPurchase, desc, processorRef, amountCents)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			// Lost the race against a concurrent confirmation for the
			// same payment; that credit is the one that counts.
			existing, lookupErr := r.store.FindByPaymentRef(ctx, processorRef)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup payment ref %s after duplicate: %w", processorRef, lookupErr)
			}
			return r.alreadyProcessed(ctx, existing)
		}
		return nil, err
	}

	r.logger.Info().Str("payment_ref", processorRef).Str("user_id", userID).
		Int("credits", creditsGranted).Int("balance", balance).Msg("payments: credits applied")
	return &Outcome{Applied: true, Credits: creditsGranted, Balance: balance}, nil
}

func (r *Reconciler) alreadyProcessed(ctx context.Context, entry *domain.CreditTransaction) (*Outcome, error) {
	balance, err := r.ledger.Balance(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Applied: false, Credits: entry.Amount, Balance: balance}, nil
}
