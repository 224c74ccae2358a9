package handlers

import (
	"net/http"
	"time"

	"server/internal/domain"
)

type transactionItem struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	Amount            int       `json:"amount"`
	BalanceAfter      int       `json:"balance_after"`
	Description       string    `json:"description"`
	RelatedJobID      string    `json:"related_job_id,omitempty"`
	RelatedPaymentRef string    `json:"related_payment_ref,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Credits.Balance(r.Context(), userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"balance": balance})
}

func (a *App) CreditsTransactions(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	entries, err := a.Credits.History(r.Context(), userID, 50)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]transactionItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toTransactionItem(e))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func toTransactionItem(e domain.CreditTransaction) transactionItem {
	return transactionItem{
		ID:                e.ID,
		Kind:              string(e.Kind),
		Amount:            e.Amount,
		BalanceAfter:      e.BalanceAfter,
		Description:       e.Description,
		RelatedJobID:      e.RelatedJobID,
		RelatedPaymentRef: e.RelatedPaymentRef,
		CreatedAt:         e.CreatedAt,
	}
}
