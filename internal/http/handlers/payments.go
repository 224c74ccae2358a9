package handlers

import (
	"encoding/json"
	"net/http"
)

type paymentConfirmRequest struct {
	SessionID string `json:"session_id"`
}

// webhookEvent is the processor's event envelope. Only the session id
// is read out of it; everything else is re-fetched from the processor
// before any credit moves.
type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (a *App) PaymentConfirm(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req paymentConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	outcome, err := a.Payments.Confirm(r.Context(), req.SessionID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"applied": outcome.Applied,
		"credits": outcome.Credits,
		"balance": outcome.Balance,
	})
}

// PaymentWebhook handles processor event deliveries. Redeliveries are
// expected and always acknowledged; the reconciler guarantees each
// session credits at most once.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	if event.Type != "checkout.session.completed" || event.Data.Object.ID == "" {
		a.json(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if _, err := a.Payments.Confirm(r.Context(), event.Data.Object.ID); err != nil {
		// A failed confirmation is retried by the processor; responding
		// non-2xx keeps the event in its retry queue.
		a.Logger.Error().Err(err).Str("session_ref", event.Data.Object.ID).Msg("handlers: webhook confirmation failed")
		a.error(w, http.StatusInternalServerError, "internal", "confirmation failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"received": true})
}
