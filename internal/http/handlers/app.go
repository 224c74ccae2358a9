package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/payments"
	"server/internal/video"
)

// App bundles the services the HTTP handlers depend on.
type App struct {
	Videos   *video.Orchestrator
	Credits  *credits.Service
	Payments *payments.Reconciler
	Logger   infra.Logger
}

// NewApp builds the handler container.
func NewApp(videos *video.Orchestrator, credits *credits.Service, payments *payments.Reconciler, logger infra.Logger) *App {
	return &App{Videos: videos, Credits: credits, Payments: payments, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errCode, "message": message})
}

// currentUserID returns the authenticated subject. Session issuance
// lives in the edge layer; it forwards the identity in a header.
func (a *App) currentUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// domainError maps service errors onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var creditsErr *domain.InsufficientCreditsError

	switch {
	case errors.As(err, &validationErr):
		a.error(w, http.StatusBadRequest, "validation_error", validationErr.Error())
	case errors.As(err, &creditsErr):
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient_credits",
			"message":   creditsErr.Error(),
			"required":  creditsErr.Required,
			"available": creditsErr.Available,
		})
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
	case errors.Is(err, domain.ErrPaymentNotSettled):
		a.error(w, http.StatusBadRequest, "payment_not_settled", "payment has not completed")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrArtifactUnavailable):
		a.error(w, http.StatusNotFound, "artifact_unavailable", "no artifact available for this job")
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "generation_failed", err.Error()+" (credits restored)")
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
