package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the public API surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/videos", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.VideosGenerate)
		r.Get("/", app.VideosList)
		r.Post("/estimate", app.VideoEstimate)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", app.VideoStatus)
			r.Delete("/", app.VideoDelete)
			r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/remix", app.VideoRemix)
			r.Get("/download", app.VideoDownload)
			r.Get("/thumbnail", app.VideoThumbnail)
		})
	})

	r.Route("/v1/credits", func(r chi.Router) {
		r.Get("/", app.CreditsBalance)
		r.Get("/transactions", app.CreditsTransactions)
	})

	r.Route("/v1/payments", func(r chi.Router) {
		r.Post("/confirm", app.PaymentConfirm)
		r.Post("/webhook", app.PaymentWebhook)
	})

	return r
}
