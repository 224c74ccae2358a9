package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/payments"
	"server/internal/providers/checkout"
	"server/internal/providers/sora"
	"server/internal/storage"
	"server/internal/video"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	soraClient, err := sora.NewClient(sora.Options{
		APIKey:         cfg.SoraAPIKey,
		BaseURL:        cfg.SoraBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure video provider")
	}
	checkoutClient, err := checkout.NewClient(checkout.Options{
		APIKey:  cfg.CheckoutAPIKey,
		BaseURL: cfg.CheckoutBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure payment processor")
	}

	ledgerRepo := repo.NewLedgerRepository(dbpool)
	videoRepo := repo.NewVideoRepository(dbpool)

	creditsSvc := credits.NewService(ledgerRepo, notify.NewLogNotifier(logger), logger)
	orchestrator := video.NewOrchestrator(videoRepo, creditsSvc, soraClient, fileStore, logger)
	reconciler := payments.NewReconciler(creditsSvc, ledgerRepo, checkoutClient, logger)

	app := handlers.NewApp(orchestrator, creditsSvc, reconciler, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
