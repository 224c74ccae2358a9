package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/providers/sora"
	"server/internal/storage"
	"server/internal/video"
)

// reconcileWorker sweeps active jobs against the provider so that jobs
// whose owners stopped polling still reach a terminal state and get
// their refunds.
type reconcileWorker struct {
	orchestrator *video.Orchestrator
	videos       domain.VideoRepository
	logger       infra.Logger

	interval   time.Duration
	minAge     time.Duration
	batchSize  int
	jobTimeout time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	soraClient, err := sora.NewClient(sora.Options{
		APIKey:         cfg.SoraAPIKey,
		BaseURL:        cfg.SoraBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure video provider")
	}

	ledgerRepo := repo.NewLedgerRepository(pool)
	videoRepo := repo.NewVideoRepository(pool)
	creditsSvc := credits.NewService(ledgerRepo, notify.NewLogNotifier(logger), logger)
	orchestrator := video.NewOrchestrator(videoRepo, creditsSvc, soraClient, fileStore, logger)

	worker := &reconcileWorker{
		orchestrator: orchestrator,
		videos:       videoRepo,
		logger:       logger,
		interval:     cfg.ReconcileInterval,
		minAge:       cfg.ReconcileMinAge,
		batchSize:    cfg.ReconcileBatchSize,
		jobTimeout:   cfg.ProviderTimeout,
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *reconcileWorker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *reconcileWorker) sweep(ctx context.Context) {
	jobs, err := w.videos.ListReconcilable(ctx, w.minAge, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: failed to list reconcilable jobs")
		return
	}
	for i := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.reconcileOne(ctx, jobs[i].ID)
	}
}

func (w *reconcileWorker) reconcileOne(ctx context.Context, jobID string) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	job, err := w.orchestrator.Reconcile(jobCtx, jobID)
	if err != nil {
		// Transient provider errors leave the job untouched; the next
		// sweep picks it up again.
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: reconcile failed")
		return
	}
	if job.Status.Terminal() {
		w.logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("worker: job reconciled to terminal state")
	}
}
