package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
)

// Orchestrator owns the generation job state machine. It debits the
// ledger before contacting the provider, reconciles provider-reported
// state into local job records and applies refund compensation when a
// job fails or its artifact cannot be retrieved. Reconciliation is
// idempotent: once a job is terminal, further calls are no-ops.
type Orchestrator struct {
	videos   domain.VideoRepository
	ledger   *credits.Service
	provider domain.Generator
	blobs    domain.BlobStore
	logger   infra.Logger
}

// NewOrchestrator wires the job orchestrator.
func NewOrchestrator(videos domain.VideoRepository, ledger *credits.Service, provider domain.Generator, blobs domain.BlobStore, logger infra.Logger) *Orchestrator {
	return &Orchestrator{
		videos:   videos,
		ledger:   ledger,
		provider: provider,
		blobs:    blobs,
		logger:   logger,
	}
}

// SubmitRequest describes one generation submission.
type SubmitRequest struct {
	UserID          string
	Prompt          string
	Model           string
	Size            string
	DurationSeconds int
}

// Submit validates the request, debits the ledger, submits the job to
// the provider and persists the job record. A provider failure after
// the debit is compensated with an equal refund so the operation nets
// to zero.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.Video, error) {
	if err := ValidateRequest(req.Prompt, req.Model, req.Size, req.DurationSeconds); err != nil {
		return nil, err
	}

	cost := CreditCost(req.Model, req.Size, req.DurationSeconds)
	jobID := uuid.NewString()

	desc := fmt.Sprintf("Video generation - %s %s %ds", req.Model, req.Size, req.DurationSeconds)
	if _, _, err := o.ledger.Debit(ctx, req.UserID, cost, desc, jobID); err != nil {
		return nil, err
	}

	providerJob, err := o.provider.Submit(ctx, domain.GenerationRequest{
		Prompt:          req.Prompt,
		Model:           req.Model,
		Size:            req.Size,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return nil, o.compensateSubmit(ctx, req.UserID, cost, jobID, err)
	}

	job := o.newJob(jobID, req, cost, providerJob, "")
	if err := o.videos.Create(ctx, job); err != nil {
		// Job exists at the provider but we failed to record it; cancel
		// best-effort and restore the debit.
		if cancelErr := o.provider.Cancel(ctx, providerJob.ID); cancelErr != nil {
			o.logger.Warn().Err(cancelErr).Str("provider_job_id", providerJob.ID).Msg("video: cancel after persist failure")
		}
		return nil, o.compensateSubmit(ctx, req.UserID, cost, jobID, err)
	}

	o.logger.Info().Str("job_id", job.ID).Str("provider_job_id", job.ProviderJobID).
		Int("credits_cost", cost).Msg("video: job submitted")
	return job, nil
}

// Remix submits a derivative job based on an already-submitted one,
// with the same debit and compensation flow as Submit.
func (o *Orchestrator) Remix(ctx context.Context, userID, sourceJobID, prompt string) (*domain.Video, error) {
	source, err := o.videos.GetByID(ctx, sourceJobID)
	if err != nil {
		return nil, err
	}
	if source.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if source.ProviderJobID == "" {
		return nil, &domain.ValidationError{Field: "source", Message: "source job has no provider job"}
	}
	if err := ValidateRequest(prompt, source.Model, source.Size, source.DurationSeconds); err != nil {
		return nil, err
	}

	cost := CreditCost(source.Model, source.Size, source.DurationSeconds)
	jobID := uuid.NewString()

	desc := fmt.Sprintf("Video remix - %s %s %ds", source.Model, source.Size, source.DurationSeconds)
	if _, _, err := o.ledger.Debit(ctx, userID, cost, desc, jobID); err != nil {
		return nil, err
	}

	providerJob, err := o.provider.Remix(ctx, source.ProviderJobID, prompt)
	if err != nil {
		return nil, o.compensateSubmit(ctx, userID, cost, jobID, err)
	}

	req := SubmitRequest{
		UserID:          userID,
		Prompt:          prompt,
		Model:           source.Model,
		Size:            source.Size,
		DurationSeconds: source.DurationSeconds,
	}
	job := o.newJob(jobID, req, cost, providerJob, sourceJobID)
	if err := o.videos.Create(ctx, job); err != nil {
		if cancelErr := o.provider.Cancel(ctx, providerJob.ID); cancelErr != nil {
			o.logger.Warn().Err(cancelErr).Str("provider_job_id", providerJob.ID).Msg("video: cancel after persist failure")
		}
		return nil, o.compensateSubmit(ctx, userID, cost, jobID, err)
	}
	return job, nil
}

// Reconcile fetches authoritative provider status for the job and
// applies the corresponding local transition. Safe to call any number
// of times, concurrently, from the status endpoint or the background
// worker: terminal jobs are returned untouched and the terminal
// transition itself is a compare-and-set, so at most one caller runs
// the refund compensation.
func (o *Orchestrator) Reconcile(ctx context.Context, jobID string) (*domain.Video, error) {
	job, err := o.videos.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if job.ProviderJobID == "" {
		return job, nil
	}

	status, err := o.provider.Status(ctx, job.ProviderJobID)
	if err != nil {
		// A timeout or transport error is not a verdict; the job keeps
		// its last known state and the caller retries.
		return job, fmt.Errorf("fetch provider status for job %s: %w", jobID, err)
	}

	switch status.State {
	case domain.ProviderStateCompleted:
		return o.complete(ctx, job)
	case domain.ProviderStateFailed:
		msg := status.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		return o.fail(ctx, job, msg)
	default:
		if err := o.videos.UpdateProgress(ctx, job.ID, domain.VideoStatusInProgress, status.Progress); err != nil {
			return job, err
		}
		job.Status = domain.VideoStatusInProgress
		job.Progress = status.Progress
		return job, nil
	}
}

// EstimateCost validates a prospective request and returns what it
// would cost, without any ledger effect.
func (o *Orchestrator) EstimateCost(req SubmitRequest) (int, error) {
	if err := ValidateRequest(req.Prompt, req.Model, req.Size, req.DurationSeconds); err != nil {
		return 0, err
	}
	return CreditCost(req.Model, req.Size, req.DurationSeconds), nil
}

// Get returns the job record without contacting the provider.
func (o *Orchestrator) Get(ctx context.Context, userID, jobID string) (*domain.Video, error) {
	job, err := o.videos.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// ListByUser returns the user's most recent jobs.
func (o *Orchestrator) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Video, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return o.videos.ListByUser(ctx, userID, limit)
}

// Artifact loads a stored artifact for a completed job.
func (o *Orchestrator) Artifact(ctx context.Context, userID, jobID string, variant domain.ArtifactVariant) ([]byte, error) {
	job, err := o.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.VideoStatusCompleted {
		return nil, domain.ErrArtifactUnavailable
	}
	key := job.VideoKey
	if variant == domain.ArtifactThumbnail {
		key = job.ThumbKey
	}
	if key == "" {
		return nil, domain.ErrArtifactUnavailable
	}
	return o.blobs.Read(ctx, key)
}

// Delete removes the job record after a best-effort provider-side
// cancellation. Credits already settled are not touched.
func (o *Orchestrator) Delete(ctx context.Context, userID, jobID string) error {
	job, err := o.Get(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.ProviderJobID != "" {
		if err := o.provider.Cancel(ctx, job.ProviderJobID); err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("video: provider cancel failed")
		}
	}
	return o.videos.Delete(ctx, jobID)
}

func (o *Orchestrator) newJob(jobID string, req SubmitRequest, cost int, providerJob *domain.ProviderJob, remixedFrom string) *domain.Video {
	status := domain.VideoStatusInProgress
	if providerJob.State == domain.ProviderStateQueued {
		status = domain.VideoStatusQueued
	}
	now := time.Now().UTC()
	return &domain.Video{
		ID:              jobID,
		UserID:          req.UserID,
		ProviderJobID:   providerJob.ID,
		Status:          status,
		CreditsCost:     cost,
		Prompt:          req.Prompt,
		Model:           req.Model,
		Size:            req.Size,
		DurationSeconds: req.DurationSeconds,
		RemixedFrom:     remixedFrom,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// complete downloads the artifact and transitions the job to
// COMPLETED. A job is never marked COMPLETED without a stored
// artifact: when retrieval fails the job fails and the debit is
// refunded.
func (o *Orchestrator) complete(ctx context.Context, job *domain.Video) (*domain.Video, error) {
	data, err := o.provider.FetchArtifact(ctx, job.ProviderJobID, domain.ArtifactVideo)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("video: artifact retrieval failed")
		return o.fail(ctx, job, "artifact retrieval failed")
	}

	videoKey, err := o.blobs.Write(ctx, fmt.Sprintf("videos/%s.mp4", job.ID), data)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("video: artifact persist failed")
		return o.fail(ctx, job, "artifact retrieval failed")
	}

	thumbKey := ""
	if thumb, err := o.provider.FetchArtifact(ctx, job.ProviderJobID, domain.ArtifactThumbnail); err == nil {
		if key, werr := o.blobs.Write(ctx, fmt.Sprintf("videos/%s-thumb.webp", job.ID), thumb); werr == nil {
			thumbKey = key
		}
	}

	completedAt := time.Now().UTC()
	won, err := o.videos.FinishIfActive(ctx, job.ID, domain.TerminalUpdate{
		Status:      domain.VideoStatusCompleted,
		VideoKey:    videoKey,
		ThumbKey:    thumbKey,
		CompletedAt: completedAt,
	})
	if err != nil {
		return job, err
	}
	if !won {
		// A concurrent reconciliation reached a terminal state first.
		return o.videos.GetByID(ctx, job.ID)
	}

	job.Status = domain.VideoStatusCompleted
	job.VideoKey = videoKey
	job.ThumbKey = thumbKey
	job.Progress = 100
	job.CompletedAt = &completedAt
	o.logger.Info().Str("job_id", job.ID).Msg("video: job completed")
	return job, nil
}

// fail transitions the job to FAILED and, if this call won the
// transition, refunds the job's cost exactly once.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Video, errMsg string) (*domain.Video, error) {
	won, err := o.videos.FinishIfActive(ctx, job.ID, domain.TerminalUpdate{
		Status:       domain.VideoStatusFailed,
		ErrorMessage: errMsg,
	})
	if err != nil {
		return job, err
	}
	if !won {
		return o.videos.GetByID(ctx, job.ID)
	}

	job.Status = domain.VideoStatusFailed
	job.ErrorMessage = errMsg

	if _, _, err := o.ledger.Refund(ctx, job.UserID, job.CreditsCost, "Automatic refund - generation failed", job.ID); err != nil {
		// The user is debited with no artifact and no refund; this must
		// reach an operator, not be dropped.
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).
			Int("credits", job.CreditsCost).Msg("video: ALERT refund compensation failed")
		return job, fmt.Errorf("refund for failed job %s: %w", job.ID, err)
	}

	o.logger.Info().Str("job_id", job.ID).Str("reason", errMsg).Msg("video: job failed, credits refunded")
	return job, nil
}

// compensateSubmit restores the debit taken before a provider call
// that did not produce a job, then surfaces the provider error.
func (o *Orchestrator) compensateSubmit(ctx context.Context, userID string, cost int, jobID string, cause error) error {
	if _, _, err := o.ledger.Refund(ctx, userID, cost, "Refund - video generation failed", jobID); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Str("user_id", userID).
			Int("credits", cost).Msg("video: ALERT refund compensation failed")
		return errors.Join(cause, err)
	}
	var provErr *domain.ProviderError
	if errors.As(cause, &provErr) {
		return cause
	}
	return fmt.Errorf("submit job: %w", cause)
}
