package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/video"
)

type videoGenerateRequest struct {
	Prompt          string `json:"prompt"`
	Model           string `json:"model"`
	Size            string `json:"size"`
	DurationSeconds int    `json:"duration_seconds"`
}

type videoRemixRequest struct {
	Prompt string `json:"prompt"`
}

type videoSummary struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Prompt          string     `json:"prompt"`
	Model           string     `json:"model"`
	Size            string     `json:"size"`
	DurationSeconds int        `json:"duration_seconds"`
	CreditsCost     int        `json:"credits_cost"`
	Progress        int        `json:"progress"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RemixedFrom     string     `json:"remixed_from,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	HasVideo        bool       `json:"has_video"`
	HasThumbnail    bool       `json:"has_thumbnail"`
}

func summarize(v *domain.Video) videoSummary {
	return videoSummary{
		ID:              v.ID,
		Status:          string(v.Status),
		Prompt:          v.Prompt,
		Model:           v.Model,
		Size:            v.Size,
		DurationSeconds: v.DurationSeconds,
		CreditsCost:     v.CreditsCost,
		Progress:        v.Progress,
		ErrorMessage:    v.ErrorMessage,
		RemixedFrom:     v.RemixedFrom,
		CreatedAt:       v.CreatedAt,
		CompletedAt:     v.CompletedAt,
		HasVideo:        v.VideoKey != "",
		HasThumbnail:    v.ThumbKey != "",
	}
}

func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	job, err := a.Videos.Submit(r.Context(), video.SubmitRequest{
		UserID:          userID,
		Prompt:          req.Prompt,
		Model:           req.Model,
		Size:            req.Size,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, summarize(job))
}

func (a *App) VideoEstimate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	cost, err := a.Videos.EstimateCost(video.SubmitRequest{
		UserID:          userID,
		Prompt:          req.Prompt,
		Model:           req.Model,
		Size:            req.Size,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"credits_cost": cost})
}

func (a *App) VideoRemix(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	var req videoRemixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	job, err := a.Videos.Remix(r.Context(), userID, jobID, req.Prompt)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, summarize(job))
}

// VideoStatus reconciles the job against the provider before
// answering, so a poll from the client doubles as the reconciliation
// trigger.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	job, err := a.Videos.Get(r.Context(), userID, jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}

	reconciled, err := a.Videos.Reconcile(r.Context(), job.ID)
	if err != nil {
		// Last known state still answers the poll; the next one retries.
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("handlers: reconcile on status failed")
	}
	if reconciled != nil {
		job = reconciled
	}
	a.json(w, http.StatusOK, summarize(job))
}

func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobs, err := a.Videos.ListByUser(r.Context(), userID, 50)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]videoSummary, 0, len(jobs))
	for i := range jobs {
		items = append(items, summarize(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) VideoDownload(w http.ResponseWriter, r *http.Request) {
	a.serveArtifact(w, r, domain.ArtifactVideo, "video/mp4")
}

func (a *App) VideoThumbnail(w http.ResponseWriter, r *http.Request) {
	a.serveArtifact(w, r, domain.ArtifactThumbnail, "image/webp")
}

func (a *App) serveArtifact(w http.ResponseWriter, r *http.Request, variant domain.ArtifactVariant, contentType string) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	data, err := a.Videos.Artifact(r.Context(), userID, jobID, variant)
	if err != nil {
		a.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) VideoDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	if err := a.Videos.Delete(r.Context(), userID, jobID); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"deleted": true})
}
