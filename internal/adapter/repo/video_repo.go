package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const videoColumns = `
id, user_id, COALESCE(provider_job_id, ''), status, credits_cost, prompt, model, size,
duration_seconds, progress, COALESCE(video_key, ''), COALESCE(thumb_key, ''),
COALESCE(error_message, ''), COALESCE(remixed_from, ''), created_at, updated_at, completed_at`

// VideoRepositoryPG implements domain.VideoRepository on PostgreSQL.
type VideoRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewVideoRepository creates a video repository backed by PostgreSQL.
func NewVideoRepository(pool *pgxpool.Pool) *VideoRepositoryPG {
	return &VideoRepositoryPG{pool: pool}
}

func (r *VideoRepositoryPG) Create(ctx context.Context, v *domain.Video) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO videos
  (id, user_id, provider_job_id, status, credits_cost, prompt, model, size,
   duration_seconds, progress, remixed_from, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13);
`, v.ID, v.UserID, v.ProviderJobID, v.Status, v.CreditsCost, v.Prompt, v.Model, v.Size,
		v.DurationSeconds, v.Progress, v.RemixedFrom, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r *VideoRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1;`, id)
	return scanVideo(row)
}

func (r *VideoRepositoryPG) GetByProviderJobID(ctx context.Context, providerJobID string) (*domain.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE provider_job_id = $1;`, providerJobID)
	return scanVideo(row)
}

func (r *VideoRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Video, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+videoColumns+`
FROM videos
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVideos(rows)
}

func (r *VideoRepositoryPG) UpdateProgress(ctx context.Context, id string, status domain.VideoStatus, progress int) error {
	_, err := r.pool.Exec(ctx, `
UPDATE videos
SET status = $2, progress = $3, updated_at = NOW()
WHERE id = $1 AND status IN ('QUEUED', 'IN_PROGRESS');
`, id, status, progress)
	return err
}

// FinishIfActive is the compare-and-set transition into a terminal
// state. The status guard makes concurrent reconciliations commute:
// exactly one caller observes rows affected and owns the follow-up
// compensation.
func (r *VideoRepositoryPG) FinishIfActive(ctx context.Context, id string, upd domain.TerminalUpdate) (bool, error) {
	var completedAt *time.Time
	progress := `progress`
	if upd.Status == domain.VideoStatusCompleted {
		completedAt = &upd.CompletedAt
		progress = `100`
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE videos
SET status = $2,
    video_key = COALESCE(NULLIF($3, ''), video_key),
    thumb_key = COALESCE(NULLIF($4, ''), thumb_key),
    error_message = NULLIF($5, ''),
    completed_at = $6,
    progress = `+progress+`,
    updated_at = NOW()
WHERE id = $1 AND status IN ('QUEUED', 'IN_PROGRESS');
`, id, upd.Status, upd.VideoKey, upd.ThumbKey, upd.ErrorMessage, completedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *VideoRepositoryPG) ListReconcilable(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Video, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+videoColumns+`
FROM videos
WHERE status IN ('QUEUED', 'IN_PROGRESS')
  AND provider_job_id IS NOT NULL
  AND updated_at < NOW() - make_interval(secs => $1)
ORDER BY updated_at ASC
LIMIT $2;
`, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVideos(rows)
}

func (r *VideoRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanVideo(row pgx.Row) (*domain.Video, error) {
	var v domain.Video
	if err := row.Scan(&v.ID, &v.UserID, &v.ProviderJobID, &v.Status, &v.CreditsCost, &v.Prompt,
		&v.Model, &v.Size, &v.DurationSeconds, &v.Progress, &v.VideoKey, &v.ThumbKey,
		&v.ErrorMessage, &v.RemixedFrom, &v.CreatedAt, &v.UpdatedAt, &v.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func collectVideos(rows pgx.Rows) ([]domain.Video, error) {
	var items []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	return items, rows.Err()
}

var _ domain.VideoRepository = (*VideoRepositoryPG)(nil)
