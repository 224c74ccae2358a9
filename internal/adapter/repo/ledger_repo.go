package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const pgUniqueViolation = "23505"

// LedgerRepositoryPG implements domain.LedgerStore on PostgreSQL.
// Balance mutation and log append run in one transaction; the balance
// check rides on a conditional UPDATE so two racing debits against a
// low balance can never both commit.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a ledger store backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

func (r *LedgerRepositoryPG) ApplyDebit(ctx context.Context, userID string, amount int, entry *domain.CreditTransaction) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int
	row := tx.QueryRow(ctx, `
UPDATE users
SET credits = credits - $1, updated_at = NOW()
WHERE id = $2 AND credits >= $1
RETURNING credits;
`, amount, userID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.classifyRejectedDebit(ctx, userID)
		}
		return 0, err
	}

	entry.BalanceAfter = balance
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit tx: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepositoryPG) ApplyCredit(ctx context.Context, userID string, amount int, entry *domain.CreditTransaction) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int
	row := tx.QueryRow(ctx, `
UPDATE users
SET credits = credits + $1, updated_at = NOW()
WHERE id = $2
RETURNING credits;
`, amount, userID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}

	entry.BalanceAfter = balance
	if err := insertTransaction(ctx, tx, entry); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, domain.ErrDuplicateOperation
		}
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit credit tx: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	row := r.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1;`, userID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *LedgerRepositoryPG) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, kind, amount, balance_after, description,
       COALESCE(related_job_id, ''), COALESCE(related_payment_ref, ''), amount_cents_usd, created_at
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Description,
			&t.RelatedJobID, &t.RelatedPaymentRef, &t.AmountCentsUSD, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *LedgerRepositoryPG) FindByPaymentRef(ctx context.Context, ref string) (*domain.CreditTransaction, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, user_id, kind, amount, balance_after, description,
       COALESCE(related_job_id, ''), COALESCE(related_payment_ref, ''), amount_cents_usd, created_at
FROM credit_transactions
WHERE related_payment_ref = $1;
`, ref)
	var t domain.CreditTransaction
	if err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Description,
		&t.RelatedJobID, &t.RelatedPaymentRef, &t.AmountCentsUSD, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// classifyRejectedDebit distinguishes a missing account from an
// insufficient balance after the conditional UPDATE matched no row.
func (r *LedgerRepositoryPG) classifyRejectedDebit(ctx context.Context, userID string) error {
	var exists bool
	row := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1);`, userID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInsufficientCredits
}

func insertTransaction(ctx context.Context, tx pgx.Tx, entry *domain.CreditTransaction) error {
	_, err := tx.Exec(ctx, `
INSERT INTO credit_transactions
  (id, user_id, kind, amount, balance_after, description, related_job_id, related_payment_ref, amount_cents_usd, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10);
`, entry.ID, entry.UserID, entry.Kind, entry.Amount, entry.BalanceAfter, entry.Description,
		entry.RelatedJobID, entry.RelatedPaymentRef, entry.AmountCentsUSD, entry.CreatedAt)
	return err
}

var _ domain.LedgerStore = (*LedgerRepositoryPG)(nil)
