package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	holdColumns = `id, sender_account_id, amount, recipient_method, recipient_contact, recipient_account_id,
		status, token, message, COALESCE(idempotency_key, ''), created_at, expires_at,
		delivered_at, opened_at, resolved_at, escrow_txn_id, resolution_txn_id`

	defaultExpiredBatchSize = 100
)

// HoldRepository implements the hold.Repository interface for PostgreSQL
type HoldRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewHoldRepository creates a new PostgreSQL hold repository
func NewHoldRepository(logger *slog.Logger, db *persistence.PostgresDB) hold.Repository {
	return &HoldRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to tx
func (r *HoldRepository) WithTx(tx pgx.Tx) hold.Repository {
	return &HoldRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts a pending hold. A reused idempotency key surfaces as ErrDuplicateIdempotencyKey.
func (r *HoldRepository) Create(ctx context.Context, h *hold.Hold) error {
	query := `
		INSERT INTO holds (id, sender_account_id, amount, recipient_method, recipient_contact, status, token,
			message, idempotency_key, created_at, expires_at, escrow_txn_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
	`

	_, err := r.querier.Exec(ctx, query,
		h.ID,
		h.SenderAccountID,
		h.Amount,
		string(h.Recipient.Method()),
		h.Recipient.Contact(),
		string(h.Status),
		h.Token,
		h.Message,
		h.IdempotencyKey,
		h.CreatedAt,
		h.ExpiresAt,
		h.EscrowTxnID,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "holds_sender_idempotency_key" {
			return hold.ErrDuplicateIdempotencyKey{Key: h.IdempotencyKey}
		}
		r.logger.Error("Failed to create hold", "hold_id", h.ID.String(), "error", err)
		return fmt.Errorf("failed to create hold: %w", err)
	}

	return nil
}

// FindByID retrieves a hold by id
func (r *HoldRepository) FindByID(ctx context.Context, id uuid.UUID) (*hold.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`

	h, err := scanHold(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hold.ErrHoldNotFound{Ref: id.String()}
		}
		r.logger.Error("Failed to get hold", "hold_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}

	return h, nil
}

// FindByToken retrieves a hold by its bearer token. The token is never logged.
func (r *HoldRepository) FindByToken(ctx context.Context, token string) (*hold.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE token = $1`

	h, err := scanHold(r.querier.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hold.ErrHoldNotFound{Ref: "token"}
		}
		r.logger.Error("Failed to get hold by token", "error", err)
		return nil, fmt.Errorf("failed to get hold by token: %w", err)
	}

	return h, nil
}

// FindBySenderAndIdempotencyKey returns nil, nil when the key is unused
func (r *HoldRepository) FindBySenderAndIdempotencyKey(ctx context.Context, sender uuid.UUID, key string) (*hold.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE sender_account_id = $1 AND idempotency_key = $2`

	h, err := scanHold(r.querier.QueryRow(ctx, query, sender, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get hold by idempotency key", "sender_id", sender.String(), "error", err)
		return nil, fmt.Errorf("failed to get hold by idempotency key: %w", err)
	}

	return h, nil
}

// FindResolvableExpired pages through overdue holds by (expires_at, id) so that rows
// transitioned mid-scan never shift the window. The sequence stops after the first error.
func (r *HoldRepository) FindResolvableExpired(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*hold.Hold, error] {
	if batchSize <= 0 {
		batchSize = defaultExpiredBatchSize
	}

	return func(yield func(*hold.Hold, error) bool) {
		var afterExpiresAt time.Time
		var afterID uuid.UUID

		for {
			batch, err := r.expiredPage(ctx, now, afterExpiresAt, afterID, batchSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, h := range batch {
				if !yield(h, nil) {
					return
				}
			}
			if len(batch) < batchSize {
				return
			}
			last := batch[len(batch)-1]
			afterExpiresAt, afterID = last.ExpiresAt, last.ID
		}
	}
}

func (r *HoldRepository) expiredPage(ctx context.Context, now, afterExpiresAt time.Time, afterID uuid.UUID, limit int) ([]*hold.Hold, error) {
	query := `
		SELECT ` + holdColumns + `
		FROM holds
		WHERE status = ANY($1::text[]) AND expires_at <= $2 AND (expires_at, id) > ($3, $4)
		ORDER BY expires_at, id
		LIMIT $5
	`

	rows, err := r.querier.Query(ctx, query, statusStrings(hold.ResolvableStatuses), now, afterExpiresAt, afterID, limit)
	if err != nil {
		r.logger.Error("Failed to query expired holds", "error", err)
		return nil, fmt.Errorf("failed to query expired holds: %w", err)
	}
	return r.collect(rows, "expired holds")
}

// TryTransition is the compare-and-swap every terminal transition goes through
func (r *HoldRepository) TryTransition(ctx context.Context, t hold.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	query := `
		UPDATE holds
		SET status = $1, resolution_txn_id = $2, recipient_account_id = COALESCE($3, recipient_account_id), resolved_at = $4
		WHERE id = $5 AND status = ANY($6::text[])
	`

	result, err := r.querier.Exec(ctx, query,
		string(t.To),
		t.ResolutionTxnID,
		t.RecipientAccountID,
		t.At,
		t.HoldID,
		t.FromStrings(),
	)
	if err != nil {
		r.logger.Error("Failed to transition hold",
			"hold_id", t.HoldID.String(),
			"to", string(t.To),
			"error", err,
		)
		return false, fmt.Errorf("failed to transition hold: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkDelivered moves a pending hold to delivered
func (r *HoldRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE holds
		SET status = $1, delivered_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.querier.Exec(ctx, query, string(hold.StatusDelivered), at, id, string(hold.StatusPending))
	if err != nil {
		r.logger.Error("Failed to mark hold delivered", "hold_id", id.String(), "error", err)
		return false, fmt.Errorf("failed to mark hold delivered: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkOpened moves a pending or delivered hold to opened
func (r *HoldRepository) MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE holds
		SET status = $1, opened_at = $2
		WHERE id = $3 AND status = ANY($4::text[])
	`

	from := []string{string(hold.StatusPending), string(hold.StatusDelivered)}
	result, err := r.querier.Exec(ctx, query, string(hold.StatusOpened), at, id, from)
	if err != nil {
		r.logger.Error("Failed to mark hold opened", "hold_id", id.String(), "error", err)
		return false, fmt.Errorf("failed to mark hold opened: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ListBySender returns holds created by sender, newest first
func (r *HoldRepository) ListBySender(ctx context.Context, sender uuid.UUID, limit, offset int) ([]*hold.Hold, error) {
	query := `
		SELECT ` + holdColumns + `
		FROM holds
		WHERE sender_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, sender, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list holds by sender", "sender_id", sender.String(), "error", err)
		return nil, fmt.Errorf("failed to list holds by sender: %w", err)
	}
	return r.collect(rows, "sent holds")
}

// CountBySender counts every hold created by sender
func (r *HoldRepository) CountBySender(ctx context.Context, sender uuid.UUID) (int64, error) {
	var count int64
	err := r.querier.QueryRow(ctx, `SELECT COUNT(*) FROM holds WHERE sender_account_id = $1`, sender).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count holds by sender", "sender_id", sender.String(), "error", err)
		return 0, fmt.Errorf("failed to count holds by sender: %w", err)
	}
	return count, nil
}

// ListAwaiting returns non-terminal holds addressed to any of ids, newest first
func (r *HoldRepository) ListAwaiting(ctx context.Context, ids []identity.Identity, limit, offset int) ([]*hold.Hold, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	methods := make([]string, len(ids))
	contacts := make([]string, len(ids))
	for i, id := range ids {
		methods[i] = string(id.Method())
		contacts[i] = id.Contact()
	}

	query := `
		SELECT ` + holdColumns + `
		FROM holds
		WHERE (recipient_method, recipient_contact) IN (SELECT * FROM unnest($1::text[], $2::text[]))
			AND status = ANY($3::text[])
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.querier.Query(ctx, query, methods, contacts, statusStrings(hold.ResolvableStatuses), limit, offset)
	if err != nil {
		r.logger.Error("Failed to list awaiting holds", "error", err)
		return nil, fmt.Errorf("failed to list awaiting holds: %w", err)
	}
	return r.collect(rows, "awaiting holds")
}

func (r *HoldRepository) collect(rows pgx.Rows, what string) ([]*hold.Hold, error) {
	defer rows.Close()

	var holds []*hold.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			r.logger.Error("Failed to scan hold", "query", what, "error", err)
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		holds = append(holds, h)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over holds", "query", what, "error", err)
		return nil, fmt.Errorf("error iterating over %s: %w", what, err)
	}

	return holds, nil
}

func scanHold(row pgx.Row) (*hold.Hold, error) {
	var (
		h                       hold.Hold
		method, contact, status string
	)
	err := row.Scan(
		&h.ID,
		&h.SenderAccountID,
		&h.Amount,
		&method,
		&contact,
		&h.RecipientAccountID,
		&status,
		&h.Token,
		&h.Message,
		&h.IdempotencyKey,
		&h.CreatedAt,
		&h.ExpiresAt,
		&h.DeliveredAt,
		&h.OpenedAt,
		&h.ResolvedAt,
		&h.EscrowTxnID,
		&h.ResolutionTxnID,
	)
	if err != nil {
		return nil, err
	}

	recipient, err := identity.Parse(method, contact)
	if err != nil {
		return nil, fmt.Errorf("stored recipient identity: %w", err)
	}
	h.Recipient = recipient
	h.Status = hold.Status(status)

	return &h, nil
}

func statusStrings(statuses []hold.Status) []string {
	return hold.Transition{From: statuses}.FromStrings()
}
