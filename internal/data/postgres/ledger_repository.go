package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepository implements the append-only ledger.Repository for PostgreSQL
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger entry repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to tx
func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create appends an entry. The partial unique indexes reject a second debit or release per hold.
func (r *LedgerRepository) Create(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (id, from_account_id, to_account_id, amount, kind, hold_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		entry.ID,
		entry.FromAccountID,
		entry.ToAccountID,
		entry.Amount,
		string(entry.Kind),
		entry.HoldID,
		string(entry.Reason),
		entry.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ledger.ErrDuplicateEntry{EntryID: entry.ID}
		}
		r.logger.Error("Failed to create ledger entry",
			"entry_id", entry.ID.String(),
			"hold_id", entry.HoldID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

// ListByHoldID returns every entry of a hold in insertion order
func (r *LedgerRepository) ListByHoldID(ctx context.Context, holdID uuid.UUID) ([]*ledger.Entry, error) {
	query := `
		SELECT id, from_account_id, to_account_id, amount, kind, hold_id, reason, created_at
		FROM ledger_entries
		WHERE hold_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.querier.Query(ctx, query, holdID)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "hold_id", holdID.String(), "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var (
			entry        ledger.Entry
			kind, reason string
		)
		err := rows.Scan(
			&entry.ID,
			&entry.FromAccountID,
			&entry.ToAccountID,
			&entry.Amount,
			&kind,
			&entry.HoldID,
			&reason,
			&entry.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.Kind = ledger.Kind(kind)
		entry.Reason = ledger.Reason(reason)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over ledger entries", "error", err)
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}

	return entries, nil
}
