// Package postgres provides PostgreSQL implementations of the domain repositories.
// Balance mutation, hold status compare-and-swap and ledger appends are each a single
// statement so that callers can compose them inside one transaction via WithTx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewAccountRepository creates a new PostgreSQL account repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewAccountRepository(logger *slog.Logger, db *persistence.PostgresDB) account.Repository {
	return &AccountRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to tx
func (r *AccountRepository) WithTx(tx pgx.Tx) account.Repository {
	return &AccountRepository{
		querier: tx,
		logger:  r.logger,
	}
}

var accountConstraintFields = map[string]string{
	"accounts_username_key": "username",
	"accounts_email_key":    "email",
	"accounts_phone_key":    "phone",
}

// Create stores a new account. Empty email or phone are stored as NULL.
func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	query := `
		INSERT INTO accounts (id, username, email, phone, balance, version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		acc.ID,
		acc.Username,
		acc.Email,
		acc.Phone,
		acc.Balance,
		acc.Version,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			field, known := accountConstraintFields[constraint]
			if !known {
				field = "identity"
			}
			return account.ErrDuplicateIdentity{Field: field}
		}
		r.logger.Error("Failed to create account", "error", err)
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), COALESCE(phone, ''), balance, version, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	acc, err := scanAccount(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound{AccountID: id}
		}
		r.logger.Error("Failed to get account", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return acc, nil
}

// FindByIdentity looks the account up by the column matching the identity variant
func (r *AccountRepository) FindByIdentity(ctx context.Context, id identity.Identity) (*account.Account, error) {
	var column string
	switch id.(type) {
	case identity.Email:
		column = "email"
	case identity.Phone:
		column = "phone"
	case identity.Username:
		column = "username"
	default:
		return nil, fmt.Errorf("unsupported identity %T", id)
	}

	query := `
		SELECT id, username, COALESCE(email, ''), COALESCE(phone, ''), balance, version, created_at, updated_at
		FROM accounts
		WHERE ` + column + ` = $1
	`

	acc, err := scanAccount(r.querier.QueryRow(ctx, query, id.Contact()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find account by identity", "method", string(id.Method()), "error", err)
		return nil, fmt.Errorf("failed to find account by identity: %w", err)
	}

	return acc, nil
}

// Debit subtracts amount only when the balance covers it
func (r *AccountRepository) Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, account.ErrInvalidAmount
	}

	query := `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`

	var balance int64
	err := r.querier.QueryRow(ctx, query, amount, id).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to debit account", "id", id.String(), "error", err)
		return 0, fmt.Errorf("failed to debit account: %w", err)
	}

	// No row updated: either the account is missing or the balance is short
	var exists bool
	err = r.querier.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check account existence", "id", id.String(), "error", err)
		return 0, fmt.Errorf("failed to debit account: %w", err)
	}
	if !exists {
		return 0, account.ErrAccountNotFound{AccountID: id}
	}
	return 0, account.ErrInsufficientFunds
}

// Credit adds amount to the balance
func (r *AccountRepository) Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, account.ErrInvalidAmount
	}

	query := `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`

	var balance int64
	err := r.querier.QueryRow(ctx, query, amount, id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, account.ErrAccountNotFound{AccountID: id}
		}
		r.logger.Error("Failed to credit account", "id", id.String(), "error", err)
		return 0, fmt.Errorf("failed to credit account: %w", err)
	}

	return balance, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	err := row.Scan(
		&acc.ID,
		&acc.Username,
		&acc.Email,
		&acc.Phone,
		&acc.Balance,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
