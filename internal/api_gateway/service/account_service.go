package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/google/uuid"
)

// TokenIssuer mints bearer tokens. *auth.TokenIssuer implements it.
type TokenIssuer interface {
	Issue(accountID uuid.UUID, now time.Time) (string, error)
}

// AccountServiceImpl implements the AccountService interface
type AccountServiceImpl struct {
	accountRepo account.Repository
	history     ledger.HistoryRepository
	tokens      TokenIssuer
	logger      *slog.Logger
}

// NewAccountService creates a new account service
func NewAccountService(accountRepo account.Repository, history ledger.HistoryRepository, tokens TokenIssuer, logger *slog.Logger) AccountService {
	return &AccountServiceImpl{
		accountRepo: accountRepo,
		history:     history,
		tokens:      tokens,
		logger:      logger,
	}
}

// Register validates the contact details, stores the account and issues a token.
// Uniqueness of username, email and phone is enforced by the store.
func (s *AccountServiceImpl) Register(ctx context.Context, username, email, phone string, initialBalance int64) (*Registration, error) {
	acc, err := account.NewAccount(username, email, phone, initialBalance)
	if err != nil {
		return nil, err
	}

	if err := s.accountRepo.Create(ctx, acc); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(acc.ID, time.Now())
	if err != nil {
		s.logger.Error("Account created but token not issued", "account_id", acc.ID.String(), "error", err)
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.logger.Info("Account registered", "account_id", acc.ID.String())
	return &Registration{Account: acc, AccessToken: token}, nil
}

// GetAccountByID retrieves an account by its ID, returns ErrAccountNotFound if not found
func (s *AccountServiceImpl) GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return s.accountRepo.GetByID(ctx, id)
}

// GetHistory reads from the mirror, which trails the authoritative ledger by at
// most one outbox poll interval
func (s *AccountServiceImpl) GetHistory(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ledger.Entry, int64, error) {
	if _, err := s.accountRepo.GetByID(ctx, accountID); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	entries, err := s.history.GetByAccountID(ctx, accountID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.history.CountByAccountID(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
