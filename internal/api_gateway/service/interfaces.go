package service

import (
	"context"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/ledger"
	escrow "github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/google/uuid"
)

// Registration is a newly created account and the bearer token it acts with
type Registration struct {
	Account     *account.Account
	AccessToken string
}

// AccountService defines the interface for account operations
type AccountService interface {
	// Register creates an account and issues its first access token.
	// Returns ErrDuplicateIdentity if the username, email or phone is taken.
	Register(ctx context.Context, username, email, phone string, initialBalance int64) (*Registration, error)

	// GetAccountByID returns ErrAccountNotFound if the account doesn't exist
	GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error)

	// GetHistory pages through the account's mirrored ledger entries, newest first.
	// Returns entries, total count, and any error.
	GetHistory(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ledger.Entry, int64, error)
}

// TransferService is the resolution engine as the HTTP layer sees it. *escrow.Engine implements it.
type TransferService interface {
	CreateTransfer(ctx context.Context, req escrow.CreateTransferRequest) (*escrow.CreateTransferResult, error)
	Accept(ctx context.Context, token string, actor uuid.UUID) (*escrow.AcceptResult, error)
	Decline(ctx context.Context, holdID uuid.UUID, actor uuid.UUID) (*escrow.DeclineResult, error)
	DeclineByToken(ctx context.Context, token string, actor uuid.UUID) (*escrow.DeclineResult, error)
	ViewTransfer(ctx context.Context, holdID uuid.UUID, viewer uuid.UUID) (*escrow.TransferView, error)
	AuditTransfer(ctx context.Context, holdID uuid.UUID, viewer uuid.UUID) (*escrow.TransferAudit, error)
	MarkOpened(ctx context.Context, holdID uuid.UUID, actor uuid.UUID) (*hold.Hold, error)
	OpenByToken(ctx context.Context, token string, actor uuid.UUID) (*hold.Hold, error)
	ListSent(ctx context.Context, sender uuid.UUID, limit, offset int) ([]*hold.Hold, int64, error)
	ListReceived(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*hold.Hold, error)
}

var _ TransferService = (*escrow.Engine)(nil)
