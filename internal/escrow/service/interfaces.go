package service

import (
	"context"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	"github.com/jackc/pgx/v5"
)

// TxManager runs fn in one database transaction. *persistence.PostgresDB implements it.
type TxManager interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// IdentityResolver maps a recipient identity to a registered account.
// It returns nil, nil when nobody has registered that identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, id identity.Identity) (*account.Ref, error)
}

// Notifier receives fire-and-forget transfer events
type Notifier interface {
	Notify(ctx context.Context, event notifier.Event)
}
