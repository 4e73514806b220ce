package service

import (
	"context"
	"fmt"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/identity"
)

// AccountResolver resolves identities against registered account contact fields
type AccountResolver struct {
	accounts account.Repository
}

func NewAccountResolver(accounts account.Repository) *AccountResolver {
	return &AccountResolver{accounts: accounts}
}

func (r *AccountResolver) Resolve(ctx context.Context, id identity.Identity) (*account.Ref, error) {
	acc, err := r.accounts.FindByIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", id.Method(), err)
	}
	if acc == nil {
		return nil, nil
	}
	return acc.Ref(), nil
}
