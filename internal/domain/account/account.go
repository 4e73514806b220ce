package account

import (
	"errors"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNegativeBalance   = errors.New("initial balance cannot be negative")
)

// Account holds a spendable balance and the contact details it can be reached by
type Account struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Balance   int64     `json:"balance"` // Stored in cents/minor units
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref is the minimal view of an account returned by identity resolution
type Ref struct {
	ID       uuid.UUID
	Username string
}

// NewAccount validates and normalizes the contact details. Email and phone are optional.
func NewAccount(username, email, phone string, initialBalance int64) (*Account, error) {
	if initialBalance < 0 {
		return nil, ErrNegativeBalance
	}

	u, err := identity.NewUsername(username)
	if err != nil {
		return nil, err
	}

	acc := &Account{
		ID:        uuid.New(),
		Username:  u.Contact(),
		Balance:   initialBalance,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	acc.UpdatedAt = acc.CreatedAt

	if email != "" {
		e, err := identity.NewEmail(email)
		if err != nil {
			return nil, err
		}
		acc.Email = e.Contact()
	}
	if phone != "" {
		p, err := identity.NewPhone(phone)
		if err != nil {
			return nil, err
		}
		acc.Phone = p.Contact()
	}

	return acc, nil
}

// Identities lists every identity that addresses this account
func (a *Account) Identities() []identity.Identity {
	ids := make([]identity.Identity, 0, 3)
	if u, err := identity.NewUsername(a.Username); err == nil {
		ids = append(ids, u)
	}
	if a.Email != "" {
		if e, err := identity.NewEmail(a.Email); err == nil {
			ids = append(ids, e)
		}
	}
	if a.Phone != "" {
		if p, err := identity.NewPhone(a.Phone); err == nil {
			ids = append(ids, p)
		}
	}
	return ids
}

// Matches reports whether the account is the one addressed by id
func (a *Account) Matches(id identity.Identity) bool {
	for _, own := range a.Identities() {
		if identity.Equal(own, id) {
			return true
		}
	}
	return false
}

// Ref returns the resolution view of the account
func (a *Account) Ref() *Ref {
	return &Ref{ID: a.ID, Username: a.Username}
}
