package account

import (
	"errors"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		beforeCreation := time.Now()
		account, err := NewAccount(" alice ", "Alice@Example.com", "+1 (555) 010-9999", 10000)
		afterCreation := time.Now()

		require.NoError(t, err)
		require.NotNil(t, account)

		assert.NotEqual(t, uuid.Nil, account.ID, "Account ID should not be nil")
		assert.Equal(t, "alice", account.Username)
		assert.Equal(t, "alice@example.com", account.Email)
		assert.Equal(t, "15550109999", account.Phone)
		assert.Equal(t, int64(10000), account.Balance)
		assert.Equal(t, 1, account.Version, "Initial version should be 1")
		assert.WithinDuration(t, beforeCreation, account.CreatedAt, afterCreation.Sub(beforeCreation)+time.Millisecond)
		assert.Equal(t, account.CreatedAt, account.UpdatedAt)
	})

	t.Run("OptionalContactsLeftEmpty", func(t *testing.T) {
		account, err := NewAccount("bob", "", "", 0)
		require.NoError(t, err)
		assert.Empty(t, account.Email)
		assert.Empty(t, account.Phone)
	})

	t.Run("Failures", func(t *testing.T) {
		testCases := []struct {
			name        string
			username    string
			email       string
			phone       string
			balance     int64
			expectedErr error
		}{
			{"NegativeBalance", "bob", "", "", -1, ErrNegativeBalance},
			{"EmptyUsername", "  ", "", "", 0, identity.ErrInvalidUsername},
			{"BadEmail", "bob", "bob@", "", 0, identity.ErrInvalidEmail},
			{"BadPhone", "bob", "", "12", 0, identity.ErrInvalidPhone},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				account, err := NewAccount(tc.username, tc.email, tc.phone, tc.balance)
				assert.Nil(t, account)
				assert.True(t, errors.Is(err, tc.expectedErr), "expected %v, got %v", tc.expectedErr, err)
			})
		}
	})
}

func TestAccount_Matches(t *testing.T) {
	acc := &Account{ID: uuid.New(), Username: "carol", Email: "carol@example.com", Phone: "15550001111"}

	email, _ := identity.NewEmail("CAROL@example.com")
	phone, _ := identity.NewPhone("1-555-000-1111")
	username, _ := identity.NewUsername("carol")
	otherEmail, _ := identity.NewEmail("dave@example.com")
	usernameShapedLikeEmail, _ := identity.NewUsername("carol@example.com")

	assert.True(t, acc.Matches(email))
	assert.True(t, acc.Matches(phone))
	assert.True(t, acc.Matches(username))
	assert.False(t, acc.Matches(otherEmail))
	assert.False(t, acc.Matches(usernameShapedLikeEmail))
	assert.Len(t, acc.Identities(), 3)

	noContacts := &Account{ID: uuid.New(), Username: "erin"}
	assert.Len(t, noContacts.Identities(), 1)
	assert.False(t, noContacts.Matches(email))
}

func TestErrAccountNotFound_Is(t *testing.T) {
	id := uuid.New()
	err := ErrAccountNotFound{AccountID: id}

	assert.ErrorIs(t, err, ErrAccountNotFound{})
	assert.ErrorIs(t, err, ErrAccountNotFound{AccountID: id})
	assert.False(t, errors.Is(err, ErrAccountNotFound{AccountID: uuid.New()}))
	assert.Equal(t, "account not found: "+id.String(), err.Error())
}
