package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryConstructors(t *testing.T) {
	sender, recipient, holdID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	debit := NewEscrowDebit(uuid.New(), sender, 40, holdID, now)
	assert.Equal(t, KindEscrowDebit, debit.Kind)
	assert.Equal(t, sender, debit.AccountID())
	assert.Nil(t, debit.ToAccountID, "escrow is the receiving side of a debit")
	assert.Equal(t, int64(-40), debit.SignedAmount())

	credit := NewEscrowCredit(uuid.New(), recipient, 40, holdID, now)
	assert.Equal(t, recipient, credit.AccountID())
	assert.Nil(t, credit.FromAccountID)
	assert.Equal(t, int64(40), credit.SignedAmount())

	refund := NewEscrowRefund(uuid.New(), sender, 40, holdID, ReasonExpired, now)
	assert.Equal(t, sender, refund.AccountID())
	assert.Equal(t, ReasonExpired, refund.Reason)
	assert.Equal(t, time.UTC, refund.CreatedAt.Location())

	assert.Equal(t, uuid.Nil, (&Entry{}).AccountID())
}

func TestCheckConservation(t *testing.T) {
	sender, recipient, holdID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	debit := NewEscrowDebit(uuid.New(), sender, 40, holdID, now)

	t.Run("OpenHold", func(t *testing.T) {
		released, err := CheckConservation([]*Entry{debit})
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("Credited", func(t *testing.T) {
		released, err := CheckConservation([]*Entry{debit, NewEscrowCredit(uuid.New(), recipient, 40, holdID, now)})
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("Refunded", func(t *testing.T) {
		released, err := CheckConservation([]*Entry{debit, NewEscrowRefund(uuid.New(), sender, 40, holdID, ReasonDeclined, now)})
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("Violations", func(t *testing.T) {
		testCases := []struct {
			name        string
			entries     []*Entry
			expectedErr error
		}{
			{"NoDebit", []*Entry{NewEscrowCredit(uuid.New(), recipient, 40, holdID, now)}, ErrMissingDebit},
			{"DoubleDebit", []*Entry{debit, NewEscrowDebit(uuid.New(), sender, 40, holdID, now)}, ErrMultipleDebits},
			{"CreditAndRefund", []*Entry{
				debit,
				NewEscrowCredit(uuid.New(), recipient, 40, holdID, now),
				NewEscrowRefund(uuid.New(), sender, 40, holdID, ReasonExpired, now),
			}, ErrMultipleReleases},
			{"AmountMismatch", []*Entry{debit, NewEscrowCredit(uuid.New(), recipient, 39, holdID, now)}, ErrAmountMismatch},
			{"MixedHolds", []*Entry{debit, NewEscrowCredit(uuid.New(), recipient, 40, uuid.New(), now)}, ErrMixedHolds},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := CheckConservation(tc.entries)
				assert.ErrorIs(t, err, tc.expectedErr)
			})
		}
	})
}
