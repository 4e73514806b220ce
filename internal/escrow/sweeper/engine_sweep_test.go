package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	entries "github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/escrow/escrowtest"
	"github.com/escrow-invite-ledger/internal/escrow/ledger"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	"github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, notifier.Event) {}

func TestSweepOnce_RefundsUnclaimedTransferThroughEngine(t *testing.T) {
	ctx := context.Background()
	store := escrowtest.NewStore()
	alice := store.AddAccount(t, "alice", "alice@example.com", 100)
	store.AddAccount(t, "bob", "bob@example.com", 0)

	m := metrics.New(prometheus.NewRegistry())
	accounts := store.Accounts()
	books := ledger.NewLedger(accounts, store.Entries(), store.Outbox(), newTestLogger())
	policy := service.Policy{
		DefaultTTL: time.Millisecond,
		MinTTL:     time.Millisecond,
		MaxTTL:     time.Hour,
		MaxAmount:  1_000,
	}
	engine := service.NewEngine(store, store.Holds(), accounts, books, service.NewAccountResolver(accounts),
		discardNotifier{}, m, policy, newTestLogger())

	bob, err := identity.NewEmail("bob@example.com")
	require.NoError(t, err)
	created, err := engine.CreateTransfer(ctx, service.CreateTransferRequest{
		SenderID:  alice.ID,
		Amount:    40,
		Recipient: bob,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60), store.Balance(alice.ID))

	s, err := New(testConfig(), store.Holds(), engine, nil, m, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.Eventually(t, func() bool {
		return time.Now().After(created.Hold.ExpiresAt)
	}, time.Second, time.Millisecond)

	report := s.SweepOnce(ctx)
	assert.Equal(t, Report{Scanned: 1, Expired: 1}, report)

	assert.Equal(t, int64(100), store.Balance(alice.ID))
	assert.Equal(t, hold.StatusExpired, store.Hold(created.Hold.ID).Status)

	posted := store.EntriesFor(created.Hold.ID)
	require.Len(t, posted, 2)
	assert.Equal(t, entries.KindEscrowDebit, posted[0].Kind)
	assert.Equal(t, entries.KindEscrowRefund, posted[1].Kind)
	assert.Equal(t, entries.ReasonExpired, posted[1].Reason)
	assert.Equal(t, int64(40), posted[1].Amount)

	// nothing left to expire; a second pass must not refund again
	again := s.SweepOnce(ctx)
	assert.Equal(t, Report{}, again)
	assert.Equal(t, int64(100), store.Balance(alice.ID))
	assert.Len(t, store.EntriesFor(created.Hold.ID), 2)
}
