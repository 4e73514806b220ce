// Package escrowtest provides an in-memory store for exercising the escrow
// engine without Postgres.
package escrowtest

import (
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	entries "github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/outbox"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// Store is an in-memory database. ExecuteTx serializes transactions and restores
// the previous state when fn fails, which is the isolation the row locks give the
// real store for a single hold.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]account.Account
	holds    map[uuid.UUID]hold.Hold
	entries  []*entries.Entry
	outbox   []*outbox.Message

	failTx error
}

func NewStore() *Store {
	return &Store{
		accounts: map[uuid.UUID]account.Account{},
		holds:    map[uuid.UUID]hold.Hold{},
	}
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failTx != nil {
		return s.failTx
	}

	accounts := make(map[uuid.UUID]account.Account, len(s.accounts))
	for k, v := range s.accounts {
		accounts[k] = v
	}
	holds := make(map[uuid.UUID]hold.Hold, len(s.holds))
	for k, v := range s.holds {
		holds[k] = v
	}
	entryCount, outboxCount := len(s.entries), len(s.outbox)

	if err := fn(nil); err != nil {
		s.accounts, s.holds = accounts, holds
		s.entries, s.outbox = s.entries[:entryCount], s.outbox[:outboxCount]
		return err
	}
	return nil
}

// FailTx makes every later ExecuteTx return err until it is called with nil
func (s *Store) FailTx(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTx = err
}

// locked runs fn under the store lock unless the caller is already inside ExecuteTx
func (s *Store) locked(inTx bool, fn func()) {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn()
}

func (s *Store) Accounts() account.Repository { return &accountRepo{s: s} }

func (s *Store) Holds() hold.Repository { return &holdRepo{s: s} }

func (s *Store) Entries() entries.Repository { return &entryRepo{s: s} }

func (s *Store) Outbox() outbox.Repository { return &outboxRepo{s: s} }

// AddAccount registers an account with an opening balance
func (s *Store) AddAccount(t testing.TB, username, email string, balance int64) *account.Account {
	t.Helper()
	acc, err := account.NewAccount(username, email, "", balance)
	require.NoError(t, err)
	s.mu.Lock()
	s.accounts[acc.ID] = *acc
	s.mu.Unlock()
	return acc
}

// AppendEntry writes an entry outside any transaction, bypassing the ledger
func (s *Store) AppendEntry(entry *entries.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *Store) Balance(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

func (s *Store) Hold(id uuid.UUID) hold.Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds[id]
}

func (s *Store) EntriesFor(holdID uuid.UUID) []*entries.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entries.Entry
	for _, e := range s.entries {
		if e.HoldID == holdID {
			out = append(out, e)
		}
	}
	return out
}

// Escrowed is the sum of amounts held by non-terminal holds
func (s *Store) Escrowed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, h := range s.holds {
		if !h.Status.IsTerminal() {
			total += h.Amount
		}
	}
	return total
}

func (s *Store) TotalBalance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, a := range s.accounts {
		total += a.Balance
	}
	return total
}

type accountRepo struct {
	s    *Store
	inTx bool
}

func (r *accountRepo) Create(ctx context.Context, acc *account.Account) error {
	r.s.locked(r.inTx, func() { r.s.accounts[acc.ID] = *acc })
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	var acc account.Account
	var ok bool
	r.s.locked(r.inTx, func() { acc, ok = r.s.accounts[id] })
	if !ok {
		return nil, account.ErrAccountNotFound{AccountID: id}
	}
	return &acc, nil
}

func (r *accountRepo) FindByIdentity(ctx context.Context, id identity.Identity) (*account.Account, error) {
	var found *account.Account
	r.s.locked(r.inTx, func() {
		for _, acc := range r.s.accounts {
			if acc.Matches(id) {
				found = &acc
				return
			}
		}
	})
	return found, nil
}

func (r *accountRepo) Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	return r.adjust(id, -amount)
}

func (r *accountRepo) Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	return r.adjust(id, amount)
}

func (r *accountRepo) adjust(id uuid.UUID, delta int64) (int64, error) {
	var balance int64
	var err error
	r.s.locked(r.inTx, func() {
		acc, ok := r.s.accounts[id]
		if !ok {
			err = account.ErrAccountNotFound{AccountID: id}
			return
		}
		if acc.Balance+delta < 0 {
			err = account.ErrInsufficientFunds
			return
		}
		acc.Balance += delta
		acc.Version++
		r.s.accounts[id] = acc
		balance = acc.Balance
	})
	return balance, err
}

func (r *accountRepo) WithTx(tx pgx.Tx) account.Repository {
	return &accountRepo{s: r.s, inTx: true}
}

type holdRepo struct {
	s    *Store
	inTx bool
}

func (r *holdRepo) Create(ctx context.Context, h *hold.Hold) error {
	var err error
	r.s.locked(r.inTx, func() {
		if h.IdempotencyKey != "" {
			for _, other := range r.s.holds {
				if other.SenderAccountID == h.SenderAccountID && other.IdempotencyKey == h.IdempotencyKey {
					err = hold.ErrDuplicateIdempotencyKey{Key: h.IdempotencyKey}
					return
				}
			}
		}
		r.s.holds[h.ID] = *h
	})
	return err
}

func (r *holdRepo) find(match func(h hold.Hold) bool) *hold.Hold {
	var found *hold.Hold
	r.s.locked(r.inTx, func() {
		for _, h := range r.s.holds {
			if match(h) {
				found = &h
				return
			}
		}
	})
	return found
}

func (r *holdRepo) FindByID(ctx context.Context, id uuid.UUID) (*hold.Hold, error) {
	if h := r.find(func(h hold.Hold) bool { return h.ID == id }); h != nil {
		return h, nil
	}
	return nil, hold.ErrHoldNotFound{Ref: id.String()}
}

func (r *holdRepo) FindByToken(ctx context.Context, token string) (*hold.Hold, error) {
	if h := r.find(func(h hold.Hold) bool { return h.Token == token }); h != nil {
		return h, nil
	}
	return nil, hold.ErrHoldNotFound{Ref: "token"}
}

func (r *holdRepo) FindBySenderAndIdempotencyKey(ctx context.Context, sender uuid.UUID, key string) (*hold.Hold, error) {
	return r.find(func(h hold.Hold) bool { return h.SenderAccountID == sender && h.IdempotencyKey == key }), nil
}

func (r *holdRepo) FindResolvableExpired(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*hold.Hold, error] {
	return func(yield func(*hold.Hold, error) bool) {
		var due []hold.Hold
		r.s.locked(r.inTx, func() {
			for _, h := range r.s.holds {
				if h.Status.IsResolvable() && h.IsExpired(now) {
					due = append(due, h)
				}
			}
		})
		sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
		for i := range due {
			if !yield(&due[i], nil) {
				return
			}
		}
	}
}

func (r *holdRepo) TryTransition(ctx context.Context, t hold.Transition) (bool, error) {
	var won bool
	r.s.locked(r.inTx, func() {
		h, ok := r.s.holds[t.HoldID]
		if !ok || !slices.Contains(t.From, h.Status) {
			return
		}
		h.Status = t.To
		txn, at := t.ResolutionTxnID, t.At
		h.ResolutionTxnID, h.ResolvedAt = &txn, &at
		if t.RecipientAccountID != nil {
			id := *t.RecipientAccountID
			h.RecipientAccountID = &id
		}
		r.s.holds[t.HoldID] = h
		won = true
	})
	return won, nil
}

func (r *holdRepo) mark(id uuid.UUID, from []hold.Status, to hold.Status, set func(h *hold.Hold)) bool {
	var ok bool
	r.s.locked(r.inTx, func() {
		h, found := r.s.holds[id]
		if !found || !slices.Contains(from, h.Status) {
			return
		}
		h.Status = to
		set(&h)
		r.s.holds[id] = h
		ok = true
	})
	return ok
}

func (r *holdRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.mark(id, []hold.Status{hold.StatusPending}, hold.StatusDelivered, func(h *hold.Hold) { h.DeliveredAt = &at }), nil
}

func (r *holdRepo) MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.mark(id, []hold.Status{hold.StatusPending, hold.StatusDelivered}, hold.StatusOpened, func(h *hold.Hold) { h.OpenedAt = &at }), nil
}

func (r *holdRepo) ListBySender(ctx context.Context, sender uuid.UUID, limit, offset int) ([]*hold.Hold, error) {
	return r.list(func(h hold.Hold) bool { return h.SenderAccountID == sender }, limit, offset), nil
}

func (r *holdRepo) CountBySender(ctx context.Context, sender uuid.UUID) (int64, error) {
	return int64(len(r.list(func(h hold.Hold) bool { return h.SenderAccountID == sender }, 0, 0))), nil
}

func (r *holdRepo) ListAwaiting(ctx context.Context, ids []identity.Identity, limit, offset int) ([]*hold.Hold, error) {
	return r.list(func(h hold.Hold) bool {
		if h.Status.IsTerminal() {
			return false
		}
		return slices.ContainsFunc(ids, func(id identity.Identity) bool { return identity.Equal(id, h.Recipient) })
	}, limit, offset), nil
}

func (r *holdRepo) list(match func(h hold.Hold) bool, limit, offset int) []*hold.Hold {
	var out []*hold.Hold
	r.s.locked(r.inTx, func() {
		for _, h := range r.s.holds {
			if match(h) {
				out = append(out, &h)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (r *holdRepo) WithTx(tx pgx.Tx) hold.Repository {
	return &holdRepo{s: r.s, inTx: true}
}

type entryRepo struct {
	s    *Store
	inTx bool
}

func (r *entryRepo) Create(ctx context.Context, entry *entries.Entry) error {
	r.s.locked(r.inTx, func() { r.s.entries = append(r.s.entries, entry) })
	return nil
}

func (r *entryRepo) ListByHoldID(ctx context.Context, holdID uuid.UUID) ([]*entries.Entry, error) {
	return r.s.EntriesFor(holdID), nil
}

func (r *entryRepo) WithTx(tx pgx.Tx) entries.Repository {
	return &entryRepo{s: r.s, inTx: true}
}

type outboxRepo struct {
	s    *Store
	inTx bool
}

func (r *outboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	r.s.locked(r.inTx, func() {
		message.ID = int64(len(r.s.outbox) + 1)
		r.s.outbox = append(r.s.outbox, message)
	})
	return nil
}

func (r *outboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	return nil, nil
}

func (r *outboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	return nil
}

func (r *outboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	return nil
}

func (r *outboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	return &outboxRepo{s: r.s, inTx: true}
}
