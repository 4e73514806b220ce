package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/platform/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, acc *account.Account) error {
	args := m.Called(ctx, acc)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *MockAccountRepository) FindByIdentity(ctx context.Context, id identity.Identity) (*account.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *MockAccountRepository) Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	args := m.Called(ctx, id, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountRepository) Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	args := m.Called(ctx, id, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountRepository) WithTx(tx pgx.Tx) account.Repository {
	return m
}

type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Upsert(ctx context.Context, entry *ledger.Entry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockHistoryRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockHistoryRepository) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer("test-secret-that-is-long-enough-123", "escrow-test", time.Hour)
}

func TestAccountServiceImpl_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockAccountRepository)
		issuer := newTestIssuer()
		svc := NewAccountService(mockRepo, new(MockHistoryRepository), issuer, newTestLogger())

		mockRepo.On("Create", ctx, mock.MatchedBy(func(acc *account.Account) bool {
			return acc.Username == "bob" && acc.Email == "bob@example.com" && acc.Phone == "15551234567" && acc.Balance == 10000
		})).Return(nil).Once()

		reg, err := svc.Register(ctx, " bob ", "Bob@Example.com", "+1 (555) 123-4567", 10000)
		require.NoError(t, err)

		claims, err := issuer.Parse(reg.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, reg.Account.ID, claims.AccountID)
		mockRepo.AssertExpectations(t)
	})

	t.Run("InvalidEmail", func(t *testing.T) {
		mockRepo := new(MockAccountRepository)
		svc := NewAccountService(mockRepo, new(MockHistoryRepository), newTestIssuer(), newTestLogger())

		_, err := svc.Register(ctx, "bob", "not-an-email", "", 0)
		assert.ErrorIs(t, err, identity.ErrInvalidEmail)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("NegativeBalance", func(t *testing.T) {
		svc := NewAccountService(new(MockAccountRepository), new(MockHistoryRepository), newTestIssuer(), newTestLogger())

		_, err := svc.Register(ctx, "bob", "", "", -1)
		assert.ErrorIs(t, err, account.ErrNegativeBalance)
	})

	t.Run("DuplicateIdentity", func(t *testing.T) {
		mockRepo := new(MockAccountRepository)
		svc := NewAccountService(mockRepo, new(MockHistoryRepository), newTestIssuer(), newTestLogger())
		mockRepo.On("Create", ctx, mock.Anything).Return(account.ErrDuplicateIdentity{Field: "email"}).Once()

		_, err := svc.Register(ctx, "bob", "bob@example.com", "", 0)
		var dup account.ErrDuplicateIdentity
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "email", dup.Field)
	})
}

func TestAccountServiceImpl_GetHistory(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockRepo, history := new(MockAccountRepository), new(MockHistoryRepository)
		svc := NewAccountService(mockRepo, history, newTestIssuer(), newTestLogger())
		entries := []*ledger.Entry{ledger.NewEscrowDebit(uuid.New(), accountID, 4000, uuid.New(), time.Now())}

		mockRepo.On("GetByID", ctx, accountID).Return(&account.Account{ID: accountID}, nil).Once()
		history.On("GetByAccountID", ctx, accountID, 10, 20).Return(entries, nil).Once()
		history.On("CountByAccountID", ctx, accountID).Return(int64(21), nil).Once()

		got, total, err := svc.GetHistory(ctx, accountID, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
		assert.Equal(t, int64(21), total)
		history.AssertExpectations(t)
	})

	t.Run("AccountNotFound", func(t *testing.T) {
		mockRepo, history := new(MockAccountRepository), new(MockHistoryRepository)
		svc := NewAccountService(mockRepo, history, newTestIssuer(), newTestLogger())
		mockRepo.On("GetByID", ctx, accountID).Return(nil, account.ErrAccountNotFound{AccountID: accountID}).Once()

		_, _, err := svc.GetHistory(ctx, accountID, 1, 10)
		assert.ErrorIs(t, err, account.ErrAccountNotFound{})
		history.AssertNotCalled(t, "GetByAccountID", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MirrorDown", func(t *testing.T) {
		mockRepo, history := new(MockAccountRepository), new(MockHistoryRepository)
		svc := NewAccountService(mockRepo, history, newTestIssuer(), newTestLogger())
		mockRepo.On("GetByID", ctx, accountID).Return(&account.Account{ID: accountID}, nil).Once()
		history.On("GetByAccountID", ctx, accountID, 10, 0).Return(nil, errors.New("server selection timeout")).Once()

		_, _, err := svc.GetHistory(ctx, accountID, 1, 10)
		assert.Error(t, err)
	})
}
