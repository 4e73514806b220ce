package sweeper

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubFinder struct {
	mu    sync.Mutex
	holds []*hold.Hold
	err   error
	scans int
}

func (f *stubFinder) FindResolvableExpired(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*hold.Hold, error] {
	return func(yield func(*hold.Hold, error) bool) {
		f.mu.Lock()
		f.scans++
		holds := append([]*hold.Hold(nil), f.holds...)
		f.mu.Unlock()

		for _, h := range holds {
			if !yield(h, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *stubFinder) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) Expire(ctx context.Context, holdID uuid.UUID) error {
	return m.Called(ctx, holdID).Error(0)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) Release(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testConfig() *config.SweeperConfig {
	return &config.SweeperConfig{
		Interval:    10 * time.Millisecond,
		BatchSize:   10,
		Concurrency: 4,
	}
}

func overdue(n int) []*hold.Hold {
	holds := make([]*hold.Hold, n)
	for i := range holds {
		holds[i] = &hold.Hold{ID: uuid.New(), Status: hold.StatusPending}
	}
	return holds
}

func newSweeper(t *testing.T, finder ExpiredFinder, expirer Expirer, locker Locker) (*Sweeper, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(testConfig(), finder, expirer, locker, metrics.New(reg), newTestLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, reg
}

func TestSweepOnce_ClassifiesOutcomes(t *testing.T) {
	holds := overdue(4)
	finder := &stubFinder{holds: holds}
	expirer := new(MockExpirer)
	expirer.On("Expire", mock.Anything, holds[0].ID).Return(nil)
	expirer.On("Expire", mock.Anything, holds[1].ID).Return(nil)
	expirer.On("Expire", mock.Anything, holds[2].ID).
		Return(service.ErrAlreadyResolved{HoldID: holds[2].ID, Status: hold.StatusAccepted})
	expirer.On("Expire", mock.Anything, holds[3].ID).
		Return(service.ErrUnavailable{Op: "expire", Err: errors.New("connection reset")})

	s, reg := newSweeper(t, finder, expirer, nil)
	report := s.SweepOnce(context.Background())

	assert.Equal(t, Report{Scanned: 4, Expired: 2, Superseded: 1, Failed: 1}, report)
	expirer.AssertExpectations(t)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			if m.GetCounter() != nil {
				key := family.GetName()
				for _, label := range m.GetLabel() {
					key += ":" + label.GetValue()
				}
				values[key] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), values["escrow_sweep_expired_total"])
	assert.Equal(t, float64(1), values["escrow_sweep_runs_total:partial"])
}

func TestSweepOnce_ScanErrorIsPartial(t *testing.T) {
	holds := overdue(1)
	finder := &stubFinder{holds: holds, err: errors.New("query canceled")}
	expirer := new(MockExpirer)
	expirer.On("Expire", mock.Anything, holds[0].ID).Return(nil)

	s, _ := newSweeper(t, finder, expirer, nil)
	report := s.SweepOnce(context.Background())

	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Failed)
}

func TestSweepOnce_RestartsScanEachPass(t *testing.T) {
	holds := overdue(2)
	finder := &stubFinder{holds: holds}
	expirer := new(MockExpirer)
	// The first pass fails on one hold; the next pass must see it again.
	expirer.On("Expire", mock.Anything, holds[0].ID).Return(nil).Once()
	expirer.On("Expire", mock.Anything, holds[1].ID).Return(errors.New("timeout")).Once()

	s, _ := newSweeper(t, finder, expirer, nil)
	first := s.SweepOnce(context.Background())
	assert.Equal(t, 1, first.Failed)

	finder.mu.Lock()
	finder.holds = holds[1:]
	finder.mu.Unlock()
	expirer.On("Expire", mock.Anything, holds[1].ID).Return(nil).Once()

	second := s.SweepOnce(context.Background())
	assert.Equal(t, Report{Scanned: 1, Expired: 1}, second)
	expirer.AssertExpectations(t)
}

func TestSweepOnce_Lease(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		finder := &stubFinder{holds: overdue(3)}
		locker := new(MockLocker)
		locker.On("Acquire", mock.Anything).Return(false, nil)

		s, _ := newSweeper(t, finder, new(MockExpirer), locker)
		report := s.SweepOnce(context.Background())

		assert.True(t, report.Skipped)
		assert.Equal(t, 0, finder.scanCount())
		locker.AssertNotCalled(t, "Release", mock.Anything)
	})

	t.Run("acquired and released", func(t *testing.T) {
		holds := overdue(1)
		expirer := new(MockExpirer)
		expirer.On("Expire", mock.Anything, holds[0].ID).Return(nil)
		locker := new(MockLocker)
		locker.On("Acquire", mock.Anything).Return(true, nil)
		locker.On("Release", mock.Anything).Return(nil).Once()

		s, _ := newSweeper(t, &stubFinder{holds: holds}, expirer, locker)
		report := s.SweepOnce(context.Background())

		assert.Equal(t, 1, report.Expired)
		locker.AssertExpectations(t)
	})

	t.Run("redis down sweeps anyway", func(t *testing.T) {
		holds := overdue(1)
		expirer := new(MockExpirer)
		expirer.On("Expire", mock.Anything, holds[0].ID).Return(nil)
		locker := new(MockLocker)
		locker.On("Acquire", mock.Anything).Return(false, errors.New("dial tcp: connection refused"))

		s, _ := newSweeper(t, &stubFinder{holds: holds}, expirer, locker)
		report := s.SweepOnce(context.Background())

		assert.Equal(t, 1, report.Expired)
		locker.AssertNotCalled(t, "Release", mock.Anything)
	})
}

func TestStart_SweepsEagerlyAndStopsOnCancel(t *testing.T) {
	finder := &stubFinder{}
	s, _ := newSweeper(t, finder, new(MockExpirer), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return finder.scanCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestSweepOnce_DispatchedHoldsFinishAfterCancel(t *testing.T) {
	holds := overdue(1)
	release := make(chan struct{})
	expirer := new(MockExpirer)
	expirer.On("Expire", mock.Anything, holds[0].ID).
		Run(func(args mock.Arguments) {
			<-release
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(nil)

	s, _ := newSweeper(t, &stubFinder{holds: holds}, expirer, nil)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan Report, 1)
	go func() { result <- s.SweepOnce(ctx) }()

	assert.Eventually(t, func() bool { return s.pool.Running() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(release)

	report := <-result
	assert.Equal(t, 1, report.Expired)
}
