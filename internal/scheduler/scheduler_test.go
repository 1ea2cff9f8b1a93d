package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/model"
)

type countingJobs struct {
	reaps      atomic.Int64
	reconciles atomic.Int64
	dates      chan time.Time
}

func (c *countingJobs) Reap(context.Context) (int64, error) {
	c.reaps.Add(1)
	return 0, nil
}

func (c *countingJobs) Reconcile(context.Context, time.Duration, int) (booking.ReconcileReport, error) {
	c.reconciles.Add(1)
	return booking.ReconcileReport{}, nil
}

func (c *countingJobs) GenerateAll(_ context.Context, date time.Time) ([]model.DepositRecord, error) {
	c.dates <- date
	return nil, nil
}

type stubLocker struct {
	ok  bool
	err error
}

func (l stubLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return l.ok, l.err }

func TestNextRun(t *testing.T) {
	at := model.MustTimeOfDay("03:00")
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2025, 9, 30, 1, 0, 0, 0, time.UTC), time.Date(2025, 9, 30, 3, 0, 0, 0, time.UTC)},
		{time.Date(2025, 9, 30, 3, 0, 0, 0, time.UTC), time.Date(2025, 10, 1, 3, 0, 0, 0, time.UTC)},
		{time.Date(2025, 12, 31, 22, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextRun(tc.now, at, time.UTC), tc.now.String())
	}
}

func TestNextRunInLocation(t *testing.T) {
	scl, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	at := model.MustTimeOfDay("03:00")

	// 01:00 UTC on Oct 1 is 22:00 on Sep 30 in Santiago (UTC-3).
	got := nextRun(time.Date(2025, 10, 1, 1, 0, 0, 0, time.UTC), at, scl)
	assert.True(t, got.Equal(time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)), got.UTC().String())

	got = nextRun(time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC), at, scl)
	assert.True(t, got.Equal(time.Date(2025, 10, 2, 6, 0, 0, 0, time.UTC)), got.UTC().String())
}

func TestGuarded(t *testing.T) {
	jobs := &countingJobs{}
	run := func(l Locker) int64 {
		s := New(jobs, jobs, jobs, l, clock.System{}, Config{}, zaptest.NewLogger(t))
		before := jobs.reaps.Load()
		s.guarded(context.Background(), "reap-holds", time.Minute, s.reapHolds)
		return jobs.reaps.Load() - before
	}
	assert.Equal(t, int64(1), run(nil))
	assert.Equal(t, int64(1), run(stubLocker{ok: true}))
	assert.Equal(t, int64(0), run(stubLocker{ok: false}))
	assert.Equal(t, int64(1), run(stubLocker{err: errors.New("redis down")}))
}

func TestGenerateDepositsUsesPreviousDay(t *testing.T) {
	jobs := &countingJobs{dates: make(chan time.Time, 1)}
	clk := clock.NewFake(time.Date(2025, 10, 1, 3, 0, 5, 0, time.UTC))
	s := New(jobs, jobs, jobs, nil, clk, Config{}, zaptest.NewLogger(t))
	s.generateDeposits(context.Background())
	assert.Equal(t, time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), <-jobs.dates)
}

func TestGenerateDepositsUsesLocalPreviousDay(t *testing.T) {
	scl, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	jobs := &countingJobs{dates: make(chan time.Time, 1)}
	// 02:00 UTC on Oct 1 is still Sep 30 in Santiago.
	clk := clock.NewFake(time.Date(2025, 10, 1, 2, 0, 0, 0, time.UTC))
	s := New(jobs, jobs, jobs, nil, clk, Config{Location: scl}, zaptest.NewLogger(t))
	s.generateDeposits(context.Background())
	assert.Equal(t, time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC), <-jobs.dates)
}

func TestStartAndStop(t *testing.T) {
	jobs := &countingJobs{dates: make(chan time.Time, 1)}
	s := New(jobs, jobs, jobs, nil, clock.System{}, Config{
		ReapEvery:      5 * time.Millisecond,
		ReconcileEvery: 5 * time.Millisecond,
		DepositsAt:     model.MustTimeOfDay("03:00"),
	}, zaptest.NewLogger(t))

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return jobs.reaps.Load() > 0 && jobs.reconciles.Load() > 0
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
