package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/casecraft-api/databases/memory"
	"github.com/linesmerrill/casecraft-api/ledger"
)

type countingPurger struct {
	calls int
	days  int
	err   error
}

func (p *countingPurger) Purge(ctx context.Context, retentionDays int) (int64, error) {
	p.calls++
	p.days = retentionDays
	return 7, p.err
}

func TestScheduler_RegistersRetentionJob(t *testing.T) {
	s := NewScheduler(&countingPurger{}, nil, 30)
	require.NoError(t, s.Start())
	defer s.Stop()

	entries := s.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Next.UTC()
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestScheduler_RunPurgeWithoutLock(t *testing.T) {
	p := &countingPurger{}
	s := NewScheduler(p, nil, 14)

	n, ok := s.runPurge(context.Background())

	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 14, p.days)
}

func TestScheduler_RunPurgeSkipsWhenLockHeld(t *testing.T) {
	store := memory.New()
	locks := store.SchedulerLocks()
	_, err := locks.TryAcquireLock(context.Background(), retentionLock, "web.2", time.Hour)
	require.NoError(t, err)
	p := &countingPurger{}
	s := NewScheduler(p, locks, 30)
	s.instanceID = "web.1"

	_, ok := s.runPurge(context.Background())

	assert.False(t, ok)
	assert.Zero(t, p.calls)
}

func TestScheduler_RunPurgeReleasesLock(t *testing.T) {
	store := memory.New()
	locks := store.SchedulerLocks()
	p := &countingPurger{err: errors.New("no reachable servers")}
	s := NewScheduler(p, locks, 30)
	s.instanceID = "web.1"

	_, ok := s.runPurge(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 1, p.calls)

	acquired, err := locks.TryAcquireLock(context.Background(), retentionLock, "web.2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestScheduler_PurgesLedgerRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	l := ledger.New(store.UserUsage(), store.AnonymousUsage(), ledger.Limits{AnonymousCases: 3, Cases: 5, Analyses: 10, GamePlans: 3})
	l.Now = func() time.Time { return time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC) }
	require.NoError(t, store.UserUsage().Increment(ctx, "u1", "2026-09-01", "cases_created"))
	require.NoError(t, store.UserUsage().Increment(ctx, "u1", "2026-10-18", "cases_created"))
	require.NoError(t, store.AnonymousUsage().Increment(ctx, "h", "2026-09-01"))

	n, ok := NewScheduler(l, store.SchedulerLocks(), 30).runPurge(ctx)

	assert.True(t, ok)
	assert.Equal(t, int64(2), n)
	_, err := store.UserUsage().FindOne(ctx, "u1", "2026-10-18")
	assert.NoError(t, err)
}
