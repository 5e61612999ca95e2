// Package storetest holds the behaviour every store.Store implementation
// must share.
package storetest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Ping", testPing},
		{"Plans", testPlans},
		{"SessionLifecycle", testSessionLifecycle},
		{"OneActiveSessionPerUserAndNAS", testOneActive},
		{"DuplicateIDIsNotAnActiveConflict", testDuplicateID},
		{"ReusedAcctSessionID", testReusedAcctSessionID},
		{"CountersNeverDecrease", testCounters},
		{"CloseIsConditional", testCloseConditional},
		{"NotificationsAreRecordedOnce", testNotifications},
		{"ConcurrentNotificationClaims", testConcurrentClaims},
		{"ActiveSessionsJoinPlan", testActiveSessions},
		{"Snapshots", testSnapshots},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func testPing(t *testing.T, s store.Store) {
	require.NoError(t, s.Ping(context.Background()))
}

func mustPlan(t *testing.T, s store.Store, name string, minutes int, dataCap uint64) *models.Plan {
	t.Helper()
	p := &models.Plan{ID: uuid.NewString(), Name: name, DurationMinutes: minutes, DataCapBytes: dataCap, Active: true}
	require.NoError(t, s.CreatePlan(context.Background(), p))
	return p
}

func newSession(plan *models.Plan, user, nas string, started time.Time) *models.Session {
	return &models.Session{
		ID:            uuid.NewString(),
		UserID:        user,
		Username:      user,
		NASID:         nas,
		PlanID:        plan.ID,
		AcctSessionID: uuid.NewString()[:8],
		FramedIP:      net.ParseIP("10.5.50.20"),
		StartedAt:     started,
	}
}

func testPlans(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = s.GetPlanByName(ctx, "hourly")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, time.Hour, got.Duration())

	_, err = s.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSessionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)
	sess := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Active())
	assert.True(t, got.StartedAt.Equal(t0))
	assert.Equal(t, "10.5.50.20", got.FramedIP.String())
	assert.Equal(t, models.EndReasonNone, got.EndReason)

	active, err := s.FindActive(ctx, "u1", "ap-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)

	byAcct, err := s.FindByAcctSessionID(ctx, "ap-1", sess.AcctSessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byAcct.ID)

	_, err = s.FindByAcctSessionID(ctx, "ap-2", sess.AcctSessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	closed, err := s.CloseSession(ctx, sess.ID, t0.Add(time.Hour), models.EndReasonNormal)
	require.NoError(t, err)
	assert.True(t, closed)

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, models.EndReasonNormal, got.EndReason)

	_, err = s.FindActive(ctx, "u1", "ap-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOneActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)

	first := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, first))

	err := s.CreateSession(ctx, newSession(p, "u1", "ap-1", t0.Add(time.Minute)))
	assert.ErrorIs(t, err, store.ErrActiveSessionExists)

	require.NoError(t, s.CreateSession(ctx, newSession(p, "u1", "ap-2", t0)), "other NAS is independent")

	_, err = s.CloseSession(ctx, first.ID, t0.Add(time.Hour), models.EndReasonExpired)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, newSession(p, "u1", "ap-1", t0.Add(2*time.Hour))), "allowed once the first is closed")
}

func testDuplicateID(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)

	first := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, first))

	dup := newSession(p, "u2", "ap-1", t0)
	dup.ID = first.ID
	err := s.CreateSession(ctx, dup)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrActiveSessionExists)
	assert.ErrorIs(t, err, store.ErrStore)
}

func testReusedAcctSessionID(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)

	old := newSession(p, "alice", "ap-1", t0)
	old.AcctSessionID = "80000001"
	require.NoError(t, s.CreateSession(ctx, old))

	active, err := s.FindActiveByAcctSessionID(ctx, "ap-1", "80000001")
	require.NoError(t, err)
	assert.Equal(t, old.ID, active.ID)

	_, err = s.CloseSession(ctx, old.ID, t0.Add(time.Hour), models.EndReasonNormal)
	require.NoError(t, err)

	_, err = s.FindActiveByAcctSessionID(ctx, "ap-1", "80000001")
	assert.ErrorIs(t, err, store.ErrNotFound)
	latest, err := s.FindByAcctSessionID(ctx, "ap-1", "80000001")
	require.NoError(t, err)
	assert.Equal(t, old.ID, latest.ID)

	reused := newSession(p, "bob", "ap-1", t0.Add(2*time.Hour))
	reused.AcctSessionID = "80000001"
	require.NoError(t, s.CreateSession(ctx, reused))

	active, err = s.FindActiveByAcctSessionID(ctx, "ap-1", "80000001")
	require.NoError(t, err)
	assert.Equal(t, reused.ID, active.ID)
	latest, err = s.FindByAcctSessionID(ctx, "ap-1", "80000001")
	require.NoError(t, err)
	assert.Equal(t, reused.ID, latest.ID)

	_, err = s.FindActiveByAcctSessionID(ctx, "ap-2", "80000001")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)
	sess := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.UpdateCounters(ctx, sess.ID, 100, 200))
	require.NoError(t, s.UpdateCounters(ctx, sess.ID, 50, 300))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.InputOctets)
	assert.Equal(t, uint64(300), got.OutputOctets)

	require.NoError(t, s.UpdateCounters(ctx, sess.ID, 5<<32, 5<<32))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5<<32), got.InputOctets)

	assert.ErrorIs(t, s.UpdateCounters(ctx, "missing", 1, 1), store.ErrNotFound)
}

func testCloseConditional(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)
	sess := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, sess))

	closed, err := s.CloseSession(ctx, sess.ID, t0.Add(time.Hour), models.EndReasonExpired)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = s.CloseSession(ctx, sess.ID, t0.Add(2*time.Hour), models.EndReasonTerminated)
	require.NoError(t, err)
	assert.False(t, closed)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EndReasonExpired, got.EndReason, "first close wins")
	assert.True(t, got.EndedAt.Equal(t0.Add(time.Hour)))

	_, err = s.CloseSession(ctx, "missing", t0, models.EndReasonNormal)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testNotifications(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)
	sess := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, sess))

	has, err := s.HasNotification(ctx, sess.ID, 15)
	require.NoError(t, err)
	assert.False(t, has)

	created, err := s.RecordNotification(ctx, sess.ID, 15, t0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.RecordNotification(ctx, sess.ID, 15, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.RecordNotification(ctx, sess.ID, models.ExpiryThreshold, t0)
	require.NoError(t, err)
	assert.True(t, created, "expiry marker is a separate threshold")

	has, err = s.HasNotification(ctx, sess.ID, 15)
	require.NoError(t, err)
	assert.True(t, has)
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)
	sess := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, sess))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.RecordNotification(ctx, sess.ID, 5, t0)
			if err == nil && created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testActiveSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	hourly := mustPlan(t, s, "hourly", 60, 0)
	daily := mustPlan(t, s, "daily", 24*60, 1<<30)

	a := newSession(hourly, "u1", "ap-1", t0)
	b := newSession(daily, "u2", "ap-1", t0.Add(time.Minute))
	c := newSession(hourly, "u3", "ap-2", t0.Add(2*time.Minute))
	for _, sess := range []*models.Session{a, b, c} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}
	_, err := s.CloseSession(ctx, c.ID, t0.Add(time.Hour), models.EndReasonNormal)
	require.NoError(t, err)

	active, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, "hourly", active[0].PlanName)
	assert.Equal(t, time.Hour, active[0].PlanDuration)
	assert.Equal(t, 30*time.Minute, active[0].Remaining(t0.Add(30*time.Minute)))

	assert.Equal(t, b.ID, active[1].ID)
	assert.Equal(t, 24*time.Hour, active[1].PlanDuration)
	assert.Equal(t, uint64(1<<30), active[1].DataCapBytes)
}

func testSnapshots(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPlan(t, s, "hourly", 60, 0)
	sess := newSession(p, "u1", "ap-1", t0)
	require.NoError(t, s.CreateSession(ctx, sess))

	for i, status := range []models.AcctStatus{models.AcctStatusStart, models.AcctStatusInterim, models.AcctStatusStop} {
		require.NoError(t, s.AppendSnapshot(ctx, &models.AccountingSnapshot{
			SessionID:    sess.ID,
			RecordedAt:   t0.Add(time.Duration(i) * time.Minute),
			Status:       status,
			SessionTime:  time.Duration(i) * time.Minute,
			InputOctets:  uint64(i * 100),
			OutputOctets: uint64(i * 200),
		}))
	}

	snaps, err := s.Snapshots(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, models.AcctStatusStart, snaps[0].Status)
	assert.Equal(t, models.AcctStatusStop, snaps[2].Status)
	assert.Equal(t, 2*time.Minute, snaps[2].SessionTime)
	assert.Equal(t, uint64(400), snaps[2].OutputOctets)
	assert.True(t, snaps[1].RecordedAt.Equal(t0.Add(time.Minute)))
}
