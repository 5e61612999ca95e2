package aaa

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/hotspotd/pkg/clock"
	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/events/local"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/radius"
	"github.com/veesix-networks/hotspotd/pkg/store"
	"github.com/veesix-networks/hotspotd/pkg/store/memory"
)

type acctCall struct {
	status radius.AcctStatus
	data   radius.SessionData
}

type fakeUpstream struct {
	mu      sync.Mutex
	auth    *radius.AuthResult
	authErr error
	acctErr error
	calls   []acctCall
	nas     net.IP
}

func (f *fakeUpstream) Authenticate(_ context.Context, _, _ string, nas net.IP) (*radius.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nas = nas
	if f.authErr != nil {
		return &radius.AuthResult{}, f.authErr
	}
	return f.auth, nil
}

func (f *fakeUpstream) record(status radius.AcctStatus, s *radius.SessionData) (*radius.AccountingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, acctCall{status, *s})
	if f.acctErr != nil {
		return nil, f.acctErr
	}
	return &radius.AccountingResult{Code: radius.CodeAccountingResponse}, nil
}

func (f *fakeUpstream) AccountingStart(_ context.Context, s *radius.SessionData) (*radius.AccountingResult, error) {
	return f.record(radius.AcctStatusStart, s)
}

func (f *fakeUpstream) AccountingUpdate(_ context.Context, s *radius.SessionData) (*radius.AccountingResult, error) {
	return f.record(radius.AcctStatusInterim, s)
}

func (f *fakeUpstream) AccountingStop(_ context.Context, s *radius.SessionData) (*radius.AccountingResult, error) {
	return f.record(radius.AcctStatusStop, s)
}

type fakeLister struct {
	sessions map[string][]enforcement.ActiveSession
	errs     map[string]error
}

func (f *fakeLister) Names() []string {
	return []string{"ap-1", "ap-2", "ap-3"}
}

func (f *fakeLister) ListActiveSessions(_ context.Context, nas string) ([]enforcement.ActiveSession, error) {
	if err := f.errs[nas]; err != nil {
		return nil, err
	}
	return f.sessions[nas], nil
}

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Store
	upstream *fakeUpstream
	lister   *fakeLister
	clock    *clock.Fake
	aaa      *Component
}

func newHarness(t *testing.T, upstream bool) *harness {
	t.Helper()

	h := &harness{
		store:  memory.New(),
		lister: &fakeLister{sessions: map[string][]enforcement.ActiveSession{}, errs: map[string]error{}},
		clock:  clock.NewFake(t0),
	}
	require.NoError(t, h.store.CreatePlan(context.Background(), &models.Plan{
		ID: "daily", Name: "Daily", DurationMinutes: 1440, Active: true,
	}))

	cfg := Config{
		Store:  h.store,
		Lister: h.lister,
		Clock:  h.clock,
		NASAddresses: map[string]net.IP{
			"ap-1": net.ParseIP("10.0.0.1"),
			"ap-2": net.ParseIP("10.0.0.2"),
		},
	}
	if upstream {
		h.upstream = &fakeUpstream{auth: &radius.AuthResult{Accepted: true, Code: radius.CodeAccessAccept}}
		cfg.Upstream = h.upstream
	}

	c, err := New(cfg)
	require.NoError(t, err)
	h.aaa = c
	return h
}

func TestLoginAccepted(t *testing.T) {
	h := newHarness(t, true)

	res, err := h.aaa.Login(context.Background(), "alice", "secret", "ap-1")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "10.0.0.1", h.upstream.nas.String())
	assert.Equal(t, uint64(1), h.aaa.Stats().LoginAccepts)
}

func TestLoginFailsClosed(t *testing.T) {
	h := newHarness(t, true)
	h.upstream.authErr = radius.ErrTimeout

	res, err := h.aaa.Login(context.Background(), "alice", "secret", "ap-1")
	assert.ErrorIs(t, err, radius.ErrTimeout)
	require.NotNil(t, res)
	assert.False(t, res.Accepted)

	res, err = h.aaa.Login(context.Background(), "alice", "secret", "nowhere")
	assert.ErrorIs(t, err, ErrUnknownNAS)
	assert.False(t, res.Accepted)

	assert.Equal(t, uint64(2), h.aaa.Stats().LoginErrors)
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t, true)
	h.upstream.auth = &radius.AuthResult{Accepted: false, Code: radius.CodeAccessReject, ReplyMessage: "bad password"}

	res, err := h.aaa.Login(context.Background(), "alice", "wrong", "ap-1")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "bad password", res.ReplyMessage)
}

func TestLoginWithoutServer(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.aaa.Login(context.Background(), "alice", "secret", "ap-1")
	assert.ErrorIs(t, err, ErrNoServer)
	assert.False(t, res.Accepted)
}

func TestLoginWithoutAccountingUpstream(t *testing.T) {
	auth := &fakeUpstream{auth: &radius.AuthResult{Accepted: true, Code: radius.CodeAccessAccept}}
	st := memory.New()
	require.NoError(t, st.CreatePlan(context.Background(), &models.Plan{ID: "daily", Name: "Daily", DurationMinutes: 1440, Active: true}))

	c, err := New(Config{
		Store:        st,
		Auth:         auth,
		Clock:        clock.NewFake(t0),
		NASAddresses: map[string]net.IP{"ap-1": net.ParseIP("10.0.0.1")},
	})
	require.NoError(t, err)

	res, err := c.Login(context.Background(), "alice", "secret", "ap-1")
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	_, err = c.StartSession(context.Background(), StartRequest{Username: "alice", NAS: "ap-1", PlanID: "daily"})
	require.NoError(t, err)
	assert.Empty(t, auth.calls, "accounting stays local")
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	bus := local.NewBus()
	defer bus.Close()
	var (
		mu     sync.Mutex
		states []events.SessionState
	)
	bus.Subscribe(events.TopicSessionLifecycle, func(e events.Event) {
		mu.Lock()
		states = append(states, e.Data.(events.SessionLifecycleEvent).State)
		mu.Unlock()
	})
	h.aaa.cfg.Bus = bus

	s, err := h.aaa.StartSession(ctx, StartRequest{
		UserID:   "u1",
		Username: "alice",
		NAS:      "ap-1",
		PlanID:   "daily",
		FramedIP: net.ParseIP("192.168.88.10"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.AcctSessionID)
	assert.Equal(t, t0, s.StartedAt)

	_, err = h.aaa.StartSession(ctx, StartRequest{UserID: "u1", Username: "alice", NAS: "ap-1", PlanID: "daily"})
	assert.ErrorIs(t, err, store.ErrActiveSessionExists)

	h.clock.Advance(10 * time.Minute)
	updated, err := h.aaa.UpdateSession(ctx, s.ID, 1000, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), updated.InputOctets)

	h.clock.Advance(5 * time.Minute)
	closed, err := h.aaa.StopSession(ctx, s.ID, models.EndReasonNormal)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = h.aaa.StopSession(ctx, s.ID, models.EndReasonNormal)
	require.NoError(t, err)
	assert.False(t, closed)

	require.Len(t, h.upstream.calls, 3)
	assert.Equal(t, radius.AcctStatusStart, h.upstream.calls[0].status)
	assert.Equal(t, "10.0.0.1", h.upstream.calls[0].data.NASAddress.String())
	assert.Equal(t, "192.168.88.10", h.upstream.calls[0].data.FramedIP.String())
	assert.Equal(t, radius.AcctStatusInterim, h.upstream.calls[1].status)
	assert.Equal(t, 10*time.Minute, h.upstream.calls[1].data.SessionTime)
	stop := h.upstream.calls[2]
	assert.Equal(t, radius.AcctStatusStop, stop.status)
	assert.Equal(t, 15*time.Minute, stop.data.SessionTime)
	assert.Equal(t, uint64(5000), stop.data.OutputOctets)
	assert.Equal(t, radius.TerminateUserRequest, stop.data.TerminateCause)

	snaps, err := h.store.Snapshots(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, models.AcctStatusStop, snaps[2].Status)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.SessionState{events.SessionStarted, events.SessionEnded}, states)
}

func TestUpstreamFailureDoesNotFailSession(t *testing.T) {
	h := newHarness(t, true)
	h.upstream.acctErr = radius.ErrTimeout

	s, err := h.aaa.StartSession(context.Background(), StartRequest{Username: "alice", NAS: "ap-1", PlanID: "daily"})
	require.NoError(t, err)
	assert.Equal(t, "alice", s.UserID)
	assert.Equal(t, uint64(1), h.aaa.Stats().AccountingErrors)
}

func TestStopSessionRejectsInvalidReason(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.aaa.StopSession(context.Background(), "x", models.EndReasonNone)
	assert.Error(t, err)
}

func TestTerminateCauseFor(t *testing.T) {
	assert.Equal(t, radius.TerminateSessionTimeout, TerminateCauseFor(models.EndReasonExpired))
	assert.Equal(t, radius.TerminateAdminReset, TerminateCauseFor(models.EndReasonTerminated))
	assert.Equal(t, radius.TerminateUserRequest, TerminateCauseFor(models.EndReasonNormal))
}

func TestSyncCounters(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	alice, err := h.aaa.StartSession(ctx, StartRequest{Username: "alice", NAS: "ap-1", PlanID: "daily"})
	require.NoError(t, err)
	bob, err := h.aaa.StartSession(ctx, StartRequest{Username: "bob", NAS: "ap-2", PlanID: "daily"})
	require.NoError(t, err)

	h.lister.sessions["ap-1"] = []enforcement.ActiveSession{
		{User: "alice", BytesIn: 100, BytesOut: 200},
		{User: "stranger", BytesIn: 1, BytesOut: 1},
	}
	h.lister.errs["ap-2"] = enforcement.ErrUnavailable
	h.lister.errs["ap-3"] = enforcement.ErrUnsupported

	assert.Equal(t, 1, h.aaa.SyncCounters(ctx))

	got, err := h.store.GetSession(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.InputOctets)
	assert.Equal(t, uint64(200), got.OutputOctets)

	got, err = h.store.GetSession(ctx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, got.InputOctets)

	// Unchanged counters are not re-sent.
	assert.Equal(t, 0, h.aaa.SyncCounters(ctx))

	stats := h.aaa.Stats()
	assert.Equal(t, uint64(2), stats.SyncRuns)
	assert.Equal(t, uint64(2), stats.SyncErrors)
}

func TestSyncLoopRunsOnInterval(t *testing.T) {
	h := newHarness(t, false)
	h.aaa.cfg.InterimInterval = time.Minute
	ctx := context.Background()

	s, err := h.aaa.StartSession(ctx, StartRequest{Username: "alice", NAS: "ap-1", PlanID: "daily"})
	require.NoError(t, err)
	h.lister.sessions["ap-1"] = []enforcement.ActiveSession{{User: "alice", BytesIn: 42, BytesOut: 42}}

	require.NoError(t, h.aaa.Start(ctx))
	defer h.aaa.Stop(ctx)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		got, err := h.store.GetSession(ctx, s.ID)
		return err == nil && got.InputOctets == 42
	}, time.Second, 5*time.Millisecond)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, err != nil && !errors.Is(err, ErrNoServer))
}
