package acctd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius/rfc2866"

	"github.com/veesix-networks/hotspotd/internal/aaa"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/radius"
	"github.com/veesix-networks/hotspotd/pkg/store"
	"github.com/veesix-networks/hotspotd/pkg/store/memory"
)

const testSecret = "nas-secret"

type harness struct {
	store  *memory.Store
	acctd  *Component
	client *radius.Client
}

func newHarness(t *testing.T, nasAddr, defaultPlan string) *harness {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	require.NoError(t, st.CreatePlan(ctx, &models.Plan{ID: "p-1h", Name: "1 Hour", DurationMinutes: 60, Active: true}))
	require.NoError(t, st.CreatePlan(ctx, &models.Plan{ID: "p-1d", Name: "1 Day", DurationMinutes: 1440, Active: true}))

	sessions, err := aaa.New(aaa.Config{Store: st})
	require.NoError(t, err)

	c, err := New(Config{
		Listen: "127.0.0.1:0",
		NAS: []models.NAS{{
			Name:        "ap-1",
			Address:     net.ParseIP(nasAddr),
			Secret:      testSecret,
			DefaultPlan: defaultPlan,
		}},
		Sessions: sessions,
		Lookup:   st,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Stop(context.Background()) })

	port := c.Addr().(*net.UDPAddr).Port
	client := radius.NewClient(radius.ClientConfig{
		Server:   "127.0.0.1",
		AcctPort: port,
		Secret:   testSecret,
		NASIP:    net.ParseIP("127.0.0.1"),
		Timeout:  200 * time.Millisecond,
		Retries:  2,
	})

	return &harness{store: st, acctd: c, client: client}
}

func (h *harness) find(t *testing.T, acctID string) *models.Session {
	t.Helper()
	s, err := h.store.FindByAcctSessionID(context.Background(), "ap-1", acctID)
	require.NoError(t, err)
	return s
}

func TestAccountingLifecycle(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")
	ctx := context.Background()

	data := &radius.SessionData{
		Username:      "alice",
		AcctSessionID: "80000001",
		FramedIP:      net.ParseIP("192.168.88.20"),
	}
	_, err := h.client.AccountingStart(ctx, data)
	require.NoError(t, err)

	s := h.find(t, "80000001")
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "p-1h", s.PlanID)
	assert.Equal(t, "192.168.88.20", s.FramedIP.String())
	assert.True(t, s.Active())

	// Retransmitted start is acknowledged without a second session.
	_, err = h.client.AccountingStart(ctx, data)
	require.NoError(t, err)

	data.SessionTime = 5 * time.Minute
	data.InputOctets = 5<<32 + 10
	data.OutputOctets = 2000
	_, err = h.client.AccountingUpdate(ctx, data)
	require.NoError(t, err)

	s = h.find(t, "80000001")
	assert.Equal(t, uint64(5<<32+10), s.InputOctets)
	assert.Equal(t, uint64(2000), s.OutputOctets)

	data.OutputOctets = 3000
	data.TerminateCause = radius.TerminateSessionTimeout
	_, err = h.client.AccountingStop(ctx, data)
	require.NoError(t, err)

	s = h.find(t, "80000001")
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, models.EndReasonExpired, s.EndReason)
	assert.Equal(t, uint64(3000), s.OutputOctets)

	// A late stop for a closed session is still acknowledged.
	_, err = h.client.AccountingStop(ctx, data)
	require.NoError(t, err)

	stats := h.acctd.Stats()
	assert.Equal(t, uint64(2), stats.Starts)
	assert.Equal(t, uint64(1), stats.Interims)
	assert.Equal(t, uint64(2), stats.Stops)
}

func TestPlanFromClass(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")

	_, err := h.client.AccountingStart(context.Background(), &radius.SessionData{
		Username:      "bob",
		AcctSessionID: "80000002",
		Class:         []byte("1 Day"),
	})
	require.NoError(t, err)
	assert.Equal(t, "p-1d", h.find(t, "80000002").PlanID)
}

func TestNewStartSupersedesStaleSession(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")
	ctx := context.Background()

	_, err := h.client.AccountingStart(ctx, &radius.SessionData{Username: "carol", AcctSessionID: "a1"})
	require.NoError(t, err)
	_, err = h.client.AccountingStart(ctx, &radius.SessionData{Username: "carol", AcctSessionID: "a2"})
	require.NoError(t, err)

	old := h.find(t, "a1")
	require.NotNil(t, old.EndedAt)
	assert.Equal(t, models.EndReasonTerminated, old.EndReason)
	assert.True(t, h.find(t, "a2").Active())
}

func TestReusedAcctSessionIDStartsNewSession(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")
	ctx := context.Background()

	alice := &radius.SessionData{Username: "alice", AcctSessionID: "80000001"}
	_, err := h.client.AccountingStart(ctx, alice)
	require.NoError(t, err)
	_, err = h.client.AccountingStop(ctx, alice)
	require.NoError(t, err)

	bob := &radius.SessionData{Username: "bob", AcctSessionID: "80000001"}
	_, err = h.client.AccountingStart(ctx, bob)
	require.NoError(t, err)

	s, err := h.store.FindActive(ctx, "bob", "ap-1")
	require.NoError(t, err)
	assert.Equal(t, "80000001", s.AcctSessionID)

	bob.InputOctets = 4096
	_, err = h.client.AccountingUpdate(ctx, bob)
	require.NoError(t, err)

	// A retransmitted Stop for alice must not end bob's session.
	_, err = h.client.AccountingStop(ctx, alice)
	require.NoError(t, err)

	s, err = h.store.FindActive(ctx, "bob", "ap-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), s.InputOctets)

	_, err = h.client.AccountingStop(ctx, bob)
	require.NoError(t, err)
	_, err = h.store.FindActive(ctx, "bob", "ap-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	active, err := h.store.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestReassignedAcctSessionIDClosesLiveSession(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")
	ctx := context.Background()

	_, err := h.client.AccountingStart(ctx, &radius.SessionData{Username: "alice", AcctSessionID: "80000001"})
	require.NoError(t, err)
	alice, err := h.store.FindActive(ctx, "alice", "ap-1")
	require.NoError(t, err)

	// The NAS rebooted, lost alice and handed her id to bob.
	_, err = h.client.AccountingStart(ctx, &radius.SessionData{Username: "bob", AcctSessionID: "80000001"})
	require.NoError(t, err)

	old, err := h.store.GetSession(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, old.EndedAt)
	assert.Equal(t, models.EndReasonTerminated, old.EndReason)

	bob, err := h.store.FindActive(ctx, "bob", "ap-1")
	require.NoError(t, err)
	assert.True(t, bob.Active())
}

func TestUnknownSessionIsAcknowledged(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")

	_, err := h.client.AccountingUpdate(context.Background(), &radius.SessionData{Username: "dave", AcctSessionID: "nope"})
	assert.NoError(t, err)
}

func TestUnknownNASIsDropped(t *testing.T) {
	h := newHarness(t, "10.9.9.9", "1 Hour")

	_, err := h.client.AccountingStart(context.Background(), &radius.SessionData{Username: "eve", AcctSessionID: "x"})
	assert.ErrorIs(t, err, radius.ErrTimeout)
	assert.NotZero(t, h.acctd.Stats().UnknownNAS)
}

func TestWrongSecretIsDropped(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "1 Hour")
	port := h.acctd.Addr().(*net.UDPAddr).Port

	bad := radius.NewClient(radius.ClientConfig{
		Server:   "127.0.0.1",
		AcctPort: port,
		Secret:   "wrong",
		Timeout:  100 * time.Millisecond,
		Retries:  1,
	})
	_, err := bad.AccountingStart(context.Background(), &radius.SessionData{Username: "eve", AcctSessionID: "x"})
	assert.ErrorIs(t, err, radius.ErrTimeout)

	_, err = h.store.FindByAcctSessionID(context.Background(), "ap-1", "x")
	assert.Error(t, err)
}

func TestMissingPlanIsNotAcknowledged(t *testing.T) {
	h := newHarness(t, "127.0.0.1", "")

	_, err := h.client.AccountingStart(context.Background(), &radius.SessionData{Username: "frank", AcctSessionID: "y"})
	assert.ErrorIs(t, err, radius.ErrTimeout)
	assert.NotZero(t, h.acctd.Stats().Errors)
}

func TestEndReason(t *testing.T) {
	assert.Equal(t, models.EndReasonNormal, endReason(rfc2866.AcctTerminateCause_Value_UserRequest))
	assert.Equal(t, models.EndReasonNormal, endReason(rfc2866.AcctTerminateCause_Value_IdleTimeout))
	assert.Equal(t, models.EndReasonExpired, endReason(rfc2866.AcctTerminateCause_Value_SessionTimeout))
	assert.Equal(t, models.EndReasonTerminated, endReason(rfc2866.AcctTerminateCause_Value_AdminReset))
}
