package enforcement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/hotspotd/pkg/provider"
)

type recordingEnforcer struct {
	creds []Credentials
}

func (r *recordingEnforcer) Info() provider.Info { return provider.Info{Name: "recording"} }

func (r *recordingEnforcer) ListActiveSessions(ctx context.Context, c Credentials) ([]ActiveSession, error) {
	r.creds = append(r.creds, c)
	return []ActiveSession{{User: "alice"}}, nil
}

func (r *recordingEnforcer) Disconnect(ctx context.Context, c Credentials, user string) (Result, error) {
	r.creds = append(r.creds, c)
	return NotFound(), nil
}

func (r *recordingEnforcer) SendMessage(ctx context.Context, c Credentials, user, text string) (Result, error) {
	r.creds = append(r.creds, c)
	return Result{Success: true}, nil
}

func (r *recordingEnforcer) Broadcast(ctx context.Context, c Credentials, text string) (BroadcastResult, error) {
	r.creds = append(r.creds, c)
	return BroadcastResult{NotifiedCount: 3}, nil
}

func TestDirectoryRoutesByNAS(t *testing.T) {
	ctx := context.Background()
	e := &recordingEnforcer{}
	d := NewDirectory()
	d.Add("ap-2", Target{Enforcer: e, Credentials: Credentials{Address: "10.0.0.2"}})
	d.Add("ap-1", Target{Enforcer: e, Credentials: Credentials{NAS: "ap-1", Address: "10.0.0.1"}})

	assert.Equal(t, []string{"ap-1", "ap-2"}, d.Names())

	sessions, err := d.ListActiveSessions(ctx, "ap-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	res, err := d.Disconnect(ctx, "ap-2", "alice")
	require.NoError(t, err)
	assert.True(t, res.NotFound())

	res, err = d.SendMessage(ctx, "ap-1", "alice", "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)

	b, err := d.Broadcast(ctx, "ap-2", "hi")
	require.NoError(t, err)
	assert.Equal(t, 3, b.NotifiedCount)

	require.Len(t, e.creds, 4)
	assert.Equal(t, "10.0.0.1", e.creds[0].Address)
	assert.Equal(t, "ap-2", e.creds[1].NAS, "the NAS name is filled in from the directory key")

	_, err = d.Disconnect(ctx, "nope", "alice")
	assert.ErrorIs(t, err, ErrUnknownNAS)
}
