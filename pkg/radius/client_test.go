package radius

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	layeh "layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
	"layeh.com/radius/rfc3576"
)

var testSecret = []byte("testing123")

// fakeServer is a RADIUS server built on layeh's PacketServer. handle
// returns the reply to send, or nil to stay silent.
type fakeServer struct {
	conn   net.PacketConn
	handle func(req *layeh.Request) *Packet

	mu       sync.Mutex
	requests []*Packet
}

func newFakeServer(t *testing.T, secret []byte, handle func(req *layeh.Request) *Packet) *fakeServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{conn: conn, handle: handle}
	srv := &layeh.PacketServer{
		SecretSource: layeh.StaticSecretSource(secret),
		Handler: layeh.HandlerFunc(func(w layeh.ResponseWriter, r *layeh.Request) {
			s.mu.Lock()
			s.requests = append(s.requests, r.Packet)
			s.mu.Unlock()

			if resp := s.handle(r); resp != nil {
				w.Write(resp)
			}
		}),
	}
	go srv.Serve(conn)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return s
}

func (s *fakeServer) port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *fakeServer) received() []*Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Packet(nil), s.requests...)
}

// signReply adds a valid Message-Authenticator to a reply built with
// Request.Response, whose authenticator is still the request's.
func signReply(t *testing.T, resp *Packet) {
	t.Helper()
	require.NoError(t, rfc2869.MessageAuthenticator_Set(resp, make([]byte, AuthLen)))
	b, err := resp.MarshalBinary()
	require.NoError(t, err)
	mac := hmac.New(md5.New, resp.Secret)
	mac.Write(b)
	require.NoError(t, rfc2869.MessageAuthenticator_Set(resp, mac.Sum(nil)))
}

func newTestClient(port int) *Client {
	return NewClient(ClientConfig{
		Server:   "127.0.0.1",
		AuthPort: port,
		AcctPort: port,
		Secret:   string(testSecret),
		NASIP:    net.ParseIP("192.168.88.1"),
		Timeout:  100 * time.Millisecond,
		Retries:  3,
	})
}

func accept(r *layeh.Request) *Packet { return r.Response(CodeAccessAccept) }

func TestAuthenticateAccept(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		if rfc2865.UserPassword_GetString(r.Packet) != "correct horse battery staple" {
			return r.Response(CodeAccessReject)
		}
		resp := r.Response(CodeAccessAccept)
		rfc2865.ReplyMessage_SetString(resp, "welcome")
		rfc2865.SessionTimeout_Set(resp, 3600)
		rfc2865.Class_Set(resp, []byte("plan:hourly"))
		signReply(t, resp)
		return resp
	})

	c := newTestClient(srv.port())
	res, err := c.Authenticate(context.Background(), "alice", "correct horse battery staple", nil)
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, CodeAccessAccept, res.Code)
	assert.Equal(t, "welcome", res.ReplyMessage)
	assert.Equal(t, time.Hour, res.SessionTimeout)
	assert.Equal(t, []byte("plan:hourly"), res.Class)
	require.NotNil(t, res.Reply)

	reqs := srv.received()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "alice", rfc2865.UserName_GetString(req))
	assert.Equal(t, "192.168.88.1", rfc2865.NASIPAddress_Get(req).String())
	assert.Equal(t, rfc2865.ServiceType_Value_FramedUser, rfc2865.ServiceType_Get(req))
	assert.Equal(t, rfc2865.FramedProtocol_Value_PPP, rfc2865.FramedProtocol_Get(req))
	assert.Len(t, rfc2869.MessageAuthenticator_Get(req), AuthLen)

	stats := c.Stats().GetServerStats("127.0.0.1")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.AuthRequests)
	assert.Equal(t, uint64(1), stats.AuthAccepts)

	res, err = c.Authenticate(context.Background(), "alice", "wrong", nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestAuthenticateMessageAuthenticatorSigned(t *testing.T) {
	srv := newFakeServer(t, testSecret, accept)

	c := newTestClient(srv.port())
	_, err := c.Authenticate(context.Background(), "alice", "s3cret", nil)
	require.NoError(t, err)

	req := srv.received()[0]
	got := rfc2869.MessageAuthenticator_Get(req)

	check := *req
	check.Attributes = append(layeh.Attributes(nil), req.Attributes...)
	require.NoError(t, rfc2869.MessageAuthenticator_Set(&check, make([]byte, AuthLen)))
	b, err := check.MarshalBinary()
	require.NoError(t, err)
	mac := hmac.New(md5.New, testSecret)
	mac.Write(b)
	assert.True(t, hmac.Equal(got, mac.Sum(nil)))
}

func TestAuthenticateReject(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		resp := r.Response(CodeAccessReject)
		rfc2865.ReplyMessage_SetString(resp, "plan expired")
		return resp
	})

	c := newTestClient(srv.port())
	res, err := c.Authenticate(context.Background(), "alice", "wrong", nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, CodeAccessReject, res.Code)
	assert.Equal(t, "plan expired", res.ReplyMessage)
	assert.Equal(t, uint64(1), c.Stats().GetServerStats("127.0.0.1").AuthRejects)
}

func TestAuthenticateTimeoutFailsClosed(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet { return nil })

	c := newTestClient(srv.port())
	start := time.Now()
	res, err := c.Authenticate(context.Background(), "alice", "s3cret", nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotNil(t, res)
	assert.False(t, res.Accepted)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	require.Eventually(t, func() bool { return len(srv.received()) == 3 }, time.Second, 10*time.Millisecond)
	ids := map[byte]bool{}
	auths := map[[AuthLen]byte]bool{}
	for _, r := range srv.received() {
		ids[r.Identifier] = true
		auths[r.Authenticator] = true
	}
	assert.Len(t, ids, 3, "every attempt uses a fresh identifier")
	assert.Len(t, auths, 3, "every attempt uses a fresh authenticator")

	stats := c.Stats().GetServerStats("127.0.0.1")
	assert.Equal(t, uint64(3), stats.AuthRequests)
	assert.Equal(t, uint64(1), stats.AuthTimeouts)
	assert.NotEmpty(t, stats.LastError)
}

func TestAuthenticateRetriesUntilAnswered(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return nil
		}
		return r.Response(CodeAccessAccept)
	})

	c := newTestClient(srv.port())
	res, err := c.Authenticate(context.Background(), "alice", "s3cret", nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Len(t, srv.received(), 2)
}

func TestAuthenticateRejectsForgedReplies(t *testing.T) {
	tests := []struct {
		name   string
		secret []byte
		reply  func(r *layeh.Request) *Packet
		err    error
	}{
		{
			name:   "server uses another secret",
			secret: []byte("not-the-secret"),
			reply:  accept,
			err:    ErrBadAuthenticator,
		},
		{
			name:   "reply signed with another secret",
			secret: testSecret,
			reply: func(r *layeh.Request) *Packet {
				resp := r.Response(CodeAccessAccept)
				resp.Secret = []byte("forged")
				return resp
			},
			err: ErrBadAuthenticator,
		},
		{
			name:   "bad message-authenticator",
			secret: testSecret,
			reply: func(r *layeh.Request) *Packet {
				resp := r.Response(CodeAccessAccept)
				rfc2869.MessageAuthenticator_Set(resp, []byte("0123456789abcdef"))
				return resp
			},
			err: ErrBadMessageAuth,
		},
		{
			name:   "unexpected code",
			secret: testSecret,
			reply:  func(r *layeh.Request) *Packet { return r.Response(CodeAccountingResponse) },
			err:    ErrUnexpectedCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, tt.secret, tt.reply)

			c := newTestClient(srv.port())
			res, err := c.Authenticate(context.Background(), "alice", "s3cret", nil)
			require.ErrorIs(t, err, tt.err)
			require.ErrorIs(t, err, ErrProtocol)
			assert.False(t, res.Accepted)
			assert.Equal(t, uint64(1), c.Stats().GetServerStats("127.0.0.1").AuthErrors)
		})
	}
}

func TestAuthenticateIgnoresForeignIdentifier(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		resp := r.Response(CodeAccessAccept)
		resp.Identifier++
		return resp
	})

	c := newTestClient(srv.port())
	_, err := c.Authenticate(context.Background(), "alice", "s3cret", nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAuthenticateCancelledContext(t *testing.T) {
	srv := newFakeServer(t, testSecret, accept)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(srv.port())
	res, err := c.Authenticate(ctx, "alice", "s3cret", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Accepted)
	assert.Empty(t, srv.received())
}

func TestAuthenticateOversizedInput(t *testing.T) {
	c := newTestClient(1)

	long := string(make([]byte, 129))
	res, err := c.Authenticate(context.Background(), "alice", long, nil)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.False(t, res.Accepted)

	res, err = c.Authenticate(context.Background(), string(make([]byte, 254)), "s3cret", nil)
	assert.ErrorIs(t, err, ErrAttributeTooLong)
	assert.False(t, res.Accepted)
}

func TestPerNASSecret(t *testing.T) {
	srv := newFakeServer(t, []byte("nas-specific"), func(r *layeh.Request) *Packet {
		return r.Response(CodeAccountingResponse)
	})

	c := NewClient(ClientConfig{
		Server:   "127.0.0.1",
		AcctPort: srv.port(),
		Secret:   "default",
		Secrets:  map[string]string{"10.1.1.1": "nas-specific"},
		Timeout:  100 * time.Millisecond,
	})

	_, err := c.AccountingStart(context.Background(), &SessionData{
		Username:      "alice",
		AcctSessionID: "s-1",
		NASAddress:    net.ParseIP("10.1.1.1"),
	})
	require.NoError(t, err)

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "10.1.1.1", rfc2865.NASIPAddress_Get(reqs[0]).String())
}

func TestAccountingStopAttributes(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		return r.Response(CodeAccountingResponse)
	})

	c := newTestClient(srv.port())
	res, err := c.AccountingStop(context.Background(), &SessionData{
		Username:       "alice",
		AcctSessionID:  "s-1",
		FramedIP:       net.ParseIP("10.5.50.3"),
		SessionTime:    61*time.Minute + 500*time.Millisecond,
		InputOctets:    5<<32 + 10,
		OutputOctets:   1234,
		TerminateCause: TerminateSessionTimeout,
	})
	require.NoError(t, err)
	assert.Equal(t, CodeAccountingResponse, res.Code)

	reqs := srv.received()
	require.Len(t, reqs, 1)
	req := reqs[0]

	assert.Equal(t, AcctStatusStop, rfc2866.AcctStatusType_Get(req))
	assert.Equal(t, rfc2866.AcctSessionTime(3660), rfc2866.AcctSessionTime_Get(req))
	assert.Equal(t, rfc2866.AcctInputOctets(10), rfc2866.AcctInputOctets_Get(req))
	assert.Equal(t, rfc2869.AcctInputGigawords(5), rfc2869.AcctInputGigawords_Get(req))
	assert.Equal(t, rfc2866.AcctOutputOctets(1234), rfc2866.AcctOutputOctets_Get(req))
	assert.Equal(t, TerminateSessionTimeout, rfc2866.AcctTerminateCause_Get(req))
	assert.Equal(t, rfc2865.ServiceType_Value_FramedUser, rfc2865.ServiceType_Get(req))
	_, err = rfc2869.AcctOutputGigawords_Lookup(req)
	assert.Error(t, err, "no output gigawords below 4 GiB")
	assert.Equal(t, "s-1", rfc2866.AcctSessionID_GetString(req))
	assert.Equal(t, "10.5.50.3", rfc2865.FramedIPAddress_Get(req).String())

	stats := c.Stats().GetServerStats("127.0.0.1")
	assert.Equal(t, uint64(1), stats.AcctRequests)
	assert.Equal(t, uint64(1), stats.AcctResponses)
}

func TestAccountingStartOmitsCounters(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		return r.Response(CodeAccountingResponse)
	})

	c := newTestClient(srv.port())
	_, err := c.AccountingStart(context.Background(), &SessionData{Username: "alice", AcctSessionID: "s-2"})
	require.NoError(t, err)

	req := srv.received()[0]
	assert.Equal(t, AcctStatusStart, rfc2866.AcctStatusType_Get(req))
	_, err = rfc2866.AcctSessionTime_Lookup(req)
	assert.Error(t, err)
	_, err = rfc2866.AcctTerminateCause_Lookup(req)
	assert.Error(t, err)
}

func TestAccountingInterimUpdate(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		return r.Response(CodeAccountingResponse)
	})

	c := newTestClient(srv.port())
	_, err := c.AccountingUpdate(context.Background(), &SessionData{
		Username:      "alice",
		AcctSessionID: "81000001",
		SessionTime:   90 * time.Second,
		InputOctets:   1000,
		OutputOctets:  2000,
	})
	require.NoError(t, err)

	p := srv.received()[0]
	assert.Equal(t, AcctStatusInterim, rfc2866.AcctStatusType_Get(p))
	assert.Equal(t, "81000001", rfc2866.AcctSessionID_GetString(p))
	assert.Equal(t, rfc2866.AcctSessionTime(90), rfc2866.AcctSessionTime_Get(p))
	assert.Equal(t, rfc2866.AcctInputOctets(1000), rfc2866.AcctInputOctets_Get(p))
	assert.Equal(t, rfc2866.AcctOutputOctets(2000), rfc2866.AcctOutputOctets_Get(p))
}

func TestAccountingUnexpectedCode(t *testing.T) {
	srv := newFakeServer(t, testSecret, accept)

	c := newTestClient(srv.port())
	_, err := c.AccountingUpdate(context.Background(), &SessionData{Username: "alice", AcctSessionID: "s-3"})
	assert.ErrorIs(t, err, ErrUnexpectedCode)
}

func TestExchangeDisconnect(t *testing.T) {
	srv := newFakeServer(t, testSecret, func(r *layeh.Request) *Packet {
		if r.Code != CodeDisconnectRequest || len(rfc2869.MessageAuthenticator_Get(r.Packet)) != AuthLen {
			return nil
		}
		resp := r.Response(CodeDisconnectNAK)
		rfc3576.ErrorCause_Set(resp, ErrorCauseSessionNotFound)
		return resp
	})

	c := newTestClient(0)
	req := layeh.New(CodeDisconnectRequest, testSecret)
	require.NoError(t, rfc2865.UserName_SetString(req, "alice"))
	require.NoError(t, rfc2869.MessageAuthenticator_Set(req, make([]byte, AuthLen)))
	id := req.Identifier

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.port()))
	resp, err := c.Exchange(context.Background(), addr, req)
	require.NoError(t, err)
	assert.Equal(t, CodeDisconnectNAK, resp.Code)
	assert.Equal(t, ErrorCauseSessionNotFound, rfc3576.ErrorCause_Get(resp))
	assert.Equal(t, id, req.Identifier, "the caller's packet is not modified")

	_, err = c.Exchange(context.Background(), addr, layeh.New(CodeAccessRequest, testSecret))
	assert.Error(t, err)
}
