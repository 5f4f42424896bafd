package framer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/clock"
	"ilink3gw/config"
	"ilink3gw/endpoints"
	"ilink3gw/gatewaysessions"
	"ilink3gw/idstrategy"
	"ilink3gw/idstrategy/memallocator"
	"ilink3gw/ilink3"
	"ilink3gw/libraryreg"
	"ilink3gw/protocol"
	"ilink3gw/retrymgr"
	"ilink3gw/seqindex/memindex"
)

type fakeListener struct {
	pending []net.Conn
}

func (l *fakeListener) Accept() (net.Conn, error) {
	if len(l.pending) == 0 {
		return nil, net.ErrClosed
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func newTestFramer(t *testing.T, listener Listener) *Framer {
	t.Helper()
	cfg := config.Default()
	cfg.InboundBytesReceivedLimit = 1 << 20
	return New(cfg, Deps{
		Clock:       &clock.Fake{Millis: 1000},
		Listener:    listener,
		Retry:       retrymgr.NewManager(),
		Endpoints:   endpoints.NewTable(),
		Libraries:   libraryreg.New(&clock.Fake{Millis: 1000}, 5000, nil),
		GatewayPool: gatewaysessions.NewPool(),
		SentIndex:   memindex.New(),
		RecvIndex:   memindex.New(),
		IDAllocator: memallocator.New(),
	})
}

func TestDoWork_AcceptsNewConnectionAndInsertsGatewaySession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	serverConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))

	fr := newTestFramer(t, &fakeListener{pending: []net.Conn{serverConn}})

	work := fr.DoWork(1000)
	assert.GreaterOrEqual(t, work, 1)
	assert.Equal(t, 1, fr.gatewayPool.Count())
	assert.Equal(t, 1, fr.endpoints.ReceiverCount())
	assert.Equal(t, 1, fr.endpoints.SenderCount())
}

func TestDoWork_ReturnsZeroWhenIdle(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	work := fr.DoWork(1000)
	assert.Equal(t, 0, work)
}

func TestSubmitAdminCommand_ResolvesOnNextDoWork(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	future := fr.SubmitAdminCommand(QueryLibraries())

	fr.DoWork(1000)

	val, err := future.Result()
	require.NoError(t, err)
	assert.Equal(t, 0, val)
}

func TestGatewaySessionsSnapshot_ReflectsAcceptedConnections(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	serverConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	fr := newTestFramer(t, &fakeListener{pending: []net.Conn{serverConn}})
	fr.DoWork(1000)

	future := fr.SubmitAdminCommand(GatewaySessionsSnapshot())
	fr.DoWork(1001)

	val, err := future.Result()
	require.NoError(t, err)
	snap := val.([]gatewaysessions.GatewaySession)
	assert.Len(t, snap, 1)
}

func TestPollLibraries_DeadLibraryReacquiresSessions(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	libID := libraryreg.LibraryID(1)
	_, err := fr.libraries.Register(libID, 7)
	require.NoError(t, err)

	pool := gatewaysessions.NewPool()
	pool.Insert(&gatewaysessions.GatewaySession{SessionID: 42, ConnectionID: 42})
	fr.libraryPools[libID] = pool
	fr.libraries.AssignSession(libID, 42)

	work := fr.DoWork(1000 + 5000 + 1)
	assert.GreaterOrEqual(t, work, 1)
	_, stillInLibraryPool := pool.Get(42)
	assert.False(t, stillInLibraryPool)
	_, inGateway := fr.gatewayPool.Get(42)
	assert.True(t, inGateway)
}

func TestInitiateConnection_UnknownLibraryRejected(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	err := fr.InitiateConnection(libraryreg.LibraryID(9), "127.0.0.1:1", idstrategy.CompositeKey{}, ilink3.Config{})
	assert.Error(t, err)
}

func TestOffer_ControlFrameHandledInlineNotLoggedToInboundLog(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	// Nothing reads clientConn, so the write deadline lets the Negotiate
	// frame below time out into the Sender's pending buffer instead of
	// blocking on the unbuffered pipe.
	serverConn.SetDeadline(time.Now().Add(200 * time.Millisecond))
	fr := newTestFramer(t, &fakeListener{pending: []net.Conn{serverConn}})
	fr.DoWork(1000) // accept

	var connID uint64
	for id := range fr.connections {
		connID = id
	}

	fr.sessions[connID] = ilink3.New(ilink3.Config{ConnectionID: connID}, &connProxy{fr: fr, connectionID: connID}, fr, fr.clock)
	fr.sessions[connID].SendNegotiate() // CONNECTED -> SENT_NEGOTIATE, so a later reject is legal

	result, _, err := fr.Offer(connID, &protocol.Frame{TemplateID: TemplateNegotiationReject})
	require.NoError(t, err)
	assert.Equal(t, endpoints.Published, result)
	assert.Equal(t, ilink3.NegotiateRejected, fr.sessions[connID].State())

	sub := fr.inboundLog.NewSubscription()
	var templates []uint16
	_, err = sub.Poll(1<<20, func(_ int64, body []byte) {
		_, frame, decErr := decodeEnvelope(body)
		require.NoError(t, decErr)
		templates = append(templates, frame.TemplateID)
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{TemplateConnectNotice}, templates, "only the accept-time connect notice reaches the inbound log")
}
