package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/gatewaysessions"
	"ilink3gw/gwerrors"
	"ilink3gw/libraryreg"
	"ilink3gw/seqindex/memindex"
)

// drainInboundTemplates runs the transaction queue to completion (bounded
// by maxPasses, generous for the handful of steps these Transactions
// ever carry) and returns every TemplateID offered to the inbound log,
// in order.
func drainInboundTemplates(t *testing.T, fr *Framer, maxPasses int) []uint16 {
	t.Helper()
	for i := 0; i < maxPasses && fr.retry.Pending() > 0; i++ {
		fr.DoWork(1000)
	}
	require.Equal(t, 0, fr.retry.Pending(), "transaction did not drain within %d passes", maxPasses)

	sub := fr.inboundLog.NewSubscription()
	var templates []uint16
	_, err := sub.Poll(1<<20, func(_ int64, body []byte) {
		_, frame, err := decodeEnvelope(body)
		require.NoError(t, err)
		templates = append(templates, frame.TemplateID)
	})
	require.NoError(t, err)
	return templates
}

func TestRequestSession_PublishesManageConnectionLogonCatchupAndReply(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	libID := libraryreg.LibraryID(7)
	_, err := fr.libraries.Register(libID, 0)
	require.NoError(t, err)

	fr.gatewayPool.Insert(&gatewaysessions.GatewaySession{SessionID: 42, ConnectionID: 42})
	recvIdx := fr.recvIdx.(*memindex.Index)
	recvIdx.SetReceived("42", 10)

	status := fr.RequestSession(libID, 42, 5, 99)
	assert.Equal(t, gwerrors.OK, status)

	s, ok := fr.libraryPools[libID].Get(42)
	require.True(t, ok)
	assert.Equal(t, gatewaysessions.Active, s.State)

	templates := drainInboundTemplates(t, fr, 10)
	assert.Equal(t, []uint16{TemplateManageConnection, TemplateLogon, TemplateCatchup, TemplateRequestSessionReply}, templates)
}

func TestRequestSession_ReplayFromBeyondLastReceivedReportsSequenceTooHigh(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	libID := libraryreg.LibraryID(7)
	_, err := fr.libraries.Register(libID, 0)
	require.NoError(t, err)

	fr.gatewayPool.Insert(&gatewaysessions.GatewaySession{SessionID: 42, ConnectionID: 42})
	recvIdx := fr.recvIdx.(*memindex.Index)
	recvIdx.SetReceived("42", 10)

	status := fr.RequestSession(libID, 42, 11, 99)
	assert.Equal(t, gwerrors.OK, status, "the synchronous return is acceptance of the request, not the handover outcome")

	for i := 0; i < 10 && fr.retry.Pending() > 0; i++ {
		fr.DoWork(1000)
	}
	require.Equal(t, 0, fr.retry.Pending())

	sub := fr.inboundLog.NewSubscription()
	var last []byte
	_, err = sub.Poll(1<<20, func(_ int64, body []byte) {
		_, frame, decErr := decodeEnvelope(body)
		require.NoError(t, decErr)
		if frame.TemplateID == TemplateRequestSessionReply {
			last = frame.Body
		}
	})
	require.NoError(t, err)
	require.NotNil(t, last, "expected a RequestSessionReply frame")

	gotStatus, gotCorrelation := decodeReplyBody(last)
	assert.Equal(t, gwerrors.SequenceNumberTooHigh, gotStatus)
	assert.EqualValues(t, 99, gotCorrelation)
}

func TestRequestSession_UnknownLibraryRejected(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	status := fr.RequestSession(libraryreg.LibraryID(1), 42, 0, 1)
	assert.Equal(t, gwerrors.StatusUnknownLibrary, status)
}

func TestRequestSession_DuplicateCorrelationRejected(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	libID := libraryreg.LibraryID(7)
	_, err := fr.libraries.Register(libID, 0)
	require.NoError(t, err)
	fr.gatewayPool.Insert(&gatewaysessions.GatewaySession{SessionID: 42, ConnectionID: 42})

	status := fr.RequestSession(libID, 42, 0, 99)
	require.Equal(t, gwerrors.OK, status)

	fr.gatewayPool.Insert(&gatewaysessions.GatewaySession{SessionID: 43, ConnectionID: 43})
	status = fr.RequestSession(libID, 43, 0, 99)
	assert.Equal(t, gwerrors.SessionNotLoggedIn, status, "a second request under the same correlation id must be rejected while one is pending")
}

func TestReleaseSession_PublishesReleaseSessionReplyAndReturnsSessionToGateway(t *testing.T) {
	fr := newTestFramer(t, &fakeListener{})
	libID := libraryreg.LibraryID(7)
	_, err := fr.libraries.Register(libID, 0)
	require.NoError(t, err)

	pool := gatewaysessions.NewPool()
	pool.Insert(&gatewaysessions.GatewaySession{SessionID: 42, ConnectionID: 42, State: gatewaysessions.Active})
	fr.libraryPools[libID] = pool
	fr.libraries.AssignSession(libID, 42)

	status := fr.ReleaseSession(libID, 42, 77)
	assert.Equal(t, gwerrors.OK, status)

	_, stillInLibraryPool := pool.Get(42)
	assert.False(t, stillInLibraryPool)
	_, inGateway := fr.gatewayPool.Get(42)
	assert.True(t, inGateway)

	sub := fr.inboundLog.NewSubscription()
	var found bool
	_, err = sub.Poll(1<<20, func(_ int64, body []byte) {
		_, frame, decErr := decodeEnvelope(body)
		require.NoError(t, decErr)
		if frame.TemplateID == TemplateReleaseSessionReply {
			found = true
			status, correlation := decodeReplyBody(frame.Body)
			assert.Equal(t, gwerrors.OK, status)
			assert.EqualValues(t, 77, correlation)
		}
	})
	require.NoError(t, err)
	assert.True(t, found, "expected a ReleaseSessionReply frame")
}
