package framer

import (
	"encoding/binary"
	"fmt"
	"net"

	"ilink3gw/gatewaysessions"
	"ilink3gw/gwerrors"
	"ilink3gw/idstrategy"
	"ilink3gw/ilink3"
	"ilink3gw/libraryreg"
	"ilink3gw/protocol"
	"ilink3gw/pubsublog"
	"ilink3gw/retrymgr"
	"ilink3gw/seqindex"
)

// Inbound-stream notice template ids, per spec.md §6's publication
// list (Connect, ManageConnection, Logon, ReleaseSessionReply,
// RequestSessionReply, Catchup). Each gets its own id so a library
// decoding the inbound stream can tell a bare connect notice apart
// from a session reply or a catch-up marker; none of these overlap
// the ILink3 wire session-management templates below, which live in a
// disjoint range reserved for real peer traffic.
const (
	TemplateConnectNotice       uint16 = 1
	TemplateManageConnection    uint16 = 2
	TemplateLogon               uint16 = 3
	TemplateReleaseSessionReply uint16 = 4
	TemplateRequestSessionReply uint16 = 5
	TemplateCatchup             uint16 = 6
)

// ILink3 session-management template ids, per spec.md §4.5. The SBE
// codec that would normally assign these is out of scope; these values
// only need to be internally consistent between connProxy (encode) and
// dispatchControlFrame (decode).
const (
	TemplateNegotiate           uint16 = 500
	TemplateNegotiationResponse uint16 = 501
	TemplateNegotiationReject   uint16 = 502
	TemplateEstablish           uint16 = 503
	TemplateEstablishmentAck    uint16 = 504
	TemplateEstablishmentReject uint16 = 505
	TemplateTerminate           uint16 = 507
)

// responseUUID extracts the peer-echoed UUID from a control frame's
// body, where the external SBE codec (out of scope) would otherwise
// decode it. The body carries just the 8-byte big-endian UUID here; an
// empty body is treated as "echo whatever we sent", which only a
// loopback test harness without a real codec would produce.
func responseUUID(frame *protocol.Frame, fallback uint64) uint64 {
	if len(frame.Body) < 8 {
		return fallback
	}
	return binary.BigEndian.Uint64(frame.Body[:8])
}

// dispatchControlFrame handles ILink3 session-management templates
// inline against the connection's IlinkSession. handled is false for
// any other template, meaning the frame is business traffic destined
// for the durable inbound log.
func (fr *Framer) dispatchControlFrame(connectionID uint64, frame *protocol.Frame) (handled bool, err error) {
	session, ok := fr.sessions[connectionID]
	switch frame.TemplateID {
	case TemplateNegotiationResponse:
		if !ok {
			return true, fmt.Errorf("framer: negotiation response for unknown session on connection %d", connectionID)
		}
		return true, session.OnNegotiationResponse(responseUUID(frame, session.UUID))
	case TemplateNegotiationReject:
		if !ok {
			return true, nil
		}
		return true, session.RejectNegotiate()
	case TemplateEstablishmentAck:
		if !ok {
			return true, fmt.Errorf("framer: establishment ack for unknown session on connection %d", connectionID)
		}
		return true, session.OnEstablishmentAck(responseUUID(frame, session.UUID))
	case TemplateEstablishmentReject:
		if !ok {
			return true, nil
		}
		return true, session.RejectEstablish()
	case TemplateTerminate:
		if !ok {
			return true, nil
		}
		return true, session.OnTerminate()
	default:
		return false, nil
	}
}

// connProxy implements ilink3.Proxy by writing directly to a
// connection's Sender, bypassing the retry-managed outbound log since
// session-management frames are gateway-internal, not library business
// traffic (see dispatchControlFrame).
type connProxy struct {
	fr           *Framer
	connectionID uint64
}

func (p *connProxy) send(templateID uint16) error {
	sender, ok := p.fr.endpoints.Sender(p.connectionID)
	if !ok {
		return fmt.Errorf("framer: no sender for connection %d", p.connectionID)
	}
	packed, err := protocol.Pack(&protocol.Frame{TemplateID: templateID})
	if err != nil {
		return err
	}
	return sender.Write(packed)
}

func (p *connProxy) SendNegotiate(ilink3.NegotiateRequest) error { return p.send(TemplateNegotiate) }
func (p *connProxy) SendEstablish(ilink3.EstablishRequest) error { return p.send(TemplateEstablish) }
func (p *connProxy) SendTerminate(uint64, ilink3.DisconnectReason) error {
	return p.send(TemplateTerminate)
}

// InitiateConnection implements spec.md §4.1 "on_initiate_connection":
// dial out to a library-side counterparty and start the ILink3
// handshake once connected.
func (fr *Framer) InitiateConnection(libraryID libraryreg.LibraryID, addr string, key idstrategy.CompositeKey, sessCfg ilink3.Config) error {
	if _, ok := fr.libraries.Get(libraryID); !ok {
		return gwerrors.New(gwerrors.UnknownLibrary, fmt.Sprintf("library %d not registered", libraryID), nil).WithLibrary(int16(libraryID), 0)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return gwerrors.New(gwerrors.UnableToConnect, fmt.Sprintf("dial %s failed", addr), err).WithLibrary(int16(libraryID), 0)
	}

	sessionID, err := fr.idAlloc.Allocate(noCtx, key)
	if err != nil {
		_ = conn.Close()
		return gwerrors.New(gwerrors.DuplicateSession, "session id already allocated for composite key", err).WithLibrary(int16(libraryID), 0)
	}

	nowMs := fr.clock.NowMillis()
	connID := fr.mintConnectionID()
	fr.setupConnection(connID, conn, Initiator, nowMs)

	targetPos, posErr := fr.sentIdx.IndexedPosition(noCtx)
	if posErr == nil {
		if err := seqindex.AwaitIndexedUpTo(noCtx, fr.sentIdx, targetPos, fr.cfg.FramerIdleStrategy); err != nil {
			fr.onError(gwerrors.New(gwerrors.Exception, "await indexed position during initiate failed", err).WithLibrary(int16(libraryID), 0))
		}
	}

	lastSent, _ := fr.sentIdx.LastSent(noCtx, connID)
	lastReceived, _ := fr.recvIdx.LastReceived(noCtx, fmt.Sprintf("%d", sessionID))

	gs := &gatewaysessions.GatewaySession{
		ConnectionID:    connID,
		SessionID:       sessionID,
		Key:             key,
		LastSentSeq:     lastSent,
		LastReceivedSeq: lastReceived,
		State:           gatewaysessions.ActiveFromLastReceived(lastReceived),
	}
	fr.gatewayPool.Insert(gs)

	sessCfg.ConnectionID = connID
	proxy := &connProxy{fr: fr, connectionID: connID}
	session := ilink3.New(sessCfg, proxy, fr, fr.clock)
	fr.sessions[connID] = session

	correlationID := int64(connID)
	txn := retrymgr.NewTransaction(correlationID,
		func() (retrymgr.Result, error) { return fr.saveManageConnection(connID) },
		func() (retrymgr.Result, error) { return fr.saveLogon(connID) },
	)
	if _, err := fr.retry.FirstAttempt(txn); err != nil {
		return err
	}

	return session.SendNegotiate()
}

// saveManageConnection and saveLogon are steps shared by "Initiate
// handling" and "Session handover" (spec.md §4.1): idempotent publishes
// to the inbound stream recording that a connection (and then a logon)
// now exists, safe to retry under back-pressure.
func (fr *Framer) saveManageConnection(connectionID uint64) (retrymgr.Result, error) {
	return fr.publishNotice(connectionID, TemplateManageConnection, nil)
}

func (fr *Framer) saveLogon(connectionID uint64) (retrymgr.Result, error) {
	return fr.publishNotice(connectionID, TemplateLogon, nil)
}

// publishNotice offers a framed notice to the inbound stream, returning
// BackPressured (never an error) when the log has no room, matching
// spec.md §4.4's "all side-effecting Continuations must be idempotent
// or replay-safe."
func (fr *Framer) publishNotice(connectionID uint64, templateID uint16, body []byte) (retrymgr.Result, error) {
	envelope, err := encodeEnvelope(connectionID, &protocol.Frame{TemplateID: templateID, Body: body})
	if err != nil {
		return retrymgr.Abort, err
	}
	result, _, err := fr.inboundLog.Offer(envelope)
	if err != nil {
		return retrymgr.Abort, err
	}
	if result == pubsublog.BackPressured {
		return retrymgr.BackPressured, nil
	}
	return retrymgr.Complete, nil
}

// encodeReplyBody packs the (status, correlationId) pair spec.md §6
// gives ReleaseSessionReply/RequestSessionReply.
func encodeReplyBody(status gwerrors.ReplyStatus, correlationID int64) []byte {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:4], uint32(status))
	binary.BigEndian.PutUint64(body[4:12], uint64(correlationID))
	return body
}

// decodeReplyBody is encodeReplyBody's inverse, for the library side of
// the inbound stream (and for tests asserting what was published).
func decodeReplyBody(body []byte) (status gwerrors.ReplyStatus, correlationID int64) {
	if len(body) < 12 {
		return gwerrors.OK, 0
	}
	status = gwerrors.ReplyStatus(binary.BigEndian.Uint32(body[0:4]))
	correlationID = int64(binary.BigEndian.Uint64(body[4:12]))
	return status, correlationID
}

// publishSessionReply is the terminal step of both the session-handover
// and release Transactions: it publishes the (status, correlationId)
// reply spec.md §6 names, over the connection the session currently
// occupies.
func (fr *Framer) publishSessionReply(connectionID uint64, templateID uint16, status gwerrors.ReplyStatus, correlationID int64) (retrymgr.Result, error) {
	return fr.publishNotice(connectionID, templateID, encodeReplyBody(status, correlationID))
}

// catchUp implements spec.md §4.1's "catch-up phase (§4.4) that
// replays historical messages to align the library's view": it asks
// the (out-of-scope) received-sequence index how far the session has
// actually progressed, rejects the handover with SEQUENCE_NUMBER_TOO_HIGH
// when the library wants to replay from further ahead than the gateway
// has ever received (spec.md §8), and otherwise publishes a Catchup
// marker announcing how many frames the external replayer is expected
// to deliver before the library's view is caught up.
func (fr *Framer) catchUp(libraryID libraryreg.LibraryID, connectionID, sessionID uint64, replayFromSeqNo, correlationID int64) (retrymgr.Result, error) {
	lastReceived, err := fr.recvIdx.LastReceived(noCtx, fmt.Sprintf("%d", sessionID))
	if err != nil {
		return retrymgr.Abort, err
	}

	status := gwerrors.OK
	var expectedCount int64
	if replayFromSeqNo > lastReceived {
		status = gwerrors.SequenceNumberTooHigh
	} else {
		expectedCount = lastReceived - replayFromSeqNo + 1
	}

	catchupBody := make([]byte, 2+8+8)
	binary.BigEndian.PutUint16(catchupBody[0:2], uint16(libraryID))
	binary.BigEndian.PutUint64(catchupBody[2:10], connectionID)
	binary.BigEndian.PutUint64(catchupBody[10:18], uint64(expectedCount))
	if result, err := fr.publishNotice(connectionID, TemplateCatchup, catchupBody); err != nil || result == retrymgr.BackPressured {
		return result, err
	}

	return fr.publishSessionReply(connectionID, TemplateRequestSessionReply, status, correlationID)
}

// RequestSession implements spec.md §4.1 "on_request_session": a
// library acquires a gateway-owned session, handed over via
// gatewaysessions.Handover per the move-not-share discipline, then
// walked through save_manage_connection, save_logon, and the catch-up
// phase (§4.4) before the library learns the outcome via a published
// RequestSessionReply(status, correlationId). replayFromSeqNo is the
// sequence number the library wants the external replayer to resume
// from; it drives the SEQUENCE_NUMBER_TOO_HIGH check in catchUp.
func (fr *Framer) RequestSession(libraryID libraryreg.LibraryID, sessionID uint64, replayFromSeqNo, correlationID int64) gwerrors.ReplyStatus {
	if _, ok := fr.libraries.Get(libraryID); !ok {
		return gwerrors.StatusUnknownLibrary
	}
	existing, ok := fr.gatewayPool.FindBySessionID(sessionID)
	if !ok {
		return gwerrors.StatusUnknownSession
	}

	if _, pending := fr.retry.Retry(correlationID); pending {
		return gwerrors.SessionNotLoggedIn
	}

	pool, ok := fr.libraryPools[libraryID]
	if !ok {
		pool = gatewaysessions.NewPool()
		fr.libraryPools[libraryID] = pool
	}

	s, ok := gatewaysessions.Handover(fr.gatewayPool, pool, existing.ConnectionID, gatewaysessions.Active)
	if !ok {
		return gwerrors.StatusUnknownSession
	}
	fr.libraries.AssignSession(libraryID, sessionID)

	txn := retrymgr.NewTransaction(correlationID,
		func() (retrymgr.Result, error) { return fr.saveManageConnection(s.ConnectionID) },
		func() (retrymgr.Result, error) { return fr.saveLogon(s.ConnectionID) },
		func() (retrymgr.Result, error) {
			return fr.catchUp(libraryID, s.ConnectionID, sessionID, replayFromSeqNo, correlationID)
		},
	)
	if _, err := fr.retry.FirstAttempt(txn); err != nil {
		return gwerrors.SessionNotLoggedIn
	}
	return gwerrors.OK
}

// ReleaseSession implements spec.md §4.1 "on_release_session": moves a
// session back to the gateway pool and publishes a terminal
// ReleaseSessionReply(status, correlationId). If that publish is
// back-pressured, the session is handed back to the library so the
// operation is atomic from the caller's view.
func (fr *Framer) ReleaseSession(libraryID libraryreg.LibraryID, sessionID uint64, correlationID int64) gwerrors.ReplyStatus {
	pool, ok := fr.libraryPools[libraryID]
	if !ok {
		return gwerrors.StatusUnknownLibrary
	}
	s, ok := pool.FindBySessionID(sessionID)
	if !ok {
		return gwerrors.StatusUnknownSession
	}

	result, err := fr.publishSessionReply(s.ConnectionID, TemplateReleaseSessionReply, gwerrors.OK, correlationID)
	if err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, "release session reply publish failed", err).WithLibrary(int16(libraryID), correlationID))
		return gwerrors.OK
	}
	if result == retrymgr.BackPressured {
		// Back-pressured: the session stays with the library, atomic
		// from the caller's view.
		return gwerrors.OK
	}

	gatewaysessions.Handover(pool, fr.gatewayPool, s.ConnectionID, s.State)
	fr.libraries.ReleaseSession(libraryID, sessionID)
	return gwerrors.OK
}

// QueryLibraries is the admin command of spec.md §4.1 "query_libraries".
func QueryLibraries() AdminCommand {
	return func(fr *Framer) (interface{}, error) {
		return fr.libraries.Count(), nil
	}
}

// GatewaySessionsSnapshot is the admin command backing SPEC_FULL.md
// §11's supplemented gateway_sessions query: a point-in-time view of
// every session currently owned by the gateway pool.
func GatewaySessionsSnapshot() AdminCommand {
	return func(fr *Framer) (interface{}, error) {
		return fr.gatewayPool.Snapshot(), nil
	}
}

// ResetSessionIDs is the admin command of spec.md §4.1
// "reset_session_ids", used in tests and operator tooling to clear the
// allocator's view. It takes anything with a Reset method, such as
// memallocator.Allocator; redisallocator.Allocator has no Reset method
// and cannot be passed. The command always returns a nil error.
func ResetSessionIDs(resettable interface{ Reset() }) AdminCommand {
	return func(*Framer) (interface{}, error) {
		resettable.Reset()
		return nil, nil
	}
}
