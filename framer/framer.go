// Package framer implements the Framer of spec.md §4.1: the single
// cooperative worker that composes every other component (EndpointTable,
// LibraryRegistry, RetryManager, IlinkSession, the gateway-owned session
// pool) and drives them through one non-blocking DoWork pass at a time.
//
// Grounded on the teacher's server/tcp_server.go accept loop and
// cmd/main.go App composition root, generalized from a goroutine-per-
// connection listener plus background heartbeat ticker to a single
// cooperative worker with no goroutines of its own (spec.md §5/§9:
// "must not introduce locks or share mutable session tables across
// threads").
package framer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"ilink3gw/clock"
	"ilink3gw/config"
	"ilink3gw/endpoints"
	"ilink3gw/gatewaysessions"
	"ilink3gw/gwerrors"
	"ilink3gw/idstrategy"
	"ilink3gw/ilink3"
	"ilink3gw/libraryreg"
	"ilink3gw/protocol"
	"ilink3gw/pubsublog"
	"ilink3gw/pubsublog/ring"
	"ilink3gw/retrymgr"
	"ilink3gw/seqindex"
)

// ErrAdminQueueFull is returned (via the resolved AdminFuture) when the
// admin command queue has no room left.
var ErrAdminQueueFull = errors.New("framer: admin command queue full")

// ErrorHandler is spec.md §7's collaborator: panics recovered inside
// DoWork, and any fatal Transaction error, are converted to a
// gwerrors.GatewayError of kind EXCEPTION and handed here rather than
// propagated, so one bad connection never takes down the worker loop.
type ErrorHandler func(err *gwerrors.GatewayError)

// Listener is the accept-loop seam. pollNewConnections calls Accept
// until it returns an error, so an implementation must return an error
// when no connection is pending rather than wait for one. A bare
// *net.TCPListener blocks in Accept; cmd/gateway wraps it in a
// listener that gives every Accept a one-millisecond deadline.
type Listener interface {
	Accept() (net.Conn, error)
}

// Framer is the orchestrator of spec.md §2/§4.1.
type Framer struct {
	cfg    config.Config
	clock  clock.Clock
	logger hclog.Logger

	listener Listener

	retry     *retrymgr.Manager
	endpoints *endpoints.Table
	libraries *libraryreg.Registry

	gatewayPool  *gatewaysessions.Pool
	libraryPools map[libraryreg.LibraryID]*gatewaysessions.Pool

	sentIdx seqindex.SentIndex
	recvIdx seqindex.ReceivedIndex
	idAlloc idstrategy.Allocator

	inboundLog        *ring.Log
	inboundSubByLib   map[libraryreg.LibraryID]*ring.Subscription
	outboundSubByLib  map[libraryreg.LibraryID]pubsublog.OutboundSubscription
	replaySub         pubsublog.OutboundSubscription
	positionBroadcast func(position int64)

	connections map[uint64]*Connection
	sessions    map[uint64]*ilink3.Session // keyed by connection id

	nextConnectionID uint64

	adminQueue chan pendingAdminCommand

	onError ErrorHandler
}

// Deps bundles every external collaborator the Framer needs. A nil
// Logger becomes a null logger and a nil InboundLog a 1024-slot ring;
// nil PositionBroadcast and OnError become no-ops. Every other field
// has no default and must be set.
type Deps struct {
	Clock       clock.Clock
	Logger      hclog.Logger
	Listener    Listener
	Retry       *retrymgr.Manager
	Endpoints   *endpoints.Table
	Libraries   *libraryreg.Registry
	GatewayPool *gatewaysessions.Pool
	SentIndex   seqindex.SentIndex
	RecvIndex   seqindex.ReceivedIndex
	IDAllocator idstrategy.Allocator
	InboundLog  *ring.Log

	PositionBroadcast func(position int64)
	OnError           ErrorHandler

	// NextConnectionIDSeed is the randomized high-entropy seed spec.md
	// §3 requires ("connection_id minted from a randomized high-entropy
	// seed and incremented per accept/connect"); callers are expected
	// to seed this from crypto/rand, not a counter starting at zero.
	NextConnectionIDSeed uint64
}

// New constructs a Framer from its collaborators.
func New(cfg config.Config, d Deps) *Framer {
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.InboundLog == nil {
		log, err := ring.New(1024)
		if err != nil {
			panic(err) // 1024 is always a power of two
		}
		d.InboundLog = log
	}
	if d.PositionBroadcast == nil {
		d.PositionBroadcast = func(int64) {}
	}
	if d.OnError == nil {
		d.OnError = func(*gwerrors.GatewayError) {}
	}

	return &Framer{
		cfg:               cfg,
		clock:             d.Clock,
		logger:            d.Logger,
		listener:          d.Listener,
		retry:             d.Retry,
		endpoints:         d.Endpoints,
		libraries:         d.Libraries,
		gatewayPool:       d.GatewayPool,
		libraryPools:      make(map[libraryreg.LibraryID]*gatewaysessions.Pool),
		sentIdx:           d.SentIndex,
		recvIdx:           d.RecvIndex,
		idAlloc:           d.IDAllocator,
		inboundLog:        d.InboundLog,
		inboundSubByLib:   make(map[libraryreg.LibraryID]*ring.Subscription),
		outboundSubByLib:  make(map[libraryreg.LibraryID]pubsublog.OutboundSubscription),
		positionBroadcast: d.PositionBroadcast,
		connections:       make(map[uint64]*Connection),
		sessions:          make(map[uint64]*ilink3.Session),
		nextConnectionID:  d.NextConnectionIDSeed,
		adminQueue:        make(chan pendingAdminCommand, 256),
		onError:           d.OnError,
	}
}

// RegisterLibraryOutboundSubscription wires a library's outbound
// stream (the messages that library wants delivered over the wire);
// send_outbound_messages drains it each pass.
func (fr *Framer) RegisterLibraryOutboundSubscription(id libraryreg.LibraryID, sub pubsublog.OutboundSubscription) {
	fr.outboundSubByLib[id] = sub
}

// SetReplaySubscription wires the replay stream drained by
// send_replay_messages.
func (fr *Framer) SetReplaySubscription(sub pubsublog.OutboundSubscription) {
	fr.replaySub = sub
}

// DoWork performs one non-blocking pass, returning total units of work
// performed, per spec.md §4.1's fixed 8-step order.
func (fr *Framer) DoWork(nowMs int64) (workDone int) {
	defer func() {
		if r := recover(); r != nil {
			fr.onError(gwerrors.New(gwerrors.Exception, fmt.Sprintf("recovered panic in DoWork: %v", r), nil))
		}
	}()

	workDone += fr.attemptRetrySteps()
	workDone += fr.sendOutboundMessages()
	workDone += fr.sendReplayMessages()
	workDone += fr.pollEndPoints()
	workDone += fr.pollNewConnections(nowMs)
	workDone += fr.pollLibraries(nowMs)
	workDone += fr.pollGatewaySessions(nowMs)
	workDone += fr.drainAdminCommands()

	return workDone
}

// step 1
func (fr *Framer) attemptRetrySteps() int {
	workDone, _, errs := fr.retry.AttemptSteps()
	for correlationID, err := range errs {
		fr.onError(gwerrors.New(gwerrors.Exception, "transaction failed", err).WithLibrary(0, correlationID))
	}
	return workDone
}

// step 2
func (fr *Framer) sendOutboundMessages() int {
	drained := 0
	for id, sub := range fr.outboundSubByLib {
		n, err := sub.Poll(fr.cfg.OutboundLibraryFragmentLimit, func(_ int64, body []byte) {
			fr.dispatchOutboundFragment(id, body)
		})
		if err != nil {
			fr.onError(gwerrors.New(gwerrors.Exception, "outbound drain failed", err).WithLibrary(int16(id), 0))
			continue
		}
		drained += n
	}

	_, slowErrs := fr.endpoints.FlushSlowSenders()
	for connID, err := range slowErrs {
		fr.onError(gwerrors.New(gwerrors.Exception, fmt.Sprintf("slow sender flush failed for connection %d", connID), err))
	}

	if drained > 0 {
		pos, err := fr.sentIdx.IndexedPosition(noCtx)
		if err == nil {
			fr.positionBroadcast(pos)
		}
	}
	return drained
}

func (fr *Framer) dispatchOutboundFragment(_ libraryreg.LibraryID, body []byte) {
	connectionID, frame, err := decodeEnvelope(body)
	if err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, "malformed outbound fragment", err))
		return
	}
	sender, ok := fr.endpoints.Sender(connectionID)
	if !ok {
		return
	}
	packed, err := protocol.Pack(frame)
	if err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, "repack outbound frame", err))
		return
	}
	if err := sender.Write(packed); err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, fmt.Sprintf("write to connection %d failed", connectionID), err))
	}
}

// step 3
func (fr *Framer) sendReplayMessages() int {
	if fr.replaySub == nil {
		return 0
	}
	n, err := fr.replaySub.Poll(fr.cfg.ReplayFragmentLimit, func(_ int64, body []byte) {
		fr.dispatchOutboundFragment(0, body)
	})
	if err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, "replay drain failed", err))
		return 0
	}
	return n
}

// step 4
func (fr *Framer) pollEndPoints() int {
	totalBytes, _, dead := fr.endpoints.PollAll(fr.cfg.InboundBytesReceivedLimit)
	for _, connID := range dead {
		fr.disconnect(connID)
	}
	return totalBytes
}

// step 5
func (fr *Framer) pollNewConnections(nowMs int64) int {
	if fr.listener == nil {
		return 0
	}
	accepted := 0
	for {
		conn, err := fr.listener.Accept()
		if err != nil {
			break
		}
		fr.acceptConnection(conn, nowMs)
		accepted++
	}
	return accepted
}

func (fr *Framer) acceptConnection(conn net.Conn, nowMs int64) {
	connID := fr.mintConnectionID()
	fr.setupConnection(connID, conn, Acceptor, nowMs)

	lastSent, err := fr.sentIdx.LastSent(noCtx, connID)
	if err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, "last sent lookup on accept failed", err))
	}
	fr.gatewayPool.Insert(&gatewaysessions.GatewaySession{
		ConnectionID: connID,
		LastSentSeq:  lastSent,
		State:        gatewaysessions.Connected,
	})

	if body, err := encodeEnvelope(connID, &protocol.Frame{TemplateID: TemplateConnectNotice}); err == nil {
		if _, _, err := fr.inboundLog.Offer(body); err != nil {
			fr.onError(gwerrors.New(gwerrors.Exception, "connect notice publish failed", err))
		}
	}
}

func (fr *Framer) mintConnectionID() uint64 {
	fr.nextConnectionID++
	return fr.nextConnectionID
}

func (fr *Framer) setupConnection(connID uint64, conn net.Conn, dir Direction, nowMs int64) *Connection {
	c := &Connection{
		ID:                       connID,
		Conn:                     conn,
		RemoteAddr:               conn.RemoteAddr().String(),
		Direction:                dir,
		CreatedAtMillis:          nowMs,
		DisconnectDeadlineMillis: nowMs + fr.cfg.NoLogonDisconnectTimeoutMs,
	}
	fr.connections[connID] = c

	recv := endpoints.NewReceiver(connID, conn, fr, fr.cfg.ReceiverSocketBufferSize)
	send := endpoints.NewSender(connID, conn)
	fr.endpoints.Register(connID, recv, send)

	return c
}

// Offer implements endpoints.Publication: the Framer is the inbound
// publication itself, per spec.md §4.1/§4.2. ILink3 session-management
// templates (negotiate/establish/terminate) are handled inline against
// the connection's IlinkSession; everything else is business traffic
// and is appended to the durable inbound log for libraries to catch up
// against.
func (fr *Framer) Offer(connectionID uint64, frame *protocol.Frame) (endpoints.PublishResult, int64, error) {
	if handled, err := fr.dispatchControlFrame(connectionID, frame); handled {
		return endpoints.Published, 0, err
	}

	body, err := encodeEnvelope(connectionID, frame)
	if err != nil {
		return endpoints.Published, 0, err
	}
	result, pos, err := fr.inboundLog.Offer(body)
	if err != nil {
		return endpoints.Published, 0, err
	}
	if result == pubsublog.BackPressured {
		return endpoints.PublishBackPressured, pos, nil
	}
	return endpoints.Published, pos, nil
}

// step 6
func (fr *Framer) pollLibraries(nowMs int64) int {
	dead := fr.libraries.DeadLibraries(nowMs)
	for _, id := range dead {
		fr.libraries.Remove(id)
		fr.reacquireSessions(id)
	}
	return len(dead)
}

// reacquireSessions implements spec.md §4.3: awaits the sent-sequence
// index up to the library's last known publication position, then
// reinserts each session into the gateway pool with state derived from
// whether it has ever logged in.
func (fr *Framer) reacquireSessions(id libraryreg.LibraryID) {
	pool, ok := fr.libraryPools[id]
	if !ok {
		return
	}
	if err := seqindex.AwaitIndexedUpTo(noCtx, fr.sentIdx, fr.libraryLastPublishPosition(id), fr.cfg.FramerIdleStrategy); err != nil {
		fr.onError(gwerrors.New(gwerrors.Exception, "await indexed position during reacquire failed", err).WithLibrary(int16(id), 0))
	}
	for _, s := range pool.Snapshot() {
		removed, ok := pool.Remove(s.ConnectionID)
		if !ok {
			continue
		}
		lastReceived, err := fr.recvIdx.LastReceived(noCtx, strconv.FormatUint(removed.SessionID, 10))
		if err != nil {
			fr.onError(gwerrors.New(gwerrors.Exception, "last received lookup during reacquire failed", err))
		}
		removed.State = gatewaysessions.ActiveFromLastReceived(lastReceived)
		fr.gatewayPool.Insert(removed)
	}
	delete(fr.libraryPools, id)
}

// libraryLastPublishPosition is a placeholder hook for a richer
// publication-position tracker per library; in the absence of one we
// fall back to the current indexed position, which always satisfies
// AwaitIndexedUpTo immediately.
func (fr *Framer) libraryLastPublishPosition(libraryreg.LibraryID) int64 {
	pos, _ := fr.sentIdx.IndexedPosition(noCtx)
	return pos
}

// step 7
func (fr *Framer) pollGatewaySessions(nowMs int64) int {
	n := 0
	for _, s := range fr.gatewayPool.Snapshot() {
		if session, ok := fr.sessions[s.ConnectionID]; ok {
			session.Poll(nowMs)
			n++
		}
	}
	return n
}

// disconnect tears down a connection and its endpoints.
func (fr *Framer) disconnect(connectionID uint64) {
	fr.endpoints.Remove(connectionID)
	delete(fr.connections, connectionID)
	delete(fr.sessions, connectionID)
	if gs, ok := fr.gatewayPool.Remove(connectionID); ok {
		_ = gs
	}
}

// RequestDisconnect implements ilink3.Owner.
func (fr *Framer) RequestDisconnect(connectionID uint64, _ ilink3.DisconnectReason) error {
	conn, ok := fr.connections[connectionID]
	if !ok {
		return nil
	}
	fr.disconnect(connectionID)
	return conn.Conn.Close()
}

// OnSessionDeath implements ilink3.Owner.
func (fr *Framer) OnSessionDeath(uuid uint64) {
	fr.logger.Debug("ilink3 session died", "uuid", uuid)
}

// noCtx is used for collaborator calls the Framer's cooperative loop
// never actually blocks on in practice (the interfaces accept a
// context for callers that do hit real I/O, e.g. redisindex); the core
// itself has no blocking boundary to hang a real context's cancellation
// on, per spec.md §5.
var noCtx = context.Background()
