// Package ilink3 implements the negotiate/establish/terminate session
// state machine of spec.md §4.5: the per-connection ILink3 protocol
// state, UUID/RequestTimestamp construction, and HMAC request signing.
//
// Grounded on the teacher's service/auth.go JWT pipeline (construct
// claims -> sign -> validate), generalized from JWT's header.payload
// signing to ILink3's canonical-string HMAC signing; the state graph
// itself has no teacher analog and is built directly from spec.md §4.5.
package ilink3

import (
	"fmt"

	"ilink3gw/clock"
)

// State is a node in the graph of spec.md §4.5.
type State int

const (
	Connected State = iota
	SentNegotiate
	Negotiated
	SentEstablish
	Established
	Unbinding
	Unbound
	NegotiateRejected
	EstablishRejected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case SentNegotiate:
		return "SENT_NEGOTIATE"
	case Negotiated:
		return "NEGOTIATED"
	case SentEstablish:
		return "SENT_ESTABLISH"
	case Established:
		return "ESTABLISHED"
	case Unbinding:
		return "UNBINDING"
	case Unbound:
		return "UNBOUND"
	case NegotiateRejected:
		return "NEGOTIATE_REJECTED"
	case EstablishRejected:
		return "ESTABLISH_REJECTED"
	default:
		return "UNKNOWN_STATE"
	}
}

// IllegalStateError is returned for any transition or send attempt not
// in the spec.md §4.5 graph.
type IllegalStateError struct {
	Current State
	Action  string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("ilink3: illegal action %q in state %s", e.Action, e.Current)
}

// DisconnectReason is published alongside RequestDisconnect (spec.md
// §6).
type DisconnectReason int

const (
	ReasonLogout DisconnectReason = iota
	ReasonProtocolViolation
)

// Owner is the Framer/registry side of the cyclic-reference inversion
// spec.md §9 calls for: the session notifies its owner of death and
// requests a disconnect, without holding a reference back into the
// Framer's own types.
type Owner interface {
	RequestDisconnect(connectionID uint64, reason DisconnectReason) error
	OnSessionDeath(uuid uint64)
}

// Proxy is the encoder+publisher collaborator spec.md §3 describes
// ("reference to its proxy"); it is how an IlinkSession actually puts
// bytes on the wire, via the external SBE codec and publication log.
type Proxy interface {
	SendNegotiate(req NegotiateRequest) error
	SendEstablish(req EstablishRequest) error
	SendTerminate(uuid uint64, reason DisconnectReason) error
}

// Config bundles the session-construction parameters named in spec.md
// §6 that are specific to one ILink3 session (as opposed to Framer-wide
// config.Config).
type Config struct {
	ConnectionID              uint64
	SessionID                 string
	FirmID                    string
	TradingSystemName         string
	TradingSystemVersion      string
	TradingSystemVendor       string
	KeepAliveIntervalMS       int64
	InitialSentSequenceNumber int64 // 0 means AUTOMATIC
	HMACSecretBase64URL       string
}

const automaticInitialSeq = 0

// InitialSeq resolves spec.md §4.5 "initial sequence number": AUTOMATIC
// (zero value) becomes 1, otherwise the configured value is used as-is.
func (c Config) InitialSeq() int64 {
	if c.InitialSentSequenceNumber == automaticInitialSeq {
		return 1
	}
	return c.InitialSentSequenceNumber
}

// Session is the per-connection ILink3 protocol state machine of
// spec.md §3/§4.5.
type Session struct {
	UUID         uint64
	state        State
	nextSentSeq  int64
	cfg          Config
	proxy        Proxy
	owner        Owner
	clock        clock.Clock
	peerUUID     uint64 // set once known, for mismatch detection
	peerUUIDSeen bool
}

// New constructs a Session in state CONNECTED with a freshly minted
// UUID, per spec.md §4.5.
//
// UUID = (current_millis * 1000) + (monotonic_nanos * 1000 mod 1000).
// The second term is always zero, so the UUID is the wall-clock time in
// microseconds at millisecond granularity, and two sessions constructed
// in the same millisecond get the same UUID.
func New(cfg Config, proxy Proxy, owner Owner, c clock.Clock) *Session {
	uuid := uint64(c.NowMillis())*1000 + uint64(c.MonotonicNanos()*1000%1000)
	return &Session{
		UUID:        uuid,
		state:       Connected,
		nextSentSeq: cfg.InitialSeq(),
		cfg:         cfg,
		proxy:       proxy,
		owner:       owner,
		clock:       c,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// requestTimestamp computes spec.md §4.5 "RequestTimestamp":
// nanosecond-resolution epoch time, built the same way as UUID but at
// nanosecond rather than microsecond granularity.
func (s *Session) requestTimestamp() int64 {
	return s.clock.NowMillis()*1_000_000 + s.clock.MonotonicNanos()%1_000_000
}

// NegotiateRequest is the outgoing Negotiate message shape; the HMAC
// signature is computed over the canonical string of spec.md §4.5.
type NegotiateRequest struct {
	RequestTimestamp int64
	UUID             uint64
	SessionID        string
	FirmID           string
	HMACSignature    [32]byte
}

// EstablishRequest is the outgoing Establish message shape.
type EstablishRequest struct {
	RequestTimestamp     int64
	UUID                 uint64
	TradingSystemName    string
	TradingSystemVersion string
	TradingSystemVendor  string
	NextSentSeqNo        int64
	KeepAliveInterval    int64
	HMACSignature        [32]byte
}

// SendNegotiate transitions CONNECTED -> SENT_NEGOTIATE and emits a
// signed Negotiate request.
func (s *Session) SendNegotiate() error {
	if s.state != Connected {
		return &IllegalStateError{Current: s.state, Action: "sendNegotiate"}
	}

	ts := s.requestTimestamp()
	sig, err := SignNegotiate(s.cfg.HMACSecretBase64URL, ts, s.UUID, s.cfg.SessionID, s.cfg.FirmID)
	if err != nil {
		return err
	}

	req := NegotiateRequest{
		RequestTimestamp: ts,
		UUID:             s.UUID,
		SessionID:        s.cfg.SessionID,
		FirmID:           s.cfg.FirmID,
		HMACSignature:    sig,
	}
	if err := s.proxy.SendNegotiate(req); err != nil {
		return err
	}
	s.state = SentNegotiate
	return nil
}

// OnNegotiationResponse advances SENT_NEGOTIATE -> NEGOTIATED on a
// matching UUID, then automatically issues Establish (spec.md §8
// round-trip: "advances state CONNECTED -> SENT_NEGOTIATE ->
// NEGOTIATED, then automatically issues Establish -> SENT_ESTABLISH").
//
// A UUID mismatch is a protocol violation; spec.md §9 leaves this an
// open question with no defined error path beyond "disconnect with
// protocol violation" as the conservative choice, which is what we do
// here.
func (s *Session) OnNegotiationResponse(responseUUID uint64) error {
	if s.state != SentNegotiate {
		return &IllegalStateError{Current: s.state, Action: "onNegotiationResponse"}
	}
	if responseUUID != s.UUID {
		return s.disconnectProtocolViolation()
	}
	s.state = Negotiated
	return s.sendEstablish()
}

// RejectNegotiate transitions SENT_NEGOTIATE -> NEGOTIATE_REJECTED.
func (s *Session) RejectNegotiate() error {
	if s.state != SentNegotiate {
		return &IllegalStateError{Current: s.state, Action: "reject"}
	}
	s.state = NegotiateRejected
	return nil
}

func (s *Session) sendEstablish() error {
	ts := s.requestTimestamp()
	sig, err := SignEstablish(s.cfg.HMACSecretBase64URL, ts, s.UUID, s.cfg.SessionID, s.cfg.FirmID,
		s.cfg.TradingSystemName, s.cfg.TradingSystemVersion, s.cfg.TradingSystemVendor,
		s.nextSentSeq, s.cfg.KeepAliveIntervalMS)
	if err != nil {
		return err
	}

	req := EstablishRequest{
		RequestTimestamp:     ts,
		UUID:                 s.UUID,
		TradingSystemName:    s.cfg.TradingSystemName,
		TradingSystemVersion: s.cfg.TradingSystemVersion,
		TradingSystemVendor:  s.cfg.TradingSystemVendor,
		NextSentSeqNo:        s.nextSentSeq,
		KeepAliveInterval:    s.cfg.KeepAliveIntervalMS,
		HMACSignature:        sig,
	}
	if err := s.proxy.SendEstablish(req); err != nil {
		return err
	}
	s.state = SentEstablish
	return nil
}

// OnEstablishmentAck transitions SENT_ESTABLISH -> ESTABLISHED.
func (s *Session) OnEstablishmentAck(responseUUID uint64) error {
	if s.state != SentEstablish {
		return &IllegalStateError{Current: s.state, Action: "onEstablishmentAck"}
	}
	if responseUUID != s.UUID {
		return s.disconnectProtocolViolation()
	}
	s.state = Established
	return nil
}

// RejectEstablish transitions SENT_ESTABLISH -> ESTABLISH_REJECTED.
func (s *Session) RejectEstablish() error {
	if s.state != SentEstablish {
		return &IllegalStateError{Current: s.state, Action: "reject"}
	}
	s.state = EstablishRejected
	return nil
}

// ClaimSend validates spec.md §4.5 "Send-validation": business messages
// may be claimed only in state ESTABLISHED.
func (s *Session) ClaimSend() error {
	if s.state != Established {
		return &IllegalStateError{Current: s.state, Action: "claimSend"}
	}
	return nil
}

// Terminate transitions ESTABLISHED -> UNBINDING and sends an outgoing
// Terminate, awaiting the peer's echo to complete unbind.
func (s *Session) Terminate() error {
	if s.state != Established {
		return &IllegalStateError{Current: s.state, Action: "terminate"}
	}
	if err := s.proxy.SendTerminate(s.UUID, ReasonLogout); err != nil {
		return err
	}
	s.state = Unbinding
	return nil
}

// OnTerminate handles an incoming Terminate. If we are ESTABLISHED (peer
// initiated), we echo the Terminate and unbind; spec.md §7 notes
// backpressure on this echo is unhandled, so its error is surfaced but
// the state transition proceeds regardless. If we are UNBINDING (our own
// Terminate is being acknowledged), we just unbind.
func (s *Session) OnTerminate() error {
	switch s.state {
	case Established:
		echoErr := s.proxy.SendTerminate(s.UUID, ReasonLogout)
		s.unbind()
		return echoErr
	case Unbinding:
		s.unbind()
		return nil
	default:
		return &IllegalStateError{Current: s.state, Action: "onTerminate"}
	}
}

// unbind implements spec.md §4.5 "Ownership exit": sets state UNBOUND,
// requests a disconnect with reason LOGOUT, and notifies the owner.
func (s *Session) unbind() {
	s.state = Unbound
	if s.owner != nil {
		_ = s.owner.RequestDisconnect(s.cfg.ConnectionID, ReasonLogout)
		s.owner.OnSessionDeath(s.UUID)
	}
}

func (s *Session) disconnectProtocolViolation() error {
	s.state = Unbound
	if s.owner != nil {
		_ = s.owner.RequestDisconnect(s.cfg.ConnectionID, ReasonProtocolViolation)
		s.owner.OnSessionDeath(s.UUID)
	}
	return &IllegalStateError{Current: Unbound, Action: "uuid mismatch"}
}

// Poll is the TODO placeholder spec.md §9 names: "The poll(timeInMs) on
// IlinkSession is a TODO placeholder; keepalive/retransmit timing is
// unspecified in the source." It intentionally does nothing.
func (s *Session) Poll(nowMillis int64) {
	// TODO: keepalive/retransmit timing, unspecified by the source this
	// was distilled from.
}

// NextSentSeqNo returns the session's current outbound sequence number.
func (s *Session) NextSentSeqNo() int64 { return s.nextSentSeq }

// AdvanceSentSeq bumps the outbound sequence number after a successful
// business-message send.
func (s *Session) AdvanceSentSeq() {
	s.nextSentSeq++
}
