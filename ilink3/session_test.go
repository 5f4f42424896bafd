package ilink3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/clock"
)

type fakeProxy struct {
	negotiateSent int
	establishSent int
	terminateSent int
	lastErr       error
}

func (p *fakeProxy) SendNegotiate(NegotiateRequest) error {
	p.negotiateSent++
	return p.lastErr
}
func (p *fakeProxy) SendEstablish(EstablishRequest) error {
	p.establishSent++
	return p.lastErr
}
func (p *fakeProxy) SendTerminate(uint64, DisconnectReason) error {
	p.terminateSent++
	return p.lastErr
}

type fakeOwner struct {
	disconnected []DisconnectReason
	dead         []uint64
}

func (o *fakeOwner) RequestDisconnect(_ uint64, reason DisconnectReason) error {
	o.disconnected = append(o.disconnected, reason)
	return nil
}
func (o *fakeOwner) OnSessionDeath(uuid uint64) {
	o.dead = append(o.dead, uuid)
}

func newTestSession() (*Session, *fakeProxy, *fakeOwner) {
	proxy := &fakeProxy{}
	owner := &fakeOwner{}
	cfg := Config{
		ConnectionID:        1,
		SessionID:           "ABC",
		FirmID:              "FIRM",
		HMACSecretBase64URL: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		KeepAliveIntervalMS: 30000,
	}
	s := New(cfg, proxy, owner, &clock.Fake{Millis: 1000, Nanos: 5})
	return s, proxy, owner
}

func TestNegotiateRoundTrip_AutoEstablish(t *testing.T) {
	s, proxy, _ := newTestSession()
	assert.Equal(t, Connected, s.State())

	require.NoError(t, s.SendNegotiate())
	assert.Equal(t, SentNegotiate, s.State())
	assert.Equal(t, 1, proxy.negotiateSent)

	require.NoError(t, s.OnNegotiationResponse(s.UUID))
	assert.Equal(t, SentEstablish, s.State(), "negotiate response must auto-issue establish")
	assert.Equal(t, 1, proxy.establishSent)
}

func TestEstablishAck_TransitionsToEstablished(t *testing.T) {
	s, _, _ := newTestSession()
	require.NoError(t, s.SendNegotiate())
	require.NoError(t, s.OnNegotiationResponse(s.UUID))
	require.NoError(t, s.OnEstablishmentAck(s.UUID))
	assert.Equal(t, Established, s.State())
}

func TestTerminateByPeer_InEstablished(t *testing.T) {
	s, proxy, owner := newTestSession()
	require.NoError(t, s.SendNegotiate())
	require.NoError(t, s.OnNegotiationResponse(s.UUID))
	require.NoError(t, s.OnEstablishmentAck(s.UUID))

	require.NoError(t, s.OnTerminate())
	assert.Equal(t, Unbound, s.State())
	assert.Equal(t, 1, proxy.terminateSent, "peer-initiated terminate must be echoed once")
	require.Len(t, owner.disconnected, 1)
	assert.Equal(t, ReasonLogout, owner.disconnected[0])
	assert.Equal(t, []uint64{s.UUID}, owner.dead)
}

func TestSendValidation_OnlyEstablished(t *testing.T) {
	s, _, _ := newTestSession()
	err := s.ClaimSend()
	var illegal *IllegalStateError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, Connected, illegal.Current)
}

func TestUnreachableTransition_YieldsIllegalState(t *testing.T) {
	s, _, _ := newTestSession()
	err := s.OnEstablishmentAck(s.UUID)
	var illegal *IllegalStateError
	require.ErrorAs(t, err, &illegal)
}

func TestUUIDMismatch_DisconnectsWithProtocolViolation(t *testing.T) {
	s, _, owner := newTestSession()
	require.NoError(t, s.SendNegotiate())

	err := s.OnNegotiationResponse(s.UUID + 1)
	require.Error(t, err)
	assert.Equal(t, Unbound, s.State())
	require.Len(t, owner.disconnected, 1)
	assert.Equal(t, ReasonProtocolViolation, owner.disconnected[0])
}

func TestInitialSeq_AutomaticDefaultsToOne(t *testing.T) {
	var cfg Config
	assert.Equal(t, int64(1), cfg.InitialSeq())

	cfg.InitialSentSequenceNumber = 42
	assert.Equal(t, int64(42), cfg.InitialSeq())
}
