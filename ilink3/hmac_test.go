package ilink3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSignNegotiate_MatchesSpecVector exercises spec.md §8 scenario 5
// literally: given uuid, sessionId, firmId, requestTimestamp and a
// base64url key, the canonical string and resulting HMAC must match
// byte-for-byte.
func TestSignNegotiate_MatchesSpecVector(t *testing.T) {
	const (
		uuid             = uint64(1_600_000_000_000_000)
		sessionID        = "ABC"
		firmID           = "FIRM"
		requestTimestamp = int64(1_600_000_000_000_000_000)
		key              = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	)

	const wantCanonical = "1600000000000000000\n1600000000000000\nABC\nFIRM"

	keyBytes, err := base64.RawURLEncoding.DecodeString(key)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, keyBytes)
	mac.Write([]byte(wantCanonical))
	var want [32]byte
	copy(want[:], mac.Sum(nil))

	got, err := SignNegotiate(key, requestTimestamp, uuid, sessionID, firmID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSign_Deterministic(t *testing.T) {
	const key = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	a, err := SignNegotiate(key, 1, 2, "S", "F")
	require.NoError(t, err)
	b, err := SignNegotiate(key, 1, 2, "S", "F")
	require.NoError(t, err)
	assert.Equal(t, a, b, "same inputs must yield identical output")

	c, err := SignNegotiate(key, 1, 2, "S", "OTHER")
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "swapping any field must change the output")
}

func TestSignEstablish_ExtendsNegotiateCanonical(t *testing.T) {
	const key = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	a, err := SignEstablish(key, 1, 2, "S", "F", "TSN", "1.0", "VEND", 1, 30)
	require.NoError(t, err)
	b, err := SignEstablish(key, 1, 2, "S", "F", "TSN", "1.0", "VEND", 2, 30)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecodeSecret_MalformedKeyErrors(t *testing.T) {
	_, err := SignNegotiate("not base64url!!!", 1, 2, "S", "F")
	require.Error(t, err)
}
