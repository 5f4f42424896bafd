package ilink3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// decodeSecret decodes the user's base64url-encoded secret to raw key
// bytes, per spec.md §4.5 "The key is the user's base64url-encoded
// secret, decoded to bytes". A malformed key is returned as an error,
// not a panic. The key is decoded each time a request is signed, so a
// malformed key is not detected by New; it surfaces as an error from
// SendNegotiate, or from the Establish send.
func decodeSecret(secretBase64URL string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(secretBase64URL, "="))
	if err != nil {
		return nil, fmt.Errorf("ilink3: malformed base64url HMAC key: %w", err)
	}
	return key, nil
}

// SignNegotiate computes the HMAC-SHA256 signature for a Negotiate
// request. Canonical string: requestTimestamp "\n" uuid "\n" sessionId
// "\n" firmId (spec.md §4.5).
func SignNegotiate(secretBase64URL string, requestTimestamp int64, uuid uint64, sessionID, firmID string) ([32]byte, error) {
	canonical := strings.Join([]string{
		strconv.FormatInt(requestTimestamp, 10),
		strconv.FormatUint(uuid, 10),
		sessionID,
		firmID,
	}, "\n")
	return sign(secretBase64URL, canonical)
}

// SignEstablish computes the HMAC-SHA256 signature for an Establish
// request. Canonical string extends Negotiate's with
// tradingSystemName/Version/Vendor, nextSentSeqNo, keepAliveInterval,
// each newline-separated (spec.md §4.5).
func SignEstablish(secretBase64URL string, requestTimestamp int64, uuid uint64, sessionID, firmID,
	tradingSystemName, tradingSystemVersion, tradingSystemVendor string,
	nextSentSeqNo, keepAliveInterval int64) ([32]byte, error) {

	canonical := strings.Join([]string{
		strconv.FormatInt(requestTimestamp, 10),
		strconv.FormatUint(uuid, 10),
		sessionID,
		firmID,
		tradingSystemName,
		tradingSystemVersion,
		tradingSystemVendor,
		strconv.FormatInt(nextSentSeqNo, 10),
		strconv.FormatInt(keepAliveInterval, 10),
	}, "\n")
	return sign(secretBase64URL, canonical)
}

func sign(secretBase64URL, canonical string) ([32]byte, error) {
	var out [32]byte
	key, err := decodeSecret(secretBase64URL)
	if err != nil {
		return out, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	copy(out[:], mac.Sum(nil))
	return out, nil
}
