// Package config is the plain data type the core accepts, following
// the teacher's cmd/main.go Config pattern: a flat struct of
// primitives populated by an external bootstrap (flags/env/file
// loading is out of scope) and passed into constructors.
package config

import "ilink3gw/framer/idlestrategy"

// Config enumerates exactly the recognized options of spec.md §6.
type Config struct {
	// BindAddress is the listening address for accepted connections.
	BindAddress string

	OutboundLibraryFragmentLimit int
	ReplayFragmentLimit          int
	InboundBytesReceivedLimit    int

	NoLogonDisconnectTimeoutMs int64
	ReplyTimeoutInMs           int64

	DefaultHeartbeatIntervalInS int32

	AcceptorSequenceNumbersResetUponReconnect bool

	ReceiverSocketBufferSize int
	SenderSocketBufferSize   int

	// FramerIdleStrategy governs cooperative yielding while the Framer
	// awaits an index to catch up (spec.md §4.1, §4.3).
	FramerIdleStrategy idlestrategy.Strategy

	// ILink3 session values. The Framer does not read them:
	// InitiateConnection takes its ilink3.Config from the caller.
	InitialSentSequenceNumber int64
	TradingSystemName         string
	TradingSystemVersion      string
	TradingSystemVendor       string
	HMACSecretBase64URL       string
}

// Default returns a Config with the same conservative defaults the
// teacher's flag.StringVar calls fall back to when unset.
func Default() Config {
	return Config{
		BindAddress:                  ":8080",
		OutboundLibraryFragmentLimit: 256,
		ReplayFragmentLimit:          256,
		InboundBytesReceivedLimit:    1 << 20,
		NoLogonDisconnectTimeoutMs:   5_000,
		ReplyTimeoutInMs:             5_000,
		DefaultHeartbeatIntervalInS:  10,
		ReceiverSocketBufferSize:     64 * 1024,
		SenderSocketBufferSize:       64 * 1024,
		FramerIdleStrategy:           idlestrategy.Yielding{},
		InitialSentSequenceNumber:    0,
		TradingSystemVendor:          "ilink3gw",
	}
}
