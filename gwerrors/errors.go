// Package gwerrors defines the typed error kinds and session-reply
// statuses of spec.md §6, §7. Reply statuses are published on the
// inbound stream; errors are not.
package gwerrors

import "fmt"

// Kind enumerates the error kinds of spec.md §6 "Error kinds".
type Kind int

const (
	UnknownLibrary Kind = iota + 1
	UnableToConnect
	DuplicateSession
	DuplicateLibraryID
	Exception
)

func (k Kind) String() string {
	switch k {
	case UnknownLibrary:
		return "UNKNOWN_LIBRARY"
	case UnableToConnect:
		return "UNABLE_TO_CONNECT"
	case DuplicateSession:
		return "DUPLICATE_SESSION"
	case DuplicateLibraryID:
		return "DUPLICATE_LIBRARY_ID"
	case Exception:
		return "EXCEPTION"
	default:
		return "UNKNOWN_KIND"
	}
}

// GatewayError carries the fields of Error(kind, libraryId,
// correlationId, message). The core hands it to the Framer's error
// handler or returns it to the caller; it is not published on the
// inbound stream.
type GatewayError struct {
	Kind          Kind
	LibraryID     int16
	CorrelationID int64
	Message       string
	Cause         error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// New constructs a GatewayError with no library/correlation context
// (e.g. accept-path errors that predate any library association).
func New(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

// WithLibrary attaches library/correlation context, mirroring the
// published frame shape Error(kind, libraryId, correlationId, message).
func (e *GatewayError) WithLibrary(libraryID int16, correlationID int64) *GatewayError {
	e.LibraryID = libraryID
	e.CorrelationID = correlationID
	return e
}

// ReplyStatus enumerates spec.md §6 "Session reply statuses", returned
// from RequestSession/ReleaseSession handling.
type ReplyStatus int

const (
	OK ReplyStatus = iota
	StatusUnknownLibrary
	StatusUnknownSession
	SessionNotLoggedIn
	SequenceNumberTooHigh
)

func (s ReplyStatus) String() string {
	switch s {
	case OK:
		return "OK"
	case StatusUnknownLibrary:
		return "UNKNOWN_LIBRARY"
	case StatusUnknownSession:
		return "UNKNOWN_SESSION"
	case SessionNotLoggedIn:
		return "SESSION_NOT_LOGGED_IN"
	case SequenceNumberTooHigh:
		return "SEQUENCE_NUMBER_TOO_HIGH"
	default:
		return "UNKNOWN_STATUS"
	}
}
