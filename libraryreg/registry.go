// Package libraryreg implements the LibraryRegistry of spec.md §2/§3/§4.3:
// a map of library-id -> LibraryInfo, each with a liveness detector and
// the set of sessions currently owned by that library.
//
// Grounded on the teacher's server/connection.go ConnectionManager
// (sync.Map dual-keyed lookup), restructured to plain maps since the
// core is single-threaded (spec.md §5: "no locks ... across threads"),
// and on service/auth.go's JWT validate pipeline for the optional
// bearer-token library authentication of SPEC_FULL.md §10.4.
package libraryreg

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"ilink3gw/clock"
	"ilink3gw/gwerrors"
)

// LibraryID is the 16-bit library identifier of spec.md §3.
type LibraryID int16

// Info is the LibraryInfo of spec.md §3: library-id, pub/sub channel id,
// liveness detector, and the sessions currently managed by it.
type Info struct {
	ID              LibraryID
	ChannelID       int32
	Sessions        map[uint64]struct{} // keyed by GatewaySession SessionID
	lastHeartbeatMS int64
	replyTimeoutMS  int64
}

// addSession / removeSession mutate the owned-session set.
func (i *Info) addSession(sessionUUID uint64) {
	if i.Sessions == nil {
		i.Sessions = make(map[uint64]struct{})
	}
	i.Sessions[sessionUUID] = struct{}{}
}

func (i *Info) removeSession(sessionUUID uint64) {
	delete(i.Sessions, sessionUUID)
}

// recordHeartbeat seeds/advances this library's liveness detector,
// per spec.md §4.3 "seeded with the library's registration timestamp."
func (i *Info) recordHeartbeat(nowMS int64) {
	i.lastHeartbeatMS = nowMS
}

// isDead reports whether nowMS is past the reply-timeout deadline.
func (i *Info) isDead(nowMS int64) bool {
	return nowMS-i.lastHeartbeatMS > i.replyTimeoutMS
}

// Claims is the JWT payload a connecting library presents, generalizing
// the teacher's service.Claims from a chat user identity to a library
// identity.
type Claims struct {
	LibraryID LibraryID `json:"library_id"`
	jwt.RegisteredClaims
}

// TokenValidator validates a library's bearer token on library_connect
// (SPEC_FULL.md §10.4). A nil TokenValidator disables the check
// entirely, which is the default for tests and for deployments that
// authenticate libraries out of band.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator builds a validator around an HMAC secret.
func NewTokenValidator(secret []byte) *TokenValidator {
	return &TokenValidator{secret: secret}
}

// Validate parses and verifies tokenString, returning the library id it
// asserts.
func (v *TokenValidator) Validate(tokenString string) (LibraryID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("libraryreg: invalid library token: %w", err)
	}
	return claims.LibraryID, nil
}

// Registry is the LibraryRegistry of spec.md §2/§3.
type Registry struct {
	libraries map[LibraryID]*Info
	validator *TokenValidator
	clock     clock.Clock
	replyTO   int64
}

// New constructs an empty Registry. validator may be nil to disable
// bearer-token authentication (SPEC_FULL.md §10.4).
func New(c clock.Clock, replyTimeoutMS int64, validator *TokenValidator) *Registry {
	return &Registry{
		libraries: make(map[LibraryID]*Info),
		validator: validator,
		clock:     c,
		replyTO:   replyTimeoutMS,
	}
}

// Authenticate validates a bearer token, per SPEC_FULL.md §10.4. With no
// validator configured it always succeeds (the caller already knows the
// asserted library id from elsewhere, e.g. the connect request).
func (r *Registry) Authenticate(libraryID LibraryID, token string) error {
	if r.validator == nil {
		return nil
	}
	tokenLibraryID, err := r.validator.Validate(token)
	if err != nil {
		return gwerrors.New(gwerrors.Exception, "library token validation failed", err)
	}
	if tokenLibraryID != libraryID {
		return gwerrors.New(gwerrors.Exception, "library token does not match asserted library id", nil)
	}
	return nil
}

// Register inserts a new LibraryInfo, rejecting duplicates per spec.md
// §3 "a library-id is unique across the LibraryRegistry; duplicate
// registration is rejected."
func (r *Registry) Register(id LibraryID, channelID int32) (*Info, error) {
	if _, exists := r.libraries[id]; exists {
		return nil, gwerrors.New(gwerrors.DuplicateLibraryID, fmt.Sprintf("library %d already registered", id), nil).WithLibrary(int16(id), 0)
	}
	info := &Info{ID: id, ChannelID: channelID, Sessions: make(map[uint64]struct{}), replyTimeoutMS: r.replyTO}
	info.recordHeartbeat(r.clock.NowMillis())
	r.libraries[id] = info
	return info, nil
}

// Get looks up a LibraryInfo by id.
func (r *Registry) Get(id LibraryID) (*Info, bool) {
	info, ok := r.libraries[id]
	return info, ok
}

// Heartbeat records a liveness ping from a library.
func (r *Registry) Heartbeat(id LibraryID) {
	if info, ok := r.libraries[id]; ok {
		info.recordHeartbeat(r.clock.NowMillis())
	}
}

// AssignSession records that a library now owns the given session,
// identified by its SessionID.
func (r *Registry) AssignSession(id LibraryID, sessionUUID uint64) {
	if info, ok := r.libraries[id]; ok {
		info.addSession(sessionUUID)
	}
}

// ReleaseSession removes a session from a library's owned set (the
// library->gateway half of a handover).
func (r *Registry) ReleaseSession(id LibraryID, sessionUUID uint64) {
	if info, ok := r.libraries[id]; ok {
		info.removeSession(sessionUUID)
	}
}

// DeadLibraries returns the ids of libraries whose liveness detector has
// expired as of nowMS, per spec.md §4.3.
func (r *Registry) DeadLibraries(nowMS int64) []LibraryID {
	var dead []LibraryID
	for id, info := range r.libraries {
		if info.isDead(nowMS) {
			dead = append(dead, id)
		}
	}
	return dead
}

// Remove deletes a library and returns the SessionIDs of the sessions
// it owned, for the caller (framer) to re-acquire per spec.md §4.3.
func (r *Registry) Remove(id LibraryID) []uint64 {
	info, ok := r.libraries[id]
	if !ok {
		return nil
	}
	owned := make([]uint64, 0, len(info.Sessions))
	for uuid := range info.Sessions {
		owned = append(owned, uuid)
	}
	delete(r.libraries, id)
	return owned
}

// Count reports the number of registered libraries, for admin queries.
func (r *Registry) Count() int { return len(r.libraries) }
