// Package redisallocator adapts idstrategy.Allocator onto Redis,
// generalizing the teacher's service/session.go SessionManager.Login
// (pipelined HSET+EXPIRE keyed by user id) from login-session TTL
// tracking to permanent composite-key -> session-id allocation, using
// SetNX for the duplicate-registration guard spec.md §4.1 requires.
package redisallocator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ilink3gw/idstrategy"
)

const keyPrefix = "ilink3:session_id:"

// Allocator is a Redis-backed idstrategy.Allocator. Session ids are
// minted from a shared Redis counter (INCR), the same atomic primitive
// the teacher uses in service/sequence.go, and registered against the
// composite key with SetNX so a racing duplicate allocation loses.
type Allocator struct {
	client     *redis.Client
	counterKey string
}

// New wraps an existing go-redis client.
func New(client *redis.Client) *Allocator {
	return &Allocator{client: client, counterKey: "ilink3:session_id_counter"}
}

func compositeKeyString(key idstrategy.CompositeKey) string {
	return keyPrefix + key.SenderComp + "\x00" + key.SenderSub + "\x00" + key.SenderLocation + "\x00" + key.TargetComp
}

// Allocate implements idstrategy.Allocator.
func (a *Allocator) Allocate(ctx context.Context, key idstrategy.CompositeKey) (uint64, error) {
	newID, err := a.client.Incr(ctx, a.counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redisallocator: mint id: %w", err)
	}

	ok, err := a.client.SetNX(ctx, compositeKeyString(key), newID, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redisallocator: register id: %w", err)
	}
	if !ok {
		return 0, idstrategy.ErrDuplicateSession
	}
	return uint64(newID), nil
}

// Lookup implements idstrategy.Allocator.
func (a *Allocator) Lookup(ctx context.Context, key idstrategy.CompositeKey) (uint64, bool, error) {
	val, err := a.client.Get(ctx, compositeKeyString(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redisallocator: lookup: %w", err)
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redisallocator: corrupt session id value: %w", err)
	}
	return id, true, nil
}
