// Package redisindex adapts the external sequence-number index
// collaborator (SPEC_FULL.md §10.1) onto Redis, generalizing the
// teacher's service/sequence.go SequenceManager (Redis INCR/Get keyed by
// conversation) from a chat-ordering counter to a per-connection /
// per-session last-seen-sequence store.
package redisindex

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	sentKeyPrefix = "ilink3:sent_seq:conn:"
	recvKeyPrefix = "ilink3:recv_seq:session:"
	indexedKey    = "ilink3:sent_seq:indexed_position"
)

// Index is a Redis-backed SentIndex + ReceivedIndex.
type Index struct {
	client *redis.Client
}

// New wraps an existing go-redis client. The client's lifecycle
// (connect/close/pool sizing) is the caller's responsibility, mirroring
// the teacher's pkg/redis.Init/Close split.
func New(client *redis.Client) *Index {
	return &Index{client: client}
}

// RecordSent stores seq as the connection's last sent sequence number
// and as the overall indexed position, with one pipelined pair of SET
// commands (not INCR: the caller supplies the value).
func (i *Index) RecordSent(ctx context.Context, connectionID uint64, seq int64) error {
	pipe := i.client.Pipeline()
	pipe.Set(ctx, sentKeyPrefix+strconv.FormatUint(connectionID, 10), seq, 0)
	pipe.Set(ctx, indexedKey, seq, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisindex: record sent: %w", err)
	}
	return nil
}

// RecordReceived advances the received-sequence counter for a session.
func (i *Index) RecordReceived(ctx context.Context, sessionID string, seq int64) error {
	if err := i.client.Set(ctx, recvKeyPrefix+sessionID, seq, 0).Err(); err != nil {
		return fmt.Errorf("redisindex: record received: %w", err)
	}
	return nil
}

// LastSent implements seqindex.SentIndex.
func (i *Index) LastSent(ctx context.Context, connectionID uint64) (int64, error) {
	seq, err := i.client.Get(ctx, sentKeyPrefix+strconv.FormatUint(connectionID, 10)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redisindex: last sent: %w", err)
	}
	return seq, nil
}

// IndexedPosition implements seqindex.SentIndex.
func (i *Index) IndexedPosition(ctx context.Context) (int64, error) {
	pos, err := i.client.Get(ctx, indexedKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redisindex: indexed position: %w", err)
	}
	return pos, nil
}

// LastReceived implements seqindex.ReceivedIndex. Per spec.md §3, a key
// miss means "never logged on" and must surface as -1, not 0.
func (i *Index) LastReceived(ctx context.Context, sessionID string) (int64, error) {
	seq, err := i.client.Get(ctx, recvKeyPrefix+sessionID).Int64()
	if err != nil {
		if err == redis.Nil {
			return -1, nil
		}
		return 0, fmt.Errorf("redisindex: last received: %w", err)
	}
	return seq, nil
}
