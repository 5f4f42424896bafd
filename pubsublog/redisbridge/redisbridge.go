// Package redisbridge broadcasts catchup/position notices to external
// tooling over Redis Pub/Sub, generalizing the teacher's
// service/pubsub.go PubSubManager (per-gateway channel,
// publish/subscribe of JSON envelopes) from cross-gateway chat routing
// to cross-process visibility into the log's indexed position. This
// is the one legitimate multi-process use of Redis in the pubsublog
// area named in SPEC_FULL.md §10.3; the hot path stays the in-process
// pubsublog/ring.
package redisbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notice is the envelope published to the bridge channel.
type Notice struct {
	Position int64  `json:"position"`
	Kind     string `json:"kind"`
}

const (
	KindCatchup  = "catchup"
	KindPosition = "position"
)

// Bridge publishes Notices to a well-known channel and lets external
// tooling subscribe to them, mirroring PubSubManager's
// channel-per-gateway shape but with a single shared channel since
// there is exactly one log per process here.
type Bridge struct {
	client  *redis.Client
	channel string
}

// New wraps an existing go-redis client.
func New(client *redis.Client, channel string) *Bridge {
	return &Bridge{client: client, channel: channel}
}

// Publish announces a position/catchup event.
func (b *Bridge) Publish(ctx context.Context, n Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redisbridge: marshal notice: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redisbridge: publish: %w", err)
	}
	return nil
}

// Subscription is a receive-only handle over the bridge channel.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe starts listening on the bridge channel. The caller must
// call Close when done, mirroring PubSubManager.Stop.
func (b *Bridge) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, fmt.Errorf("redisbridge: subscribe: %w", err)
	}
	return &Subscription{pubsub: ps}, nil
}

// Next blocks until a Notice arrives or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Notice, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return Notice{}, fmt.Errorf("redisbridge: receive: %w", err)
	}
	var n Notice
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		return Notice{}, fmt.Errorf("redisbridge: unmarshal notice: %w", err)
	}
	return n, nil
}

// Close releases the underlying subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
