package hieratika

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Relay republishes push messages through Redis Pub/Sub. One process reads
// the upstream event stream and Forwards it; any number of consumers
// Subscribe to the relay instead of opening their own stream.
// Channels are namespaced with the instance name. Relay is safe for
// concurrent use.
type Relay struct {
	rdb          *redis.Client
	instanceName string
}

// NewRelay creates a relay for the specified instance.
// Returns an error if instanceName is empty.
func NewRelay(redisOpts *redis.Options, instanceName string) (*Relay, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Relay{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (r *Relay) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Channel returns the Pub/Sub channel used by this relay.
func (r *Relay) Channel() string {
	return StreamChannel(r.instanceName)
}

// Publish sends one message to every relay subscriber.
func (r *Relay) Publish(ctx context.Context, msg *Message) error {
	payload, err := msg.Payload()
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish push message: %w", err)
	}
	return nil
}

// Subscribe subscribes to relayed messages. The subscription is confirmed by
// Redis before Subscribe returns, so messages published afterwards are not
// missed. Delivery is at-most-once, as with any Redis Pub/Sub consumer.
func (r *Relay) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := r.rdb.Subscribe(ctx, r.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.Channel(), err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := pubsub.Channel()

	next := func(ctx context.Context) ([]byte, bool) {
		select {
		case <-ctx.Done():
			return nil, false
		case msg, ok := <-ch:
			if !ok {
				return nil, false
			}
			return []byte(msg.Payload), true
		}
	}
	cleanup := func() {
		pubsub.Close()
	}
	return startSubscription(subCtx, cancel, cleanup, next), nil
}

// Forward publishes every message of upstream until it ends or ctx is
// cancelled. Decode errors on upstream are skipped.
func (r *Relay) Forward(ctx context.Context, upstream *Subscription) (forwarded int, err error) {
	errs := upstream.Errors()
	for {
		select {
		case <-ctx.Done():
			return forwarded, nil
		case msg, ok := <-upstream.Events():
			if !ok {
				return forwarded, nil
			}
			if err := r.Publish(ctx, msg); err != nil {
				return forwarded, err
			}
			forwarded++
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}
