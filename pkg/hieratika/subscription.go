package hieratika

import (
	"context"
	"sync"

	"github.com/dyluth/hieratika/internal/metrics"
)

// Subscription represents an active push message subscription, fed either by
// the HTTP event stream or by the Redis relay.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Message
	errors <-chan error
	cancel func()
	done   <-chan struct{}
	once   sync.Once
}

// Events returns the channel of push messages, in receipt order.
// The channel is closed when the subscription ends.
func (s *Subscription) Events() <-chan *Message {
	return s.events
}

// Errors returns the channel of non-fatal errors (undecodable payloads).
// The subscription continues after errors; the offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Done is closed once the pump goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the subscription and waits for its goroutine to exit.
// Implements io.Closer. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// payloadSource yields the next raw payload. ok=false ends the subscription.
type payloadSource func(ctx context.Context) (payload []byte, ok bool)

// startSubscription pumps payloads from next into a new Subscription until
// next gives up or subCtx is cancelled. cancel must cancel subCtx; cleanup
// runs once when the pump exits.
func startSubscription(subCtx context.Context, cancel context.CancelFunc, cleanup func(), next payloadSource) *Subscription {
	eventsChan := make(chan *Message, 10)
	errorsChan := make(chan error, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(eventsChan)
		defer close(errorsChan)
		defer cancel()
		if cleanup != nil {
			defer cleanup()
		}

		for {
			payload, ok := next(subCtx)
			if !ok {
				return
			}

			msg, err := ParseMessage(payload)
			if err != nil {
				select {
				case errorsChan <- err:
				case <-subCtx.Done():
					return
				default:
					// error buffer full: drop rather than stall the stream
				}
				continue
			}

			metrics.ObserveMessage(string(msg.Kind()))

			select {
			case eventsChan <- msg:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancel,
		done:   done,
	}
}
