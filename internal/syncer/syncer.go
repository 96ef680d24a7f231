// Package syncer batches user edits and sends them to the server at a fixed
// interval, so that other clients editing the same schedule see them.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/hieratika/internal/metrics"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

// Updater sends a batch of schedule values. *hieratika.Client implements it.
type Updater interface {
	UpdateSchedule(ctx context.Context, scheduleUID string, variables hieratika.Values) error
}

type entry struct {
	name  string
	value any
}

// Syncer queues (name, value) edits and flushes them as one UpdateSchedule
// call. It is safe for concurrent use.
type Syncer struct {
	updater  Updater
	schedule func() string
	logger   *zap.Logger

	mu      sync.Mutex
	queue   []entry
	flushed []func(hieratika.Values)
}

// New creates a syncer. schedule returns the UID of the schedule being
// edited, "" when none is open.
func New(updater Updater, schedule func() string, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{updater: updater, schedule: schedule, logger: logger.Named("syncer")}
}

// OnFlush registers fn to receive every drained batch before it is sent.
func (s *Syncer) OnFlush(fn func(hieratika.Values)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = append(s.flushed, fn)
}

// Enqueue queues one edit.
func (s *Syncer) Enqueue(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, entry{name: name, value: value})
}

// Len returns the number of queued edits.
func (s *Syncer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Drain removes the queued edits and returns them as one batch, later edits
// of a name winning. The batch is empty when nothing was queued.
func (s *Syncer) Drain() hieratika.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make(hieratika.Values, len(s.queue))
	for _, e := range s.queue {
		batch[e.name] = e.value
	}
	s.queue = nil
	return batch
}

// Flush drains the queue and sends the batch in one UpdateSchedule call.
// Nothing is drained while no schedule is open, and an empty queue sends
// nothing. It returns the batch size.
func (s *Syncer) Flush(ctx context.Context) (int, error) {
	uid := s.schedule()
	if uid == "" {
		return 0, nil
	}

	batch := s.Drain()
	if len(batch) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	listeners := append([]func(hieratika.Values){}, s.flushed...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(batch)
	}

	metrics.ObserveFlush()
	if err := s.updater.UpdateSchedule(ctx, uid, batch); err != nil {
		return len(batch), fmt.Errorf("failed to update schedule %s: %w", uid, err)
	}
	s.logger.Debug("flushed edits", zap.String("schedule", uid), zap.Int("variables", len(batch)))
	return len(batch), nil
}

// Run flushes every interval until ctx ends or the session is invalidated.
// Other flush errors are logged and the loop continues.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Flush(ctx); err != nil {
				if errors.Is(err, hieratika.ErrInvalidToken) {
					return err
				}
				s.logger.Warn("flush failed", zap.Error(err))
			}
		}
	}
}
