package session

import (
	"context"
	"sync"
)

// Enqueue queues an event for Run. Safe to call from any goroutine.
// Returns false once the session is closed.
func (s *Session) Enqueue(ev Event) bool {
	return s.queue.enqueue(ev)
}

// Pending returns the number of queued events.
func (s *Session) Pending() int {
	return s.queue.len()
}

// Close stops accepting events. Run returns after processing the events
// already queued.
func (s *Session) Close() {
	s.queue.close()
}

// Run processes queued events one at a time, in order, and prunes the
// archive in the background. It returns ctx.Err() when ctx is cancelled
// and nil once the session is closed and drained.
//
// A failing event is logged with its context and skipped; the loop keeps
// going.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session starting")

	retentionCtx, stopRetention := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.archive.RunRetention(retentionCtx)
	}()
	defer func() {
		stopRetention()
		wg.Wait()
	}()

	for {
		if ev, ok := s.queue.tryDequeue(); ok {
			s.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("session stopping: context cancelled")
			s.queue.close()
			return ctx.Err()
		case <-s.queue.wait():
			if s.queue.drained() {
				s.logger.Info("session stopping: closed")
				return nil
			}
		}
	}
}

func (s *Session) process(ctx context.Context, ev Event) {
	switch {
	case ev.Protocol != nil:
		msg := ev.Protocol
		legacyID, err := s.HandleProtocolMessage(ctx, *msg)
		if err != nil {
			s.logger.Error("protocol message failed",
				"kind", string(msg.Kind),
				"to", msg.To,
				"protocol_id", msg.ID,
				"error", err)
			return
		}
		s.logger.Debug("protocol message sent", "to", msg.To, "protocol_id", msg.ID, "legacy_id", legacyID)

	case ev.Legacy != nil:
		msg := ev.Legacy
		d, err := s.HandleLegacyMessage(ctx, *msg)
		if err != nil {
			s.logger.Error("legacy message failed",
				"kind", string(msg.Kind),
				"from", msg.From,
				"legacy_id", msg.ID,
				"error", err)
			return
		}
		if s.delivery != nil {
			s.delivery(ctx, d)
		}

	default:
		s.logger.Warn("empty event ignored")
	}
}
