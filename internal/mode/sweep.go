package mode

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the background sweep looks for expired
// manual sessions.
const DefaultSweepInterval = 2 * time.Minute

// Sweeper periodically flips expired manual sessions back to bot mode so
// passive observers that query the raw mode field (dashboards) converge
// without waiting for the next inbound message. No inbound message's
// correctness depends on the sweep: the arbiter reconciles lazily on read.
type Sweeper struct {
	arbiter  *Arbiter
	interval time.Duration
}

// NewSweeper creates a sweeper over the given arbiter. A non-positive
// interval falls back to DefaultSweepInterval.
func NewSweeper(arbiter *Arbiter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{arbiter: arbiter, interval: interval}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Sweeper starting", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-ctx.Done():
			slog.Info("Sweeper stopping")
			return
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := time.Now()
	sessions, err := s.arbiter.store.ListExpiredManualSessions(now)
	if err != nil {
		slog.Error("Sweeper failed to list expired sessions", "error", err)
		return
	}
	flipped := 0
	for _, sess := range sessions {
		changed, err := s.arbiter.ReconcileExpiry(ctx, sess, now)
		if err != nil {
			slog.Error("Sweeper reconcile failed", "error", err, "identity", sess.Identity)
			continue
		}
		if changed {
			flipped++
		}
	}
	if flipped > 0 {
		slog.Info("Sweeper flipped expired sessions", "count", flipped)
	}
}
