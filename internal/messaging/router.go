package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/LaporKota/LaporBot/internal/flow"
	"github.com/LaporKota/LaporBot/internal/mode"
	"github.com/LaporKota/LaporBot/internal/models"
)

// Debounce defaults: bursts of more than burstLimit messages inside
// burstWindow from one identity are coalesced.
const (
	DefaultBurstLimit  = 3
	DefaultBurstWindow = 2 * time.Second
)

const rateLimitText = "Pesan Anda masuk terlalu cepat. Mohon tunggu sebentar, " +
	"kami memproses pesan terakhir Anda."

// Router pulls inbound events off a delivery channel, arbitrates the
// responder mode, and hands bot-mode events to the dialogue engine.
// Events for the same identity are serialized; distinct identities are
// processed concurrently.
type Router struct {
	service Service
	engine  *flow.Engine
	arbiter *mode.Arbiter

	burstLimit  int
	burstWindow time.Duration

	mu     sync.Mutex
	bursts map[string]*burstState
	locks  map[string]*sync.Mutex
}

type burstState struct {
	times    []time.Time
	notified bool
}

// NewRouter creates a router over the given service, engine and arbiter.
func NewRouter(service Service, engine *flow.Engine, arbiter *mode.Arbiter) *Router {
	return &Router{
		service:     service,
		engine:      engine,
		arbiter:     arbiter,
		burstLimit:  DefaultBurstLimit,
		burstWindow: DefaultBurstWindow,
		bursts:      make(map[string]*burstState),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Run consumes events until the context is cancelled or the service's event
// channel closes.
func (r *Router) Run(ctx context.Context) {
	slog.Info("Router starting")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Router stopping: context cancelled")
			return
		case ev, open := <-r.service.Events():
			if !open {
				slog.Info("Router stopping: event channel closed")
				return
			}
			go r.process(ctx, ev)
		}
	}
}

// process handles one inbound event end to end.
func (r *Router) process(ctx context.Context, ev models.InboundEvent) {
	allowed, notify := r.debounce(ev.Identity, time.Now())
	if notify {
		r.send(ctx, ev.Identity, models.TextReply(rateLimitText))
	}
	if !allowed {
		return
	}

	lock := r.identityLock(ev.Identity)
	lock.Lock()
	defer lock.Unlock()

	// Effective mode is recomputed from stored fields on every event.
	effective, err := r.arbiter.GetEffectiveMode(ctx, ev.Identity, time.Now())
	if err != nil {
		slog.Error("Router.process: mode arbitration failed", "error", err, "identity", ev.Identity)
		return
	}
	if effective == models.ModeManual {
		slog.Info("Router.process: manual mode, suppressing bot reply", "identity", ev.Identity)
		return
	}

	reply, err := r.engine.HandleEvent(ctx, ev)
	if err != nil {
		slog.Error("Router.process: engine failed", "error", err, "identity", ev.Identity)
		return
	}
	if reply != nil {
		r.send(ctx, ev.Identity, reply)
	}
}

func (r *Router) send(ctx context.Context, to string, reply *models.Reply) {
	if err := r.service.SendReply(ctx, to, reply); err != nil {
		slog.Error("Router.send: delivery failed", "error", err, "to", to)
	}
}

// debounce applies the burst gate. Messages up to the limit inside the window
// process normally; the first excess message draws a single rate-limit
// notice, further excess is dropped silently. State already committed by
// earlier messages of the burst is never rolled back.
func (r *Router) debounce(identity string, now time.Time) (allowed, notify bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bursts[identity]
	if b == nil {
		b = &burstState{}
		r.bursts[identity] = b
	}
	cutoff := now.Add(-r.burstWindow)
	kept := b.times[:0]
	for _, t := range b.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.times = append(kept, now)

	if len(b.times) <= r.burstLimit {
		b.notified = false
		return true, false
	}
	if !b.notified {
		b.notified = true
		return false, true
	}
	return false, false
}

func (r *Router) identityLock(identity string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock := r.locks[identity]
	if lock == nil {
		lock = &sync.Mutex{}
		r.locks[identity] = lock
	}
	return lock
}
