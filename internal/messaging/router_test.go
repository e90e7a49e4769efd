package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LaporKota/LaporBot/internal/flow"
	"github.com/LaporKota/LaporBot/internal/mode"
	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/store"
)

const testIdentity = "628123456789"

// mockService records sent replies and exposes a writable event channel.
type mockService struct {
	mu     sync.Mutex
	sent   []models.Reply
	events chan models.InboundEvent
}

func newMockService() *mockService {
	return &mockService{events: make(chan models.InboundEvent, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *mockService) SendReply(_ context.Context, _ string, reply *models.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *reply)
	return nil
}

func (m *mockService) Start(context.Context) error { return nil }
func (m *mockService) Stop() error                 { return nil }

func (m *mockService) Events() <-chan models.InboundEvent { return m.events }

func (m *mockService) sentReplies() []models.Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Reply, len(m.sent))
	copy(out, m.sent)
	return out
}

func newTestRouter(t *testing.T) (*Router, *mockService, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, nil, nil, nil)
	arbiter := mode.NewArbiter(st, nil)
	svc := newMockService()
	return NewRouter(svc, engine, arbiter), svc, st
}

func textEvent(text string) models.InboundEvent {
	return models.InboundEvent{Identity: testIdentity, Kind: models.EventKindText, Text: text}
}

func waitForReplies(t *testing.T, svc *mockService, want int) []models.Reply {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if replies := svc.sentReplies(); len(replies) >= want {
			return replies
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d replies, have %d", want, len(svc.sentReplies()))
	return nil
}

func TestRouterDispatchesToBotAndReplies(t *testing.T) {
	router, svc, st := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	svc.events <- textEvent("halo")
	replies := waitForReplies(t, svc, 1)
	if !strings.Contains(replies[0].Text, "Selamat datang") {
		t.Errorf("expected greeting reply, got %q", replies[0].Text)
	}

	sess, err := st.GetSession(testIdentity)
	if err != nil || sess == nil {
		t.Fatalf("session not created: %v, %v", sess, err)
	}
}

func TestRouterSuppressesRepliesInManualMode(t *testing.T) {
	router, svc, _ := newTestRouter(t)
	if _, err := router.arbiter.SetForceMode(context.Background(), testIdentity, true, time.Now()); err != nil {
		t.Fatalf("SetForceMode failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	svc.events <- textEvent("halo")
	time.Sleep(200 * time.Millisecond)
	if replies := svc.sentReplies(); len(replies) != 0 {
		t.Errorf("manual mode produced %d replies: %v", len(replies), replies)
	}
}

func TestRouterManualExpiryRevertsToBot(t *testing.T) {
	router, svc, _ := newTestRouter(t)
	// Deadline far in the past; the first read reconciles it.
	past := time.Now().Add(-time.Hour)
	if _, err := router.arbiter.SetManualWithTimeout(context.Background(), testIdentity, 5, past); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	svc.events <- textEvent("halo")
	replies := waitForReplies(t, svc, 1)
	if !strings.Contains(replies[0].Text, "Selamat datang") {
		t.Errorf("expected bot reply after expiry, got %q", replies[0].Text)
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	router, _, _ := newTestRouter(t)
	now := time.Now()

	for i := 0; i < DefaultBurstLimit; i++ {
		allowed, notify := router.debounce(testIdentity, now.Add(time.Duration(i)*100*time.Millisecond))
		if !allowed || notify {
			t.Fatalf("message %d inside limit: allowed=%v notify=%v", i, allowed, notify)
		}
	}

	// First excess draws exactly one notice.
	allowed, notify := router.debounce(testIdentity, now.Add(400*time.Millisecond))
	if allowed || !notify {
		t.Errorf("first excess: allowed=%v notify=%v, want suppressed with notice", allowed, notify)
	}
	allowed, notify = router.debounce(testIdentity, now.Add(500*time.Millisecond))
	if allowed || notify {
		t.Errorf("second excess: allowed=%v notify=%v, want silent drop", allowed, notify)
	}

	// After the window passes the gate opens again.
	allowed, notify = router.debounce(testIdentity, now.Add(5*time.Second))
	if !allowed || notify {
		t.Errorf("post-window message: allowed=%v notify=%v, want processed", allowed, notify)
	}
}

func TestDebounceIsPerIdentity(t *testing.T) {
	router, _, _ := newTestRouter(t)
	now := time.Now()

	for i := 0; i < DefaultBurstLimit+1; i++ {
		router.debounce(testIdentity, now)
	}
	allowed, _ := router.debounce("628999999999", now)
	if !allowed {
		t.Errorf("burst on one identity throttled another")
	}
}
