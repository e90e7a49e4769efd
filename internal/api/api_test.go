package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

// mockMessenger records outbound replies delivered by the admin surface.
type mockMessenger struct {
	mu     sync.Mutex
	sent   []models.Reply
	events chan models.InboundEvent
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{events: make(chan models.InboundEvent, 10)}
}

func (m *mockMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, recipient)
	return digits, nil
}

func (m *mockMessenger) SendReply(_ context.Context, _ string, reply *models.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *reply)
	return nil
}

func (m *mockMessenger) Start(context.Context) error { return nil }
func (m *mockMessenger) Stop() error                 { return nil }

func (m *mockMessenger) Events() <-chan models.InboundEvent { return m.events }

func (m *mockMessenger) sentReplies() []models.Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Reply, len(m.sent))
	copy(out, m.sent)
	return out
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *mockMessenger) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, nil, nil, nil)
	arbiter := mode.NewArbiter(st, nil)
	msg := newMockMessenger()
	return NewServer(st, arbiter, engine, msg, nil), st, msg
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

// seedReport stores a report with its default tindakan and returns both.
func seedReport(t *testing.T, st *store.InMemoryStore) (*models.Report, *models.Tindakan) {
	t.Helper()
	report := &models.Report{
		ID:       "rep-1",
		PublicID: "LAP-ABCD1234",
		Identity: testIdentity,
		Message:  "Jalan berlubang di depan pasar",
	}
	tindakan := &models.Tindakan{
		ID:            "tin-1",
		Status:        models.TindakanStatusNeedsVerification,
		Feedback:      models.FeedbackStatusNone,
		FeedbackCycle: models.FeedbackCycleFirst,
	}
	if err := st.CreateReport(report, tindakan); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
	return report, tindakan
}

func TestSetModeAndGetEffectiveMode(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/mode", `{"mode":"manual"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set mode: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/sessions/"+testIdentity+"/mode", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get mode: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"effective_mode":"manual"`) {
		t.Errorf("expected effective manual mode, got %s", rr.Body.String())
	}
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/mode", `{"mode":"hybrid"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp := decodeResponse(t, rr); resp.Status != string(models.APIStatusDeclined) {
		t.Errorf("expected declined status, got %q", resp.Status)
	}
}

func TestManualTimeoutValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, body := range []string{`{"minutes":0}`, `{"minutes":-5}`, `{"minutes":1441}`} {
		rr := doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/manual-timeout", body)
		if rr.Code != http.StatusConflict {
			t.Errorf("body %s: expected 409, got %d", body, rr.Code)
		}
	}

	rr := doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/manual-timeout", `{"minutes":30}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid minutes: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestForceModeDeclinesTimedManual(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/force", `{"force":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("force on: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/manual-timeout", `{"minutes":30}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("timed manual under force: expected 409, got %d", rr.Code)
	}
	if resp := decodeResponse(t, rr); !strings.Contains(resp.Message, "force mode") {
		t.Errorf("expected force-mode reason, got %q", resp.Message)
	}
}

func TestDetailedStatusReportsForceFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/manual-timeout", `{"minutes":30}`)
	doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/force", `{"force":true}`)

	rr := doRequest(t, srv, http.MethodGet, "/api/sessions/"+testIdentity+"/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"force_mode_manual":true`) {
		t.Errorf("expected force flag in status, got %s", body)
	}
	if !strings.Contains(body, "saved_timeout_snapshot") {
		t.Errorf("expected displaced deadline in snapshot, got %s", body)
	}
}

func TestDetailedStatusUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/api/sessions/629999999999/status", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestListSessions(t *testing.T) {
	srv, st, _ := newTestServer(t)
	if _, err := st.CreateDefaultSession(testIdentity); err != nil {
		t.Fatalf("CreateDefaultSession failed: %v", err)
	}

	rr := doRequest(t, srv, http.MethodGet, "/api/sessions", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), testIdentity) {
		t.Errorf("expected session list to include %s, got %s", testIdentity, rr.Body.String())
	}
}

func TestGetReportCanonicalizesPublicID(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedReport(t, st)

	// Bare lowercase suffix resolves to the full public ID.
	rr := doRequest(t, srv, http.MethodGet, "/api/reports/abcd1234", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "LAP-ABCD1234") {
		t.Errorf("expected canonical public ID in body, got %s", rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/reports/LAP-FFFFFFFF", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown report: expected 404, got %d", rr.Code)
	}
}

func TestTindakanStatusProgressionToAwaitingEnqueuesFeedback(t *testing.T) {
	srv, st, msg := newTestServer(t)
	report, tindakan := seedReport(t, st)

	rr := doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status", `{"status":"processing"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("to processing: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status",
		`{"status":"resolved_awaiting_confirmation","notes":"perbaikan selesai"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("to awaiting: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	sess, err := st.GetSession(testIdentity)
	if err != nil || sess == nil {
		t.Fatalf("session not created for citizen: %v, %v", sess, err)
	}
	if len(sess.PendingFeedback) != 1 || sess.PendingFeedback[0] != tindakan.ID {
		t.Errorf("expected pending feedback [%s], got %v", tindakan.ID, sess.PendingFeedback)
	}

	updated, _ := st.GetTindakanByID(tindakan.ID)
	if updated.Feedback != models.FeedbackStatusAsked {
		t.Errorf("expected feedback asked, got %s", updated.Feedback)
	}
	if updated.Notes != "perbaikan selesai" {
		t.Errorf("notes not applied: %q", updated.Notes)
	}

	replies := msg.sentReplies()
	if len(replies) != 1 || !strings.Contains(replies[0].Text, report.PublicID) {
		t.Errorf("expected delivered question naming %s, got %v", report.PublicID, replies)
	}
}

func TestTindakanAwaitingQuestionSuppressedInManualMode(t *testing.T) {
	srv, st, msg := newTestServer(t)
	_, tindakan := seedReport(t, st)

	doRequest(t, srv, http.MethodPost, "/api/sessions/"+testIdentity+"/force", `{"force":true}`)
	doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status", `{"status":"processing"}`)

	rr := doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status",
		`{"status":"resolved_awaiting_confirmation"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Queued for the interceptor but not delivered over the wire.
	sess, _ := st.GetSession(testIdentity)
	if len(sess.PendingFeedback) != 1 {
		t.Errorf("expected queued feedback, got %v", sess.PendingFeedback)
	}
	if replies := msg.sentReplies(); len(replies) != 0 {
		t.Errorf("manual mode delivered %d replies: %v", len(replies), replies)
	}
}

func TestTindakanIllegalTransitionDeclined(t *testing.T) {
	srv, st, _ := newTestServer(t)
	_, tindakan := seedReport(t, st)

	// needs_verification cannot jump straight to closed.
	rr := doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status", `{"status":"closed"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}

	doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status",
		`{"status":"rejected","reject_reason":"laporan duplikat"}`)
	updated, _ := st.GetTindakanByID(tindakan.ID)
	if updated.Status != models.TindakanStatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}

	// Terminal statuses admit no further transitions.
	rr = doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status", `{"status":"processing"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("transition out of rejected: expected 409, got %d", rr.Code)
	}
}

func TestTindakanStatusUnknownID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/tindakan/tin-missing/status", `{"status":"processing"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestTindakanStatusRejectsUnknownStatus(t *testing.T) {
	srv, st, _ := newTestServer(t)
	_, tindakan := seedReport(t, st)

	rr := doRequest(t, srv, http.MethodPost, "/api/tindakan/"+tindakan.ID+"/status", `{"status":"escalated"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestEraseCitizenRemovesEverything(t *testing.T) {
	srv, st, _ := newTestServer(t)
	report, _ := seedReport(t, st)
	if _, err := st.CreateDefaultSession(testIdentity); err != nil {
		t.Fatalf("CreateDefaultSession failed: %v", err)
	}
	if err := st.CreateProfile(&models.UserProfile{ID: "prof-1", Identity: testIdentity, Name: "Budi"}); err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}

	rr := doRequest(t, srv, http.MethodDelete, "/api/citizens/+"+testIdentity, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if sess, _ := st.GetSession(testIdentity); sess != nil {
		t.Errorf("session survived erasure")
	}
	if prof, _ := st.GetProfileByIdentity(testIdentity); prof != nil {
		t.Errorf("profile survived erasure")
	}
	if rep, _ := st.GetReportByID(report.ID); rep != nil {
		t.Errorf("report survived erasure")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodDelete, "/api/sessions/"+testIdentity+"/mode", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	rr = doRequest(t, srv, http.MethodPost, "/api/sessions", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST /api/sessions, got %d", rr.Code)
	}
}

func TestServerShutsDownOnContextCancel(t *testing.T) {
	st := store.NewInMemoryStore()
	srv := NewServer(st, mode.NewArbiter(st, nil), flow.NewEngine(st, nil, nil, nil), newMockMessenger(), nil,
		WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on graceful shutdown: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down after context cancel")
	}
}
