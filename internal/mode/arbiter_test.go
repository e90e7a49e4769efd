package mode

import (
	"context"
	"testing"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/store"
)

const testIdentity = "628123456789"

func newTestArbiter(t *testing.T) (*Arbiter, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewArbiter(st, nil), st
}

func mustSession(t *testing.T, st *store.InMemoryStore) *models.Session {
	t.Helper()
	sess, err := st.GetSession(testIdentity)
	if err != nil || sess == nil {
		t.Fatalf("session lookup failed: %v, %v", sess, err)
	}
	return sess
}

func TestEffectiveModeIsPure(t *testing.T) {
	now := time.Now()
	until := now.Add(10 * time.Minute)
	sess := &models.Session{Identity: testIdentity, Mode: models.ModeManual, ManualModeUntil: &until}

	first := EffectiveMode(sess, now)
	second := EffectiveMode(sess, now)
	if first != second {
		t.Errorf("EffectiveMode not deterministic: %s then %s", first, second)
	}
	if first != models.ModeManual {
		t.Errorf("expected manual before deadline, got %s", first)
	}
	if sess.Mode != models.ModeManual || sess.ManualModeUntil == nil {
		t.Errorf("EffectiveMode mutated the session")
	}
}

func TestForceOverridesExpiredDeadline(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	sess := &models.Session{Identity: testIdentity, Mode: models.ModeManual, ForceModeManual: true, ManualModeUntil: &past}
	if got := EffectiveMode(sess, now); got != models.ModeManual {
		t.Errorf("force mode must win, got %s", got)
	}
}

func TestMissingSessionDefaultsToBot(t *testing.T) {
	a, st := newTestArbiter(t)

	mode, err := a.GetEffectiveMode(context.Background(), testIdentity, time.Now())
	if err != nil {
		t.Fatalf("GetEffectiveMode failed: %v", err)
	}
	if mode != models.ModeBot {
		t.Errorf("expected bot for unseen identity, got %s", mode)
	}
	sess, _ := st.GetSession(testIdentity)
	if sess != nil {
		t.Errorf("read path must not create a session")
	}
}

func TestManualWithTimeoutExpires(t *testing.T) {
	a, st := newTestArbiter(t)
	t0 := time.Now()

	res, err := a.SetManualWithTimeout(context.Background(), testIdentity, 5, t0)
	if err != nil || !res.OK {
		t.Fatalf("SetManualWithTimeout failed: %v, %+v", err, res)
	}

	mode, err := a.GetEffectiveMode(context.Background(), testIdentity, t0.Add(60*time.Second))
	if err != nil || mode != models.ModeManual {
		t.Fatalf("expected manual at T0+60s, got %s (%v)", mode, err)
	}

	mode, err = a.GetEffectiveMode(context.Background(), testIdentity, t0.Add(301*time.Second))
	if err != nil || mode != models.ModeBot {
		t.Fatalf("expected bot at T0+301s, got %s (%v)", mode, err)
	}
	sess := mustSession(t, st)
	if sess.Mode != models.ModeBot || sess.ManualModeUntil != nil {
		t.Errorf("expiry not reconciled: mode=%s until=%v", sess.Mode, sess.ManualModeUntil)
	}
}

func TestTimeoutValidationRange(t *testing.T) {
	a, _ := newTestArbiter(t)
	now := time.Now()

	for _, minutes := range []int{0, -5, 1441} {
		res, err := a.SetManualWithTimeout(context.Background(), testIdentity, minutes, now)
		if err != nil {
			t.Fatalf("minutes=%d: unexpected error %v", minutes, err)
		}
		if res.OK {
			t.Errorf("minutes=%d accepted, want declined", minutes)
		}
	}

	res, err := a.SetManualWithTimeout(context.Background(), testIdentity, models.MaxManualMinutes, now)
	if err != nil || !res.OK {
		t.Errorf("minutes=1440 should be accepted: %v, %+v", err, res)
	}
}

func TestForceModeInvariantNoTimeout(t *testing.T) {
	a, st := newTestArbiter(t)
	now := time.Now()

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 10, now); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}
	if _, err := a.SetForceMode(context.Background(), testIdentity, true, now); err != nil {
		t.Fatalf("SetForceMode failed: %v", err)
	}

	sess := mustSession(t, st)
	if !sess.ForceModeManual {
		t.Fatalf("force flag not set")
	}
	if sess.ManualModeUntil != nil {
		t.Errorf("force mode with non-null timeout")
	}
	if sess.SavedTimeoutSnapshot == nil {
		t.Errorf("displaced deadline not snapshotted")
	}
	if conflicts := DetectConflicts(sess, now); len(conflicts) != 0 {
		t.Errorf("unexpected conflicts: %v", conflicts)
	}
}

func TestForceModeIdempotent(t *testing.T) {
	a, st := newTestArbiter(t)
	now := time.Now()

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 10, now); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}
	if _, err := a.SetForceMode(context.Background(), testIdentity, true, now); err != nil {
		t.Fatalf("first SetForceMode failed: %v", err)
	}
	snapshot := *mustSession(t, st).SavedTimeoutSnapshot

	// Second activation must not overwrite the snapshot.
	if _, err := a.SetForceMode(context.Background(), testIdentity, true, now.Add(time.Minute)); err != nil {
		t.Fatalf("second SetForceMode failed: %v", err)
	}
	sess := mustSession(t, st)
	if sess.SavedTimeoutSnapshot == nil || !sess.SavedTimeoutSnapshot.Equal(snapshot) {
		t.Errorf("repeat activation changed snapshot: %v vs %v", sess.SavedTimeoutSnapshot, snapshot)
	}
}

func TestForceModeRoundTripRestoresFutureDeadline(t *testing.T) {
	a, st := newTestArbiter(t)
	t0 := time.Now()
	deadline := t0.Add(600 * time.Second)

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 10, t0); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}
	if _, err := a.SetForceMode(context.Background(), testIdentity, true, t0.Add(60*time.Second)); err != nil {
		t.Fatalf("SetForceMode on failed: %v", err)
	}
	if _, err := a.SetForceMode(context.Background(), testIdentity, false, t0.Add(120*time.Second)); err != nil {
		t.Fatalf("SetForceMode off failed: %v", err)
	}

	sess := mustSession(t, st)
	if sess.ForceModeManual {
		t.Errorf("force flag still set after release")
	}
	if sess.ManualModeUntil == nil || !sess.ManualModeUntil.Equal(deadline) {
		t.Errorf("deadline not restored: got %v, want %v", sess.ManualModeUntil, deadline)
	}
	if sess.SavedTimeoutSnapshot != nil {
		t.Errorf("snapshot not cleared after restore")
	}
	if got := EffectiveMode(sess, t0.Add(120*time.Second)); got != models.ModeManual {
		t.Errorf("expected manual with restored deadline, got %s", got)
	}
}

func TestForceModeRoundTripPastDeadlineFallsToBot(t *testing.T) {
	a, st := newTestArbiter(t)
	t0 := time.Now()

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 10, t0); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}
	if _, err := a.SetForceMode(context.Background(), testIdentity, true, t0.Add(60*time.Second)); err != nil {
		t.Fatalf("SetForceMode on failed: %v", err)
	}
	// Release after the displaced deadline already lapsed.
	if _, err := a.SetForceMode(context.Background(), testIdentity, false, t0.Add(700*time.Second)); err != nil {
		t.Fatalf("SetForceMode off failed: %v", err)
	}

	sess := mustSession(t, st)
	if sess.Mode != models.ModeBot || sess.ManualModeUntil != nil || sess.SavedTimeoutSnapshot != nil {
		t.Errorf("expected clean bot state, got mode=%s until=%v snapshot=%v",
			sess.Mode, sess.ManualModeUntil, sess.SavedTimeoutSnapshot)
	}
	if got := EffectiveMode(sess, t0.Add(700*time.Second)); got != models.ModeBot {
		t.Errorf("expected bot after stale snapshot release, got %s", got)
	}
}

func TestMutationsDeclinedWhileForced(t *testing.T) {
	a, _ := newTestArbiter(t)
	now := time.Now()

	if _, err := a.SetForceMode(context.Background(), testIdentity, true, now); err != nil {
		t.Fatalf("SetForceMode failed: %v", err)
	}

	res, err := a.SetManualWithTimeout(context.Background(), testIdentity, 30, now)
	if err != nil {
		t.Fatalf("SetManualWithTimeout errored: %v", err)
	}
	if res.OK {
		t.Errorf("timed manual accepted while forced")
	}
	if res.Reason == "" {
		t.Errorf("declined result missing reason")
	}

	res, err = a.SetMode(context.Background(), testIdentity, models.ModeBot)
	if err != nil {
		t.Fatalf("SetMode errored: %v", err)
	}
	if res.OK {
		t.Errorf("SetMode accepted while forced")
	}
}

func TestSetModeClearsDeadline(t *testing.T) {
	a, st := newTestArbiter(t)
	now := time.Now()

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 30, now); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}
	res, err := a.SetMode(context.Background(), testIdentity, models.ModeManual)
	if err != nil || !res.OK {
		t.Fatalf("SetMode manual failed: %v, %+v", err, res)
	}
	sess := mustSession(t, st)
	if sess.ManualModeUntil != nil {
		t.Errorf("indefinite manual kept a deadline")
	}

	res, err = a.SetMode(context.Background(), testIdentity, models.ModeBot)
	if err != nil || !res.OK {
		t.Fatalf("SetMode bot failed: %v, %+v", err, res)
	}
	sess = mustSession(t, st)
	if sess.Mode != models.ModeBot || sess.ManualModeUntil != nil {
		t.Errorf("bot reset left state: mode=%s until=%v", sess.Mode, sess.ManualModeUntil)
	}

	res, err = a.SetMode(context.Background(), testIdentity, models.SessionMode("paused"))
	if err != nil {
		t.Fatalf("SetMode invalid errored: %v", err)
	}
	if res.OK {
		t.Errorf("invalid mode accepted")
	}
}

func TestDetectConflicts(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		sess models.Session
		want int
	}{
		{"clean bot", models.Session{Mode: models.ModeBot}, 0},
		{"force with timeout", models.Session{Mode: models.ModeManual, ForceModeManual: true, ManualModeUntil: &future}, 1},
		{"manual expired no force", models.Session{Mode: models.ModeManual, ManualModeUntil: &past}, 1},
		{"bot with future timeout", models.Session{Mode: models.ModeBot, ManualModeUntil: &future}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectConflicts(&tc.sess, now); len(got) != tc.want {
				t.Errorf("got %d conflicts (%v), want %d", len(got), got, tc.want)
			}
		})
	}
}

func TestGetDetailedStatus(t *testing.T) {
	a, _ := newTestArbiter(t)
	now := time.Now()

	if _, err := a.GetDetailedStatus(context.Background(), testIdentity, now); err == nil {
		t.Errorf("expected error for missing session")
	}

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 15, now); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}
	status, err := a.GetDetailedStatus(context.Background(), testIdentity, now)
	if err != nil {
		t.Fatalf("GetDetailedStatus failed: %v", err)
	}
	if status.EffectiveMode != models.ModeManual {
		t.Errorf("expected effective manual, got %s", status.EffectiveMode)
	}
	if status.ManualModeUntil == nil {
		t.Errorf("deadline missing from status")
	}
	if len(status.Conflicts) != 0 {
		t.Errorf("unexpected conflicts: %v", status.Conflicts)
	}
}

func TestSweeperFlipsExpiredSessions(t *testing.T) {
	a, st := newTestArbiter(t)
	t0 := time.Now().Add(-time.Hour)

	if _, err := a.SetManualWithTimeout(context.Background(), testIdentity, 5, t0); err != nil {
		t.Fatalf("SetManualWithTimeout failed: %v", err)
	}

	sweeper := NewSweeper(a, 0)
	sweeper.sweepOnce(context.Background())

	sess := mustSession(t, st)
	if sess.Mode != models.ModeBot || sess.ManualModeUntil != nil {
		t.Errorf("sweep did not flip expired session: mode=%s until=%v", sess.Mode, sess.ManualModeUntil)
	}
}
