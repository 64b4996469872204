package server

import (
	"net/http"
	"testing"
	"time"

	"mafia-night/internal/config"
	"mafia-night/internal/game"
	"mafia-night/internal/store"
)

func TestTakeoverWhileCoordinatorActive(t *testing.T) {
	srv := newGameServer()
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)

	sessionID, _, _ := createSession(t, ts, "Ada")
	playerID, playerToken := joinPlayer(t, ts, sessionID, "Ben")

	resp := doRequest(t, ts, http.MethodPost, "/api/sessions/"+sessionID+"/takeover", map[string]any{
		"participant_id": playerID,
		"token":          playerToken,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("fresh snapshot takeover: expected status %d, got %d", http.StatusConflict, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"].(string) != "master_active" {
		t.Fatalf("expected master_active, got %v", body["error"])
	}
}

func TestTakeoverWhenStale(t *testing.T) {
	cfg := config.Default()
	cfg.StaleThresholdSeconds = 0
	srv := New(store.NewMemory(), cfg)
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)

	sessionID, coordinatorID, _ := createSession(t, ts, "Ada")
	playerID, playerToken := joinPlayer(t, ts, sessionID, "Ben")

	before := fetchSnapshot(t, ts, sessionID)
	resp := doRequest(t, ts, http.MethodPost, "/api/sessions/"+sessionID+"/takeover", map[string]any{
		"participant_id": playerID,
		"token":          playerToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stale takeover: expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	session := body["session"].(map[string]any)
	if session["coordinator_participant_id"].(string) != playerID {
		t.Fatalf("takeover must install the challenger as coordinator")
	}
	if session["version"].(float64) <= before["version"].(float64) {
		t.Fatalf("takeover must bump the version")
	}
	if coordinatorID == session["coordinator_participant_id"].(string) {
		t.Fatalf("old coordinator still installed")
	}
}

func TestTakeoverWithStaleObservationFails(t *testing.T) {
	cfg := config.Default()
	cfg.StaleThresholdSeconds = 0
	srv := New(store.NewMemory(), cfg)
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)

	sessionID, coordinatorID, _ := createSession(t, ts, "Ada")
	playerID, playerToken := joinPlayer(t, ts, sessionID, "Ben")

	resp := doRequest(t, ts, http.MethodPost, "/api/sessions/"+sessionID+"/takeover", map[string]any{
		"participant_id":          playerID,
		"token":                   playerToken,
		"observed_coordinator_id": coordinatorID,
		"observed_updated_at":     time.Now().UTC().Add(-time.Hour),
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"].(string) != "takeover_failed" {
		t.Fatalf("expected takeover_failed, got %v", body["error"])
	}
}

func TestShouldAttemptTakeover(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	staleAfter := 15 * time.Second
	session := game.Session{
		CoordinatorParticipantID: "coordinator",
		UpdatedAt:                now.Add(-time.Minute),
		Participants: []game.Participant{
			{ID: "alpha", Alive: true},
			{ID: "bravo", Alive: true},
			{ID: "coordinator", Alive: true},
			{ID: "zulu", Alive: false},
		},
	}

	if !ShouldAttemptTakeover(session, "alpha", now, staleAfter) {
		t.Fatalf("smallest alive non-coordinator id should attempt")
	}
	if ShouldAttemptTakeover(session, "bravo", now, staleAfter) {
		t.Fatalf("bravo should defer to alpha")
	}
	if ShouldAttemptTakeover(session, "coordinator", now, staleAfter) {
		t.Fatalf("the incumbent never challenges itself")
	}
	if ShouldAttemptTakeover(session, "zulu", now, staleAfter) {
		t.Fatalf("dead participants never challenge")
	}

	fresh := session
	fresh.UpdatedAt = now.Add(-time.Second)
	if ShouldAttemptTakeover(fresh, "alpha", now, staleAfter) {
		t.Fatalf("no takeover while the snapshot is fresh")
	}

	// With alpha dead, the duty falls to the next alive id.
	session.Participants[0].Alive = false
	if !ShouldAttemptTakeover(session, "bravo", now, staleAfter) {
		t.Fatalf("bravo should attempt once alpha is dead")
	}
}
