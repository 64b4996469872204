package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"mafia-night/internal/game"
)

// TestRebuildSkipsEventsBeforeRestart pins the relay floor: after a restart,
// a coordinator rebuilding from index zero must not fold the previous game's
// actions into the new one, even when night numbers line up again.
func TestRebuildSkipsEventsBeforeRestart(t *testing.T) {
	srv := newGameServer()
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	session, roles := machineSession()
	if err := srv.store.CreateSession(ctx, *session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := srv.store.SaveRoles(ctx, session.ID, roles); err != nil {
		t.Fatalf("save roles: %v", err)
	}
	if err := srv.store.RegisterMailbox(ctx, session.ID, "mafia", "mafia-token"); err != nil {
		t.Fatalf("register mailbox: %v", err)
	}

	// Night 1 of the first game: the mafia acted.
	oldKill, err := game.NewRelayEvent("game1-kill", game.EventAction, game.ActionPayload{
		NightNumber: 1, ParticipantID: "mafia", Kind: game.ActionKill, TargetID: "villager",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	submitted, err := srv.store.SubmitEvent(ctx, session.ID, oldKill)
	if err != nil {
		t.Fatalf("submit event: %v", err)
	}

	// The session was since restarted and a second game started: same phase
	// and night number, but the relay floor sits above the old event.
	session.Version++
	session.RelayFloorIndex = submitted.Index
	if _, err := srv.store.PublishSnapshot(ctx, *session); err != nil {
		t.Fatalf("publish: %v", err)
	}

	srv.kick(session.ID)
	if srv.pendingAction(session.ID, "mafia") {
		t.Fatalf("pre-restart action must not re-enter the accumulator")
	}

	// The mafia's real submission for the new game goes through.
	resp := doRequest(t, ts, http.MethodPost, "/api/sessions/"+session.ID+"/actions", map[string]any{
		"participant_id": "mafia",
		"token":          "mafia-token",
		"night_number":   1,
		"kind":           game.ActionKill,
		"target_id":      "villager",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fresh action: expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if !srv.pendingAction(session.ID, "mafia") {
		t.Fatalf("fresh action must be accumulated")
	}
}
