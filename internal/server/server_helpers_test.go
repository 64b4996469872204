package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mafia-night/internal/config"
	"mafia-night/internal/store"
)

func newGameServer() *Server {
	return New(store.NewMemory(), config.Default())
}

func createSession(t *testing.T, ts *httptest.Server, name string) (sessionID, participantID, token string) {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost, "/api/sessions", map[string]any{
		"display_name": name,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	session := body["session"].(map[string]any)
	return session["id"].(string), body["participant_id"].(string), body["token"].(string)
}

func joinPlayer(t *testing.T, ts *httptest.Server, sessionID, name string) (participantID, token string) {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost, "/api/sessions/"+sessionID+"/join", map[string]any{
		"display_name": name,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	return body["participant_id"].(string), body["token"].(string)
}

func fetchSnapshot(t *testing.T, ts *httptest.Server, sessionID string) map[string]any {
	t.Helper()
	resp := doRequest(t, ts, http.MethodGet, "/api/sessions/"+sessionID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	return decodeBody(t, resp)
}

func pullSecrets(t *testing.T, ts *httptest.Server, sessionID, participantID, token string) []map[string]any {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost, "/api/sessions/"+sessionID+"/secrets/"+participantID+"/pull", map[string]any{
		"token": token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	raw := body["messages"].([]any)
	messages := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		messages = append(messages, entry.(map[string]any))
	}
	return messages
}

// pullRole drains a participant's mailbox and returns the role from their
// role assignment message.
func pullRole(t *testing.T, ts *httptest.Server, sessionID, participantID, token string) string {
	t.Helper()
	for _, message := range pullSecrets(t, ts, sessionID, participantID, token) {
		if message["kind"].(string) != "role_assignment" {
			continue
		}
		payload := message["payload"].(map[string]any)
		return payload["role"].(string)
	}
	t.Fatalf("no role assignment delivered participant_id=%s", participantID)
	return ""
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}
