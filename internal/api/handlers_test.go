package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"botguard/internal/budget"
	"botguard/internal/domain"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t, budget.Limits{DailyCostCeiling: 10})
	server := httptest.NewServer(env.supervisor.Routes())
	t.Cleanup(server.Close)
	return env, server
}

func TestStateEndpoint(t *testing.T) {
	env, server := newTestServer(t)
	env.submitPending(t)

	resp, err := http.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(state.Bots) != 2 || len(state.Pending) != 1 {
		t.Errorf("state = %d bots, %d pending", len(state.Bots), len(state.Pending))
	}
}

func TestCommandEndpoint(t *testing.T) {
	_, server := newTestServer(t)

	body, _ := json.Marshal(CommandRequest{Text: "budget"})
	resp, err := http.Post(server.URL+"/api/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/command failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var cmdResp CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmdResp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !strings.Contains(cmdResp.Reply, "daily") {
		t.Errorf("reply = %q", cmdResp.Reply)
	}
}

func TestCommandEndpointBadCommand(t *testing.T) {
	env, server := newTestServer(t)
	env.analyst.Err = nil

	body, _ := json.Marshal(CommandRequest{Text: "pause ghost"})
	resp, err := http.Post(server.URL+"/api/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/command failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestApproveEndpoint(t *testing.T) {
	env, server := newTestServer(t)
	a := env.submitPending(t)

	resp, err := http.Post(server.URL+"/api/approve/"+a.ID, "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/approve failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got domain.Action
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
}

func TestRejectEndpointUnknownID(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/reject/nope", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/reject failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestEventsWebsocket(t *testing.T) {
	env, server := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// Registration happens in the server handler after the handshake.
	hub := env.supervisor.Hub()
	for i := 0; i < 100; i++ {
		hub.mu.Lock()
		registered := len(hub.clients) > 0
		hub.mu.Unlock()
		if registered {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := domain.ChatEvent{
		At:      env.now,
		Source:  "supervisor",
		Level:   domain.LevelWarning,
		Message: "alpha drifted on stake_size",
	}
	env.supervisor.HandleEvent(sent)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got domain.ChatEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Message != sent.Message || got.Level != sent.Level {
		t.Errorf("got %+v, want %+v", got, sent)
	}
}
