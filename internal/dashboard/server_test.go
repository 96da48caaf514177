package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/outposthq/outpost/internal/netmon"
	"github.com/outposthq/outpost/internal/syncer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	srv := NewServer(&Config{
		Port:   0, // random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	time.Sleep(100 * time.Millisecond)
	return srv
}

func dial(t *testing.T, srv *Server, ctx context.Context) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerStartStop(t *testing.T) {
	srv := newTestServer(t)
	if srv.Addr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestStopWithoutStart(t *testing.T) {
	srv := NewServer(&Config{
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop before Start failed: %v", err)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, srv, ctx)

	if count := srv.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	srv.publish(MessageTypeSyncStatus, syncer.Snapshot{Status: syncer.StatusSyncing, PendingCount: 4})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeSyncStatus {
		t.Errorf("Expected %s, got %s", MessageTypeSyncStatus, msg.Type)
	}

	var snap syncer.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}
	if snap.Status != syncer.StatusSyncing || snap.PendingCount != 4 {
		t.Errorf("Snapshot mismatch: %+v", snap)
	}
}

func TestNewClientReceivesLatestState(t *testing.T) {
	srv := newTestServer(t)

	// Record state before any client connects.
	st := netmon.State{Status: netmon.StatusOnline, Quality: netmon.QualityGood, CheckedAt: time.Now()}
	srv.lastMu.Lock()
	srv.lastNetwork = &st
	srv.lastMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, srv, ctx)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read replayed state: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeNetworkStatus {
		t.Errorf("Expected %s replay on connect, got %s", MessageTypeNetworkStatus, msg.Type)
	}

	var got netmon.State
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("Failed to unmarshal state: %v", err)
	}
	if got.Status != netmon.StatusOnline || got.Quality != netmon.QualityGood {
		t.Errorf("Replayed state mismatch: %+v", got)
	}
}

func TestMultipleClients(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, srv, ctx)
	}

	if count := srv.ClientCount(); count != len(conns) {
		t.Errorf("Expected %d clients, got %d", len(conns), count)
	}

	srv.publish(MessageTypeSyncStatus, syncer.Snapshot{Status: syncer.StatusIdle})
	for i, conn := range conns {
		if _, _, err := conn.Read(ctx); err != nil {
			t.Errorf("Client %d did not receive the broadcast: %v", i, err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Expected status ok, got %s", body.Status)
	}
}
