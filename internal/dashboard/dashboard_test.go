package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	enginesync "github.com/curlos/statly-backend-sub000/internal/sync"
	"github.com/curlos/statly-backend-sub000/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	return server
}

func dialClient(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	// Registration happens just after the handshake; wait for it.
	waitForClients(t, server, 1)
	return conn
}

func waitForClients(t *testing.T, server *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.ClientCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", want, server.ClientCount())
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	server := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	dataJSON, _ := json.Marshal(RunStartedData{RunID: "r1", UserID: "u1", Source: "ticktick"})
	server.Broadcast(Message{Type: MessageTypeRunStarted, Data: dataJSON})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeRunStarted {
		t.Errorf("Message type = %s, want %s", msg.Type, MessageTypeRunStarted)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Broadcast should stamp messages without a timestamp")
	}

	var started RunStartedData
	if err := json.Unmarshal(msg.Data, &started); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if started.RunID != "r1" || started.UserID != "u1" {
		t.Errorf("data = %+v", started)
	}
}

func TestHandlerRunCompleted(t *testing.T) {
	server := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	handler := NewHandler(server, log.New(io.Discard, "", 0))
	handler.RunCompleted("u1", "ticktick", "r1", &enginesync.Report{
		RunID:          "r1",
		UserID:         "u1",
		Source:         "ticktick",
		TasksFetched:   10,
		Tasks:          store.UpsertCounts{Created: 3, Modified: 2, Matched: 5},
		RecordsPatched: 1,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeRunCompleted {
		t.Fatalf("Message type = %s, want %s", msg.Type, MessageTypeRunCompleted)
	}

	var completed RunCompletedData
	if err := json.Unmarshal(msg.Data, &completed); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if completed.TasksFetched != 10 || completed.TasksCreated != 3 || completed.TasksModified != 2 {
		t.Errorf("counters = %+v", completed)
	}
	if completed.RecordsPatched != 1 {
		t.Errorf("RecordsPatched = %d, want 1", completed.RecordsPatched)
	}
}

func TestHandlerRunFailedKinds(t *testing.T) {
	server := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	tests := []struct {
		err  error
		kind string
	}{
		{&enginesync.ConflictError{UserID: "u1", Endpoint: "ticktick"}, "conflict"},
		{&enginesync.AdapterError{Source: "ticktick", Err: errors.New("timeout")}, "adapter"},
		{errors.New("something else"), "internal"},
	}

	for _, tt := range tests {
		handler.RunFailed("u1", "ticktick", "r1", tt.err)

		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}

		var failed RunFailedData
		if err := json.Unmarshal(msg.Data, &failed); err != nil {
			t.Fatalf("Failed to unmarshal data: %v", err)
		}
		if failed.Kind != tt.kind {
			t.Errorf("Kind = %q for %v, want %q", failed.Kind, tt.err, tt.kind)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	server := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	waitForClients(t, server, 1)

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.ClientCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Client count = %d after disconnect, want 0", server.ClientCount())
}

func TestHealthEndpoint(t *testing.T) {
	server := testServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read health response: %v", err)
	}

	var health map[string]any
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("Failed to unmarshal health response: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}
}
