package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/models"
)

// MockDashboard pushes canned snapshots to every subscriber
type MockDashboard struct {
	server       *httptest.Server
	upgrader     websocket.Upgrader
	mu           sync.Mutex
	connections  []*websocket.Conn
	shouldAccept bool
	closeAfterN  int // close connection after N frames
	queries      []string
	pushes       []*models.Message
}

func NewMockDashboard(pushes ...*models.Message) *MockDashboard {
	mock := &MockDashboard{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		shouldAccept: true,
		pushes:       pushes,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleWebSocket))
	return mock
}

func (m *MockDashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	accept := m.shouldAccept
	m.queries = append(m.queries, r.URL.RawQuery)
	m.mu.Unlock()
	if !accept {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()

	for i, msg := range m.pushes {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		if m.closeAfterN > 0 && i+1 >= m.closeAfterN {
			return
		}
	}

	// hold the connection open until the client leaves
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *MockDashboard) URL() string {
	return m.server.URL
}

func (m *MockDashboard) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

func (m *MockDashboard) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func (m *MockDashboard) Close() {
	m.mu.Lock()
	for _, conn := range m.connections {
		conn.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

func snapshotMessage(t *testing.T, rows int) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(models.MessageTypeSnapshot, models.Snapshot{TotalRows: rows})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	return msg
}

// snapshotRecorder collects snapshots delivered to the handler
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []*models.Snapshot
}

func (r *snapshotRecorder) handle(s *models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// Helper to create test watcher
func createTestWatcher(t *testing.T, serverURL string, onSnapshot SnapshotHandler) *Watcher {
	t.Helper()
	config := WatcherConfig{
		URL:                  serverURL,
		ReconnectInterval:    50 * time.Millisecond,
		MaxReconnectInterval: 400 * time.Millisecond,
		ReadTimeout:          2 * time.Second,
	}

	w, err := NewWatcher(config, onSnapshot, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	return w
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// Tests

func TestStreamURL(t *testing.T) {
	tests := []struct {
		raw     string
		pct     int
		want    string
		wantErr bool
	}{
		{"http://localhost:8081", 0, "ws://localhost:8081/ws", false},
		{"https://dash.example.com/", 0, "wss://dash.example.com/ws", false},
		{"ws://localhost:8081/ws", 5, "ws://localhost:8081/ws?contamination=5", false},
		{"ftp://localhost", 0, "", true},
		{"://bad", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := streamURL(tt.raw, tt.pct)
			if (err != nil) != tt.wantErr {
				t.Fatalf("streamURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("streamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewWatcher(t *testing.T) {
	w := createTestWatcher(t, "http://localhost:8081", nil)

	if w.State() != StateDisconnected {
		t.Errorf("Initial state = %v, want %v", w.State(), StateDisconnected)
	}
	if w.IsConnected() {
		t.Error("IsConnected should be false initially")
	}
}

func TestWatcher_Connect_Success(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	w := createTestWatcher(t, server.URL(), nil)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer w.Close()

	if w.State() != StateConnected {
		t.Errorf("State = %v, want %v", w.State(), StateConnected)
	}
	if w.Stats().Connects != 1 {
		t.Errorf("Connects = %d, want 1", w.Stats().Connects)
	}
}

func TestWatcher_Connect_ServerRefuses(t *testing.T) {
	server := NewMockDashboard()
	server.shouldAccept = false
	defer server.Close()

	w := createTestWatcher(t, server.URL(), nil)
	if err := w.Connect(context.Background()); err == nil {
		t.Error("Connect should fail when server refuses")
	}
	if w.IsConnected() {
		t.Error("Should not be connected after failed Connect()")
	}
}

func TestWatcher_ReceivesSnapshots(t *testing.T) {
	server := NewMockDashboard(snapshotMessage(t, 3), snapshotMessage(t, 4))
	defer server.Close()

	rec := &snapshotRecorder{}
	w := createTestWatcher(t, server.URL(), rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return rec.count() == 2 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.snaps[0].TotalRows != 3 || rec.snaps[1].TotalRows != 4 {
		t.Errorf("unexpected snapshots: %+v, %+v", rec.snaps[0], rec.snaps[1])
	}
	if w.Stats().Snapshots != 2 {
		t.Errorf("Snapshots = %d, want 2", w.Stats().Snapshots)
	}
}

func TestWatcher_CountsServerErrors(t *testing.T) {
	errMsg, _ := models.NewMessage(models.MessageTypeError, models.ErrorMessage{Code: "store_unavailable", Message: "x"})
	server := NewMockDashboard(errMsg)
	defer server.Close()

	rec := &snapshotRecorder{}
	w := createTestWatcher(t, server.URL(), rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return w.Stats().ServerErrors == 1 })
	if rec.count() != 0 {
		t.Errorf("handler called %d times for an error frame", rec.count())
	}
}

func TestWatcher_ReconnectsAfterDisconnect(t *testing.T) {
	server := NewMockDashboard(snapshotMessage(t, 1))
	server.closeAfterN = 1
	defer server.Close()

	rec := &snapshotRecorder{}
	w := createTestWatcher(t, server.URL(), rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, 3*time.Second, func() bool { return server.Connections() >= 2 && rec.count() >= 2 })
}

func TestWatcher_SendsContamination(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	w, err := NewWatcher(WatcherConfig{URL: server.URL(), ContaminationPct: 7}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer w.Close()

	queries := server.Queries()
	if len(queries) != 1 || !strings.Contains(queries[0], "contamination=7") {
		t.Errorf("queries = %v, want contamination=7", queries)
	}
}

func TestWatcher_ExponentialBackoff(t *testing.T) {
	w := createTestWatcher(t, "ws://127.0.0.1:1/ws", nil)
	ctx := context.Background()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	for i, expected := range want {
		w.waitBeforeReconnect(ctx)
		if w.currentReconnectInterval != expected {
			t.Errorf("after wait %d interval = %v, want %v", i+1, w.currentReconnectInterval, expected)
		}
	}
}

func TestWatcher_BackoffResetsOnConnect(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	w := createTestWatcher(t, server.URL(), nil)
	w.currentReconnectInterval = 400 * time.Millisecond

	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer w.Close()

	if w.currentReconnectInterval != 50*time.Millisecond {
		t.Errorf("interval = %v, want reset to 50ms", w.currentReconnectInterval)
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnectionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
