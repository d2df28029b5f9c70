package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SnapshotHandler receives every snapshot pushed by the dashboard
type SnapshotHandler func(*models.Snapshot)

// Watcher subscribes to the dashboard websocket and reconnects with
// exponential backoff when the connection drops
type Watcher struct {
	URL                      string
	conn                     *websocket.Conn
	state                    ConnectionState
	stateMutex               sync.RWMutex
	logger                   zerolog.Logger
	onSnapshot               SnapshotHandler
	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	readTimeout              time.Duration

	statsMutex sync.Mutex
	stats      WatcherStats
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	URL string
	// ContaminationPct is sent as the contamination query; zero keeps the server default.
	ContaminationPct     int
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	// ReadTimeout bounds the silence tolerated between frames or pings.
	ReadTimeout time.Duration
}

// WatcherStats counts what the watcher has seen
type WatcherStats struct {
	Connects     int64
	Snapshots    int64
	ServerErrors int64
	LastSnapshot time.Time
}

// NewWatcher creates a new dashboard subscriber
func NewWatcher(config WatcherConfig, onSnapshot SnapshotHandler, logger zerolog.Logger) (*Watcher, error) {
	target, err := streamURL(config.URL, config.ContaminationPct)
	if err != nil {
		return nil, err
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 2 * time.Minute
	}

	return &Watcher{
		URL:                      target,
		state:                    StateDisconnected,
		logger:                   logger,
		onSnapshot:               onSnapshot,
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		readTimeout:              config.ReadTimeout,
	}, nil
}

// streamURL maps an http(s) dashboard address onto its /ws endpoint
func streamURL(raw string, contaminationPct int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid dashboard url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid dashboard url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if contaminationPct > 0 {
		q := u.Query()
		q.Set("contamination", strconv.Itoa(contaminationPct))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// setState safely updates the connection state
func (w *Watcher) setState(state ConnectionState) {
	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()
	w.state = state
	w.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (w *Watcher) State() ConnectionState {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.state
}

// IsConnected returns true if currently connected
func (w *Watcher) IsConnected() bool {
	return w.State() == StateConnected
}

// Stats returns a copy of the watcher counters
func (w *Watcher) Stats() WatcherStats {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()
	return w.stats
}

// Connect establishes a WebSocket connection to the dashboard
func (w *Watcher) Connect(ctx context.Context) error {
	w.setState(StateConnecting)
	w.logger.Info().Str("url", w.URL).Msg("Connecting to dashboard...")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, w.URL, http.Header{})
	if err != nil {
		w.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	defer resp.Body.Close()

	w.stateMutex.Lock()
	w.conn = conn
	w.stateMutex.Unlock()
	w.setState(StateConnected)
	w.currentReconnectInterval = w.reconnectInterval // reset backoff

	w.statsMutex.Lock()
	w.stats.Connects++
	w.statsMutex.Unlock()

	w.logger.Info().Msg("Connected to dashboard")
	return nil
}

// Run subscribes with auto-reconnect.
// Blocks until context is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.Connect(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("Connection failed")
			w.waitBeforeReconnect(ctx)
			continue
		}

		w.readLoop(ctx)

		if ctx.Err() == nil {
			w.logger.Info().Msg("Connection lost, will reconnect")
		}
		w.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (w *Watcher) waitBeforeReconnect(ctx context.Context) {
	w.logger.Debug().Dur("delay", w.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(w.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	w.currentReconnectInterval *= 2
	if w.currentReconnectInterval > w.maxReconnectInterval {
		w.currentReconnectInterval = w.maxReconnectInterval
	}
}

// readLoop reads frames until the connection fails or ctx is cancelled
func (w *Watcher) readLoop(ctx context.Context) {
	conn := w.conn
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			w.Close()
		case <-done:
		}
	}()
	defer w.disconnect()

	conn.SetReadDeadline(time.Now().Add(w.readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				w.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		w.handleMessage(&msg)
	}
}

// handleMessage processes a message received from the dashboard
func (w *Watcher) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeSnapshot:
		var snap models.Snapshot
		if err := msg.UnmarshalPayload(&snap); err != nil {
			w.logger.Warn().Err(err).Msg("Malformed snapshot")
			return
		}
		w.statsMutex.Lock()
		w.stats.Snapshots++
		w.stats.LastSnapshot = time.Now()
		w.statsMutex.Unlock()
		if w.onSnapshot != nil {
			w.onSnapshot(&snap)
		}
	case models.MessageTypeError:
		w.statsMutex.Lock()
		w.stats.ServerErrors++
		w.statsMutex.Unlock()
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			w.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Dashboard error")
		}
	default:
		w.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

// disconnect closes the WebSocket connection
func (w *Watcher) disconnect() {
	w.stateMutex.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.state = StateDisconnected
	w.stateMutex.Unlock()
	w.logger.Debug().Msg("Connection disconnected")
}

// Close sends a normal closure frame and drops the connection
func (w *Watcher) Close() error {
	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()

	if w.conn != nil {
		w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		w.conn.Close()
	}
	w.state = StateDisconnected
	return nil
}
