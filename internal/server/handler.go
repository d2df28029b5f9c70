package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 4
)

// Hub pushes a fresh snapshot to every connected browser on each refresh
type Hub struct {
	dashboard      *Dashboard
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	allowedOrigins []string
	interval       time.Duration

	clients map[*viewer]struct{}
	mutex   sync.RWMutex

	statsMu    sync.Mutex
	broadcasts int64
	dropped    int64
}

// viewer is one connected browser
type viewer struct {
	conn          *websocket.Conn
	send          chan *models.Message
	contamination float64
	connectedAt   time.Time
}

// HubStats contains statistics about the hub
type HubStats struct {
	Viewers    int   `json:"viewers"`
	Broadcasts int64 `json:"broadcasts"`
	Dropped    int64 `json:"dropped"`
}

// NewHub creates a websocket hub refreshing at the dashboard interval
func NewHub(dashboard *Dashboard, logger zerolog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		dashboard:      dashboard,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		interval:       dashboard.Settings().RefreshInterval,
		clients:        make(map[*viewer]struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}
	// Same host as the dashboard page
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the request and streams snapshots until the browser leaves.
// The optional contamination query (percent) applies to this viewer only.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	contamination, err := ParseContamination(r.URL.Query().Get("contamination"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	v := &viewer{
		conn:          conn,
		send:          make(chan *models.Message, sendBuffer),
		contamination: contamination,
		connectedAt:   time.Now(),
	}
	// first frame straight away so the page does not wait a full interval
	if msg := h.buildMessage(r.Context(), contamination); msg != nil {
		v.send <- msg
	}
	h.addViewer(v)

	go h.writePump(v)
	h.readPump(v)
}

// readPump discards client frames and detects disconnects
func (h *Hub) readPump(v *viewer) {
	defer h.removeViewer(v)

	v.conn.SetReadLimit(4096)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// writePump sends queued messages and keepalive pings
func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("Failed to send snapshot")
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Run broadcasts on every refresh tick until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.Broadcast(ctx)
		}
	}
}

// Broadcast builds one snapshot per distinct contamination in use and
// queues it for each viewer. Slow viewers miss the frame.
func (h *Hub) Broadcast(ctx context.Context) {
	h.mutex.RLock()
	wanted := make(map[float64]struct{})
	for v := range h.clients {
		wanted[v.contamination] = struct{}{}
	}
	h.mutex.RUnlock()

	if len(wanted) == 0 {
		return
	}

	built := make(map[float64]*models.Message, len(wanted))
	for c := range wanted {
		built[c] = h.buildMessage(ctx, c)
	}

	// queues are only closed under the write lock
	var sent, dropped int64
	h.mutex.RLock()
	for v := range h.clients {
		msg := built[v.contamination]
		if msg == nil {
			continue
		}
		select {
		case v.send <- msg:
			sent++
		default:
			dropped++
		}
	}
	h.mutex.RUnlock()

	h.statsMu.Lock()
	h.broadcasts++
	h.dropped += dropped
	h.statsMu.Unlock()

	h.logger.Debug().Int64("sent", sent).Int64("dropped", dropped).Msg("Snapshot broadcast")
}

func (h *Hub) buildMessage(ctx context.Context, contamination float64) *models.Message {
	var (
		msg *models.Message
		err error
	)
	snap, serr := h.dashboard.Snapshot(ctx, contamination)
	if serr != nil {
		msg, err = models.NewMessage(models.MessageTypeError, models.ErrorMessage{
			Code:    "store_unavailable",
			Message: "history table could not be loaded",
		})
	} else {
		msg, err = models.NewMessage(models.MessageTypeSnapshot, snap)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create message")
		return nil
	}
	return msg
}

func (h *Hub) addViewer(v *viewer) {
	h.mutex.Lock()
	h.clients[v] = struct{}{}
	count := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info().Str("remote", v.conn.RemoteAddr().String()).Int("viewers", count).Msg("Viewer connected")
}

// removeViewer closes the viewer's queue so its writePump exits
func (h *Hub) removeViewer(v *viewer) {
	h.mutex.Lock()
	if _, ok := h.clients[v]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, v)
	close(v.send)
	count := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info().
		Str("remote", v.conn.RemoteAddr().String()).
		Dur("connected_for", time.Since(v.connectedAt)).
		Int("viewers", count).
		Msg("Viewer disconnected")
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for v := range h.clients {
		delete(h.clients, v)
		close(v.send)
	}
}

// Stats returns current hub statistics
func (h *Hub) Stats() HubStats {
	h.mutex.RLock()
	viewers := len(h.clients)
	h.mutex.RUnlock()

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return HubStats{
		Viewers:    viewers,
		Broadcasts: h.broadcasts,
		Dropped:    h.dropped,
	}
}
