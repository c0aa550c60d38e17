package admin

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	clientBacklog = 64
)

// Event is a message written to /events subscribers
type Event struct {
	Type      string            `json:"type"`
	RunID     string            `json:"run_id,omitempty"`
	Failure   *pipeline.Failure `json:"failure,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Hub fans worker failures out to WebSocket subscribers. Publish never
// blocks: a subscriber whose backlog is full misses the event.
type Hub struct {
	runID    string
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	conn    *websocket.Conn
	send    chan Event
	done    chan struct{}
	once    sync.Once
	dropped int
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// NewHub creates a hub. Origins are checked against allowed; "*" or an
// empty list allows every origin.
func NewHub(runID string, allowed []string, logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	h := &Hub{
		runID:   runID,
		logger:  logger,
		metrics: metrics,
		clients: make(map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowed)}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Publish queues a failure for every subscriber. It satisfies
// pipeline.FailureObserver.
func (h *Hub) Publish(f pipeline.Failure) {
	event := Event{Type: "failure", RunID: h.runID, Failure: &f, Timestamp: f.At.Unix()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		select {
		case s.send <- event:
		default:
			s.dropped++
		}
	}
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		clients = append(clients, s)
	}
	h.mu.Unlock()

	for _, s := range clients {
		s.close()
	}
}

// HandleConnection upgrades the request and streams events until the peer
// goes away or the hub is closed.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s := &subscriber{
		conn: conn,
		send: make(chan Event, clientBacklog),
		done: make(chan struct{}),
	}
	if !h.add(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer h.remove(s)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	go h.readLoop(s)
	h.writeLoop(s)
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.clients, s)
	dropped := s.dropped
	h.mu.Unlock()

	s.close()
	if dropped > 0 {
		h.logger.Warn("Subscriber missed events", zap.Int("dropped", dropped))
	}
}

// readLoop consumes control frames so pings and closes are processed
func (h *Hub) readLoop(s *subscriber) {
	defer s.close()

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.write(s, Event{Type: "system", RunID: h.runID, Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	for {
		select {
		case event := <-s.send:
			if err := h.write(s, event); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) write(s *subscriber, event Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(event); err != nil {
		h.logger.Debug("WebSocket write failed", zap.Error(err))
		return err
	}
	return nil
}
