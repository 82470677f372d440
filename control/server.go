// Package control exposes a running ducker session over HTTP and websocket
// so a UI can read statistics and toggle processing.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-ducker/logging"
	"github.com/RyanBlaney/sonido-ducker/observe"
	"github.com/RyanBlaney/sonido-ducker/processing"
	"github.com/gorilla/websocket"
)

// Message types understood or emitted on the websocket.
const (
	TypeGetState     = "GET_STATE"
	TypeSetState     = "SET_STATE"
	TypeGetStats     = "GET_STATS"
	TypeState        = "STATE"
	TypeStateChanged = "STATE_CHANGED"
	TypeStats        = "STATS"
	TypeError        = "ERROR"
)

// Message is the envelope for every websocket frame in both directions.
type Message struct {
	Type    string               `json:"type"`
	Enabled *bool                `json:"enabled,omitempty"`
	Data    *processing.Snapshot `json:"data,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// stateBody is the JSON body of GET and POST /state.
type stateBody struct {
	Enabled *bool `json:"enabled"`
}

// Controller is the part of the processing loop the server drives.
type Controller interface {
	SetEnabled(enabled bool)
	Enabled() bool
	Stats() processing.Snapshot
}

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Server serves the control endpoints.
type Server struct {
	ctrl          Controller
	logger        logging.Logger
	metrics       *observe.Metrics
	statsInterval time.Duration
	upgrader      websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithStatsInterval sets how often STATS messages are pushed to websocket
// clients. Zero disables the push.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Server) {
		s.statsInterval = d
	}
}

// NewServer creates a control server for ctrl.
func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:          ctrl,
		statsInterval: time.Second,
		clients:       make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local control surface; browsers on any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithFields(logging.Fields{"component": "control_server"})
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /state", s.handleGetState)
	mux.HandleFunc("POST /state", s.handleSetState)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	return observe.Middleware(s.metrics, s.logger)(mux)
}

// Run pushes periodic STATS messages until ctx is cancelled, then closes all
// websocket clients.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeClients()

	if s.statsInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.broadcast(s.statsMessage())
		}
	}
}

// SetEnabled toggles the controller and notifies every websocket client.
func (s *Server) SetEnabled(enabled bool) {
	s.ctrl.SetEnabled(enabled)
	s.logger.Info("processing state changed", logging.Fields{"enabled": enabled})
	s.broadcast(Message{Type: TypeStateChanged, Enabled: &enabled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	enabled := s.ctrl.Enabled()
	writeJSON(w, http.StatusOK, stateBody{Enabled: &enabled})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var body stateBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled is required"})
		return
	}

	s.SetEnabled(*body.Enabled)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "Failed to upgrade connection")
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBuffer)}
	s.register(c)
	defer s.unregister(c)

	go c.writePump(s.logger)
	s.readPump(c)
}

// readPump dispatches requests from one client until the connection fails.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", logging.Fields{"error": err.Error()})
			}
			return
		}

		switch msg.Type {
		case TypeGetState:
			enabled := s.ctrl.Enabled()
			s.reply(c, Message{Type: TypeState, Enabled: &enabled})
		case TypeSetState:
			if msg.Enabled == nil {
				s.reply(c, Message{Type: TypeError, Error: "enabled is required"})
				continue
			}
			// The broadcast carries STATE_CHANGED to this client as well.
			s.SetEnabled(*msg.Enabled)
		case TypeGetStats:
			s.reply(c, s.statsMessage())
		default:
			s.reply(c, Message{Type: TypeError, Error: "unknown message type " + msg.Type})
		}
	}
}

func (s *Server) statsMessage() Message {
	snap := s.ctrl.Stats()
	return Message{Type: TypeStats, Data: &snap}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// reply queues msg for c if it is still registered.
func (s *Server) reply(c *client, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		c.trySend(msg)
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.trySend(msg)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// client is one websocket connection. send is closed by the server when the
// client is unregistered, which ends writePump.
type client struct {
	conn *websocket.Conn
	send chan Message
}

// trySend queues msg unless the client is too slow to keep up. Callers hold
// the server lock.
func (c *client) trySend(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump(logger logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", logging.Fields{"error": err.Error()})
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
