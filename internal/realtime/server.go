package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coderelay/internal/language"
	"coderelay/internal/limiter"
	"coderelay/internal/metrics"
	"coderelay/internal/protocol"
	"coderelay/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	maxMessageSize = 1 << 20
)

var errClientGone = errors.New("client disconnected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Any origin may connect.
	},
}

// Options configures a Server. Languages, Limiter and Metrics may be nil.
type Options struct {
	Sessions       *session.Registry
	Languages      *language.Registry
	Limiter        *limiter.RateLimiter
	Metrics        *metrics.Collector
	StaticDir      string
	SendQueue      int
	OneShotTimeout time.Duration
	Logger         zerolog.Logger
}

// Server binds WebSocket connections to sessions and serves the REST API.
type Server struct {
	sessions       *session.Registry
	languages      *language.Registry
	limiter        *limiter.RateLimiter
	metrics        *metrics.Collector
	staticDir      string
	sendQueue      int
	oneShotTimeout time.Duration
	logger         zerolog.Logger

	// clients maps session IDs to their connection.
	clients   map[string]*client
	clientsMu sync.RWMutex
}

// client is one WebSocket connection. It is the Sender of its session.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	server    *Server
	sessionID string
	logger    zerolog.Logger
}

// New creates a new realtime server.
func New(opts Options) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.OneShotTimeout <= 0 {
		opts.OneShotTimeout = 30 * time.Second
	}
	return &Server{
		sessions:       opts.Sessions,
		languages:      opts.Languages,
		limiter:        opts.Limiter,
		metrics:        opts.Metrics,
		staticDir:      opts.StaticDir,
		sendQueue:      opts.SendQueue,
		oneShotTimeout: opts.OneShotTimeout,
		logger:         opts.Logger.With().Str("component", "realtime").Logger(),
		clients:        make(map[string]*client),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("GET /ws", s.rateLimited(s.handleWebSocket))

	// REST API endpoints.
	mux.HandleFunc("POST /api/execute", s.limited(s.handleExecute))
	mux.HandleFunc("GET /api/languages", s.handleListLanguages)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next)
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return s.limiter.RateMiddleware(next)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket and opens a
// session for it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		send:   make(chan []byte, s.sendQueue),
		closed: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		server: s,
	}

	sess, err := s.sessions.Create(c)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting connection")
		rejectConn(conn, protocol.NewError(session.ErrorCode(err), err.Error()))
		cancel()
		return
	}

	c.sessionID = sess.ID()
	c.logger = s.logger.With().Str("session_id", c.sessionID).Logger()

	s.clientsMu.Lock()
	s.clients[c.sessionID] = c
	s.clientsMu.Unlock()

	// Queued before the pumps start so it is always the first message.
	_ = c.Send(protocol.NewSession(c.sessionID))
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	go c.writePump()
	go c.readPump(sess)
}

// rejectConn writes a final message and closes a connection that never got
// a session.
func rejectConn(conn *websocket.Conn, msg protocol.ServerMessage) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, msg.Code)
	conn.WriteMessage(websocket.CloseMessage, closeMsg)
}

// Send queues a message for the connection. It blocks while the queue is
// full and fails once the connection is closed.
func (c *client) Send(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errClientGone
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errClientGone
	}
}

// close stops the connection. Queued messages are still flushed by the
// write pump.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump(sess *session.Session) {
	defer c.server.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		msg, err := protocol.DecodeClientMessage(message)
		if err != nil {
			c.logger.Warn().Err(err).Msg("closing connection after malformed message")
			_ = c.Send(protocol.NewError(protocol.CodeInvalidMessage, err.Error()))
			return
		}

		// Errors have already been reported to the client by the session.
		if err := sess.Handle(c.ctx, msg); err != nil {
			if errors.Is(err, session.ErrTerminated) {
				return
			}
			c.logger.Debug().Err(err).Str("type", msg.Type).Msg("request rejected")
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.closed:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still queued.
func (c *client) flush() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// removeClient cleans up a disconnected client and its session.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if s.clients[c.sessionID] == c {
		delete(s.clients, c.sessionID)
	}
	s.clientsMu.Unlock()

	c.close()
	s.sessions.Remove(c.sessionID)
	c.logger.Info().Msg("client disconnected")
}

// disconnect closes the connection bound to sessionID, if any.
func (s *Server) disconnect(sessionID string) {
	s.clientsMu.RLock()
	c, ok := s.clients[sessionID]
	s.clientsMu.RUnlock()
	if ok {
		c.close()
	}
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Shutdown closes every connection and terminates all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	return s.sessions.Shutdown(ctx)
}
