package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config configures the gateway HTTP/WebSocket server.
type Config struct {
	Addr         string
	DaemonSocket string
	AuthToken    string        // BRAINPRO_GATEWAY_TOKEN
	DialTimeout  time.Duration
	AllowedOrigins []string
}

// Server terminates client WebSocket connections and multiplexes them onto
// the daemon over its Unix-socket NDJSON protocol.
type Server struct {
	cfg    Config
	router chi.Router

	mu        sync.Mutex
	conns     int
	startedAt time.Time

	metrics *metricsRegistry
}

// NewServer builds a Server and its chi route table.
func NewServer(cfg Config) *Server {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	s := &Server{cfg: cfg, startedAt: time.Now(), metrics: newMetricsRegistry()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.ServeHTTP)
	r.Get("/ws", s.handleWebSocket)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServe starts the HTTP server, shutting down cleanly when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"connections":    conns,
	})
}

// wsAdapter satisfies wsConn for handshake() on top of *websocket.Conn.
type wsAdapter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (a wsAdapter) ReadJSON(v any) error {
	_, data, err := a.conn.Read(a.ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (a wsAdapter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.conn.Write(a.ctx, websocket.MessageText, data)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// clientFrame is the shape browser clients send once past the handshake:
// a thin envelope forwarded verbatim to the daemon as a Request.
type clientFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type clientResponse struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Error("gateway: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "gateway closing")

	ctx, cancel := context.WithTimeout(r.Context(), handshakeTimeout)
	adapter := wsAdapter{conn: conn, ctx: ctx}
	clientID, err := handshake(adapter, s.cfg.AuthToken)
	cancel()
	if err != nil {
		slog.Warn("gateway: handshake failed", "err", err, "remote", r.RemoteAddr)
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		s.metrics.incAuthFailure()
		return
	}

	daemon, err := dialDaemon(s.cfg.DaemonSocket, s.cfg.DialTimeout)
	if err != nil {
		slog.Error("gateway: dial daemon failed", "err", err, "client", clientID)
		conn.Close(websocket.StatusInternalError, "daemon unavailable")
		return
	}
	defer daemon.Close()

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	s.metrics.incConnections()
	defer func() {
		s.mu.Lock()
		s.conns--
		s.mu.Unlock()
		s.metrics.decConnections()
	}()

	streamCtx := r.Context()
	for {
		_, data, err := conn.Read(streamCtx)
		if err != nil {
			slog.Debug("gateway: client disconnected", "client", clientID, "err", err)
			return
		}
		var in clientFrame
		if err := json.Unmarshal(data, &in); err != nil {
			s.writeClientError(streamCtx, conn, "", "InvalidRequest", "malformed frame")
			continue
		}
		go s.forward(streamCtx, conn, daemon, in)
	}
}

func (s *Server) forward(ctx context.Context, conn *websocket.Conn, daemon *daemonClient, in clientFrame) {
	s.metrics.incRequests()
	payload, err := daemon.call(in.Method, in.Params)
	resp := clientResponse{ID: in.ID, OK: err == nil, Payload: payload}
	if err != nil {
		resp.Error = &wireError{Code: "BackendError", Message: err.Error()}
		s.metrics.incFailures()
	}
	b, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	if werr := conn.Write(ctx, websocket.MessageText, b); werr != nil {
		slog.Debug("gateway: write to client failed", "err", werr)
	}
}

func (s *Server) writeClientError(ctx context.Context, conn *websocket.Conn, id, code, msg string) {
	resp := clientResponse{ID: id, OK: false, Error: &wireError{Code: code, Message: msg}}
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, b)
}
