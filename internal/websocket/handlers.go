package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/realtime-interview-relay/internal/config"
	"github.com/raihanakbr/realtime-interview-relay/internal/events"
	"github.com/raihanakbr/realtime-interview-relay/internal/logging"
	"github.com/raihanakbr/realtime-interview-relay/internal/observability/metrics"
)

// Server accepts client connections on the relay path and runs one
// RelaySession per connection. It holds the backend credential; clients never
// see it.
type Server struct {
	cfg       *config.Config
	dialer    WebsocketDialer
	registry  *Registry
	metrics   *metrics.Metrics
	publisher *events.Publisher
	upgrader  websocket.Upgrader
	wg        sync.WaitGroup
	log       zerolog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithDialer replaces the dialer used to reach the realtime backend.
func WithDialer(d WebsocketDialer) Option {
	return func(s *Server) { s.dialer = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithPublisher(p *events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// NewServer creates a relay server for cfg.
func NewServer(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		registry: NewRegistry(),
		metrics:  metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  ReadBufferSize,
			WriteBufferSize: WriteBufferSize,
			// Client and relay may be served from different origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("relay-server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the relay listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get(s.cfg.RelayPath, s.HandleWebSocketConnection)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeHTTPError(w, http.StatusNotFound, "not found", "no relay endpoint at "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeHTTPError(w, http.StatusMethodNotAllowed, "method not allowed", "the relay endpoint only accepts websocket upgrades")
	})

	return r
}

// HandleWebSocketConnection upgrades the request and runs its relay session
// until both sockets are closed.
func (s *Server) HandleWebSocketConnection(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		writeHTTPError(w, http.StatusUpgradeRequired, "upgrade required", "connect with a websocket client")
		return
	}

	sessionID := r.URL.Query().Get(ConnectionIDParam)
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	if _, exists := s.registry.Get(sessionID); exists {
		writeHTTPError(w, http.StatusConflict, "session conflict", "connection id "+sessionID+" is already in use")
		return
	}

	clientWS, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	clientWS.SetReadLimit(MaxClientMessageBytes)

	rs := newRelaySession(s, sessionID, clientWS)
	if err := s.registry.Add(rs); err != nil {
		s.log.Warn().Err(err).Msg("Rejecting duplicate session")
		_ = clientWS.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection id in use"),
			time.Now().Add(s.closeGrace()))
		_ = clientWS.Close()
		return
	}

	s.metrics.RecordSessionStart()
	s.log.Info().Str("sessionId", sessionID).Str("remoteAddr", r.RemoteAddr).Msg("New client connected")

	s.wg.Add(1)
	defer s.wg.Done()
	rs.Run()
}

// Sessions returns the number of live relay sessions.
func (s *Server) Sessions() int {
	return s.registry.Len()
}

// Session returns the live session with id, if any.
func (s *Server) Session(id string) (*RelaySession, bool) {
	return s.registry.Get(id)
}

// Shutdown closes every live session and waits for them to release their
// sockets or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.CloseAll(ReasonShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) closeGrace() time.Duration {
	if s.cfg.CloseGrace > 0 {
		return s.cfg.CloseGrace
	}
	return DefaultCloseGrace
}

// corsMiddleware allows any origin and answers preflight requests on every path.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, X-Requested-With")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// httpError is the error body returned for non-upgrade HTTP requests.
type httpError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeHTTPError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(httpError{Error: msg, Details: details})
}
