// Package diag exposes the loopback diagnostics surface described by the
// control plane: a health check, a snapshot of session statistics and a
// push stream of the same over WebSocket, for a local dashboard or
// monitoring agent to poll. It is not the excluded remote GUI shell; it
// never accepts keying control, only observes.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/session"
)

// SnapshotFunc returns the current session statistics. It is supplied by
// the caller (client or server main) rather than owned here, since diag
// has no business holding the session itself.
type SnapshotFunc func() session.Snapshot

// Server is the loopback HTTP/WebSocket diagnostics surface.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	snapshot   SnapshotFunc
	log        *logrus.Entry

	jwtSecret []byte // nil disables bearer auth

	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	startTime time.Time
}

// New constructs a Server. jwtSecret may be nil to disable auth, suitable
// for a loopback-only deployment; any non-nil secret requires callers to
// present a valid HS256 bearer token signed with it.
func New(addr string, snapshot SnapshotFunc, jwtSecret []byte, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		router:    mux.NewRouter(),
		snapshot:  snapshot,
		log:       log,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		startTime: time.Now(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	protected := s.router.PathPrefix("").Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	protected.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
}

// authMiddleware enforces a Bearer HS256 token when jwtSecret is set; it
// is a no-op otherwise.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == nil {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenStr := header[len(prefix):]
		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.jwtSecret, nil
		})
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken mints a bearer token for diag clients, valid for ttl. Useful
// for a provisioning flow that hands a short-lived token to a dashboard.
func (s *Server) IssueToken(subject string, ttl time.Duration) (string, error) {
	if s.jwtSecret == nil {
		return "", fmt.Errorf("diag: auth is disabled, no secret configured")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.log.WithError(err).Error("failed to encode stats snapshot")
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go s.broadcastLoop()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("diagnostics server stopped")
		}
	}()
}

// Shutdown stops the server and closes any open WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clientsMu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
