// Package server exposes the resolution engine over HTTP, accepts remote
// sensing devices on /ws and advertises itself over mDNS.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/buildinfo"
	"github.com/dotside-studios/seatlink-agent/protocol"
	"github.com/dotside-studios/seatlink-agent/remote"
	"github.com/dotside-studios/seatlink-agent/resolve"
	"github.com/dotside-studios/seatlink-agent/store"
)

// Logf receives server diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

const shutdownTimeout = 5 * time.Second

// Resolver runs resolutions. *resolve.Coordinator satisfies it.
type Resolver interface {
	ResolveFor(ctx context.Context, caller string, req resolve.Request) resolve.Outcome
	Modalities() []beacon.Modality
}

// Registry is the persisted beacon registry. *store.Store satisfies it.
type Registry interface {
	AllowList(ctx context.Context) (beacon.AllowList, error)
	Beacons(ctx context.Context) ([]store.Beacon, error)
}

// CASource returns the local CA certificate in PEM form.
type CASource interface {
	CACert() ([]byte, error)
}

// Config holds the server configuration.
type Config struct {
	Port      int
	APISecret string // Optional; required on /api and /ws when set
	CertFile  string
	KeyFile   string
	MDNS      bool

	// Concurrent is used when a resolve request does not say.
	Concurrent bool
}

// TLSEnabled reports whether a certificate pair is configured.
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Server serves the HTTP API and the device WebSocket.
type Server struct {
	config   Config
	resolver Resolver
	registry Registry
	devices  *remote.Manager
	ca       CASource

	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server
	addr       net.Addr
}

// Option configures optional collaborators.
type Option func(*Server)

// WithRegistry serves the persisted allow-list to requests that carry none.
func WithRegistry(r Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithDevices accepts remote sensing devices on /ws.
func WithDevices(m *remote.Manager) Option {
	return func(s *Server) { s.devices = m }
}

// WithCA serves the local CA on /ca.pem.
func WithCA(ca CASource) Option {
	return func(s *Server) { s.ca = ca }
}

// New creates a server instance.
func New(config Config, resolver Resolver, opts ...Option) *Server {
	s := &Server{
		config:   config,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Phones load the ordering page from another origin
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/resolve", s.enableCORS(s.requireSecret(s.handleResolve)))
	mux.HandleFunc("/api/v1/beacons", s.enableCORS(s.requireSecret(s.handleBeacons)))
	mux.HandleFunc("/ws", s.requireSecret(s.handleWebSocket))
	mux.HandleFunc("/health", s.enableCORS(s.handleHealth))
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	return mux
}

// Start listens on the configured port and serves in the background. The
// returned error covers listening only.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		var err error
		if s.config.TLSEnabled() {
			Logf("[server] Listening on %s (TLS)", ln.Addr())
			err = srv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			Logf("[server] Listening on %s", ln.Addr())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logf("[server] HTTP server error: %v", err)
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			Logf("[server] Warning: failed to start mDNS: %v", err)
		}
	}
	return nil
}

// Addr returns the listening address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop withdraws the mDNS record and shuts the HTTP server down.
func (s *Server) Stop() {
	s.mu.Lock()
	mdns, srv := s.mdnsServer, s.httpServer
	s.mdnsServer, s.httpServer = nil, nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.Shutdown()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			Logf("[server] Shutdown: %v", err)
		}
	}
}

func (s *Server) startMDNS() error {
	scheme := "http"
	if s.config.TLSEnabled() {
		scheme = "https"
	}
	mdns, err := zeroconf.Register(
		MDNSServiceName,
		MDNSServiceType,
		MDNSDomain,
		s.config.Port,
		[]string{
			"version=" + buildinfo.Version,
			"scheme=" + scheme,
			"api=/api/v1/resolve",
			"ws=/ws",
		},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.mu.Lock()
	s.mdnsServer = mdns
	s.mu.Unlock()
	Logf("[server] mDNS service registered: %s on port %d", MDNSServiceType, s.config.Port)
	return nil
}

// enableCORS adds CORS headers.
func (s *Server) enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// requireSecret accepts "Authorization: Bearer <secret>" or ?secret=.
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APISecret == "" || r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		got := r.URL.Query().Get("secret")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			got = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.APISecret)) != 1 {
			Logf("[server] Rejected %s %s from %s: invalid API secret", r.Method, r.URL.Path, r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, protocol.ErrCodeUnauthorized, "invalid API secret")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logf("[server] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg, ErrorCode: code})
}
