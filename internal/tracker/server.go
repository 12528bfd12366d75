package tracker

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultMaxUploadSize caps receipt images and import workbooks. High
// resolution phone photos stay well below it.
const DefaultMaxUploadSize = 50 << 20

// Server handles HTTP requests for the price tracker
type Server struct {
	service       *Service
	basicAuth     BasicAuth
	mux           *http.ServeMux
	scans         *scanGate
	maxUploadSize int64
	logger        *slog.Logger
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:       service,
		basicAuth:     basicAuth,
		mux:           mux,
		scans:         newScanGate(),
		maxUploadSize: DefaultMaxUploadSize,
		logger:        service.logger,
	}
	s.registerRoutes()
	return s
}

// scanGate allows one scan in flight per user.
type scanGate struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newScanGate() *scanGate {
	return &scanGate{inFlight: make(map[string]struct{})}
}

func (g *scanGate) acquire(user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[user]; busy {
		return false
	}
	g.inFlight[user] = struct{}{}
	return true
}

func (g *scanGate) release(user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, user)
}

// credentials extracts the basic auth pair from a request
func credentials(r *http.Request) (string, string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", "", false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	return user, pass, ok
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if !s.basicAuth.enabled() {
		return true // No auth required if not configured
	}

	user, pass, ok := credentials(r)
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// user names the caller for the scan gate.
func (s *Server) user(r *http.Request) string {
	if user, _, ok := credentials(r); ok && s.basicAuth.enabled() {
		return user
	}
	return "anonymous"
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Price Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleScan))
	s.mux.HandleFunc("POST /api/purchases", s.requireAuth(s.handleCommit))
	s.mux.HandleFunc("PUT /api/purchases/{id}", s.requireAuth(s.handleEditPurchase))
	s.mux.HandleFunc("DELETE /api/purchases/{id}", s.requireAuth(s.handleDeletePurchase))

	s.mux.HandleFunc("GET /api/products/{name}/stats", s.requireAuth(s.handleStats))
	s.mux.HandleFunc("POST /api/products/{name}/recompute", s.requireAuth(s.handleRecompute))
	s.mux.HandleFunc("GET /api/products/{name}", s.requireAuth(s.handleGetProduct))
	s.mux.HandleFunc("DELETE /api/products/{name}", s.requireAuth(s.handleDeleteProduct))
	s.mux.HandleFunc("GET /api/products", s.requireAuth(s.handleListProducts))
	s.mux.HandleFunc("POST /api/recompute", s.requireAuth(s.handleRecomputeAll))

	s.mux.HandleFunc("POST /api/import", s.requireAuth(s.handleImport))
	s.mux.HandleFunc("GET /api/export", s.requireAuth(s.handleExport))

	s.mux.HandleFunc("POST /api/backups/{name}/restore", s.requireAuth(s.handleRestore))
	s.mux.HandleFunc("GET /api/backups/{name}", s.requireAuth(s.handleGetBackup))
	s.mux.HandleFunc("DELETE /api/backups/{name}", s.requireAuth(s.handleDeleteBackup))
	s.mux.HandleFunc("GET /api/backups", s.requireAuth(s.handleListBackups))
	s.mux.HandleFunc("POST /api/backups", s.requireAuth(s.handleCreateBackup))
}

// Start serves HTTP on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
