// Package server hosts the device protocol endpoint over HTTP.
package server

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/odvcencio/obvius/pkg/config"
	"github.com/odvcencio/obvius/pkg/logging"
	"github.com/odvcencio/obvius/pkg/obvius"
	"github.com/odvcencio/obvius/pkg/storage"
)

const shutdownTimeout = 5 * time.Second

// Server owns the router and listener for the protocol endpoint.
type Server struct {
	cfg        *config.Config
	logger     *logging.Logger
	store      *storage.Store
	protocol   *obvius.Handler
	router     chi.Router
	httpServer *http.Server
}

// New wires the protocol handler, health check and metrics endpoint. The
// store may be nil, in which case STATUS uploads are only logged.
func New(cfg *config.Config, logger *logging.Logger, store *storage.Store) *Server {
	if logger == nil {
		logger = logging.NewWriterLogger(io.Discard)
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}

	handlerCfg := obvius.HandlerConfig{
		Password:           cfg.Obvius.Password,
		Logger:             logger,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		MaxMultipartMemory: cfg.Server.MaxMultipartMemory,
	}
	if store != nil {
		handlerCfg.Reports = store
		store.AddObserver(storage.ObserverFunc(s.handleStorageEvent))
	}
	s.protocol = obvius.NewHandler(handlerCfg)

	router := chi.NewRouter()
	router.Use(s.loggingMiddleware)

	router.Get("/healthz", s.handleHealthz)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	path := cfg.Server.Path
	if path == "" {
		path = config.DefaultProtocolPath
	}
	router.Handle(path, s.protocol)
	if !strings.HasSuffix(path, "/") {
		router.Handle(path+"/", s.protocol)
	}

	s.router = router
	// h2c lets cleartext HTTP/2 reverse proxies forward without downgrading.
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured bind address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)
	go func() {
		_ = s.logger.Info(logging.CategoryServer, "listening", "serving Obvius protocol", map[string]any{
			"addr": ln.Addr().String(),
			"path": s.cfg.Server.Path,
		})
		if err := s.httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.Shutdown(shutdownCtx)
		_ = s.logger.Info(logging.CategoryServer, "stopped", "server stopped", nil)
		return err
	case err, ok := <-serverErr:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStorageEvent(e storage.Event) {
	if e.Type != storage.EventStatusReportSaved {
		return
	}
	_ = s.logger.Debug(logging.CategoryStorage, string(e.Type), "status report archived", map[string]any{
		"id":     e.EntityID,
		"serial": e.Data,
	})
}

// loggingMiddleware writes one debug access record per request. Query
// strings are never logged since devices put the shared secret there.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		_ = s.logger.Debug(logging.CategoryServer, "http_request", r.Method+" "+r.URL.Path, map[string]any{
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"remote_addr": remoteHost(r.RemoteAddr),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  ww.Header().Get("X-Request-ID"),
		})
	})
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
