package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HTTPServer serves /metrics and the health probes. It is disabled when no
// listen address is configured.
type HTTPServer struct {
	addr    string
	srv     *http.Server
	logger  *zap.Logger
	domains Domains
}

// NewHTTPServer creates the metrics and health server.
func NewHTTPServer(cfg *config.Config, domains Domains, logger *zap.Logger) *HTTPServer {
	h := &HTTPServer{addr: cfg.Metrics.Listen, logger: logger.Named("http"), domains: domains}
	h.srv = &http.Server{
		Addr:              h.addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Router returns the HTTP routes.
func (h *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(h.logRequests)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	return r
}

func (h *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			h.logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

type domainHealth struct {
	Domain    string `json:"domain"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (h *HTTPServer) report() ([]domainHealth, bool) {
	out := make([]domainHealth, 0, len(h.domains))
	ready := len(h.domains) > 0
	for _, m := range h.domains.Managers() {
		out = append(out, domainHealth{
			Domain:    m.Domain(),
			State:     string(m.State()),
			Connected: m.Connected(),
			Error:     m.Error(),
		})
		ready = ready && m.Connected()
	}
	return out, ready
}

// healthz reports liveness with per-domain connection detail. It is always 200.
func (h *HTTPServer) healthz(w http.ResponseWriter, _ *http.Request) {
	domains, _ := h.report()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "domains": domains})
}

// readyz is 200 only while every domain is connected.
func (h *HTTPServer) readyz(w http.ResponseWriter, _ *http.Request) {
	domains, ready := h.report()
	code, status := http.StatusOK, "ready"
	if !ready {
		code, status = http.StatusServiceUnavailable, "not ready"
	}
	writeJSON(w, code, map[string]any{"status": status, "domains": domains})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens and serves until Stop. It returns at once when disabled.
func (h *HTTPServer) Start() error {
	if h.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (h *HTTPServer) Stop(ctx context.Context) error {
	if h.addr == "" {
		return nil
	}
	return h.srv.Shutdown(ctx)
}
