// Package proxy implements the optional Proxy Server a bridge can bind
// inside its own process: a minimal MCP HTTP endpoint that re-exposes the
// bridge's upstream session to local tooling (AI sandboxes, other CLIs)
// without handing out the upstream's own credentials.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpbridge/mcpbridge/internal/jsonrpc"
)

// Forwarder serves one JSON-RPC request against the bridge's client core,
// restricted to whatever method surface the bridge chooses to expose.
// bridge.Bridge satisfies this without the proxy package importing it.
type Forwarder interface {
	ForwardMCP(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

// Server is the bearer-protected HTTP MCP endpoint spec §4.9 describes.
type Server struct {
	forwarder Forwarder
	bearer    string
	log       *slog.Logger
	httpSrv   *http.Server
}

// New constructs a Server bound to addr ("host:port"). bearer may be empty,
// in which case every request is accepted unauthenticated — operators are
// expected to bind such a proxy only to loopback. gatherer may be nil, in
// which case /metrics is not served; when served, /metrics requires the
// same bearer as the MCP endpoint.
func New(addr string, forwarder Forwarder, bearer string, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{forwarder: forwarder, bearer: bearer, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if gatherer != nil {
		metricsHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if !s.authorized(r) {
				if r.Header.Get("Authorization") == "" {
					http.Error(w, "missing bearer token", http.StatusUnauthorized)
				} else {
					http.Error(w, "invalid bearer token", http.StatusForbidden)
				}
				return
			}
			metricsHandler.ServeHTTP(w, r)
		})
	}
	mux.HandleFunc("/", s.handleMCP)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving the proxy until the server is shut down or
// a fatal listen error occurs. A nil return on Shutdown is the normal exit.
func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the proxy's HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMCP serves the single MCP endpoint: POST carries a JSON-RPC
// request, DELETE is a no-op session-termination acknowledgment, GET is
// not supported (the proxy never pushes server-initiated notifications
// of its own — those are a concern of the upstream transport, not this
// re-exposition layer).
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		s.handleHealth(w, r)
		return
	}

	if !s.authorized(r) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
		} else {
			http.Error(w, "invalid bearer token", http.StatusForbidden)
		}
		return
	}

	switch r.Method {
	case http.MethodDelete:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"session terminated"}`))
	case http.MethodPost:
		s.handleJSONRPC(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// authorized reports whether the request presents the configured bearer.
// A Server constructed with no bearer accepts every request.
func (s *Server) authorized(r *http.Request) bool {
	if s.bearer == "" {
		return true
	}
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return false
	}
	return h[len(prefix):] == s.bearer
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req, _, _, err := jsonrpc.Unmarshal(body)
	if err != nil || req == nil {
		http.Error(w, "malformed json-rpc request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp := s.forwarder.ForwardMCP(ctx, req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("proxy: encode response", "err", err)
	}
}
