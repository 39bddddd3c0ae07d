// Package proxy is the development server browsers load pages through. It
// forwards every request to the upstream site, adds the live-reload client to
// HTML responses and serves the live-reload socket.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/assetpipe/internal/logging"
)

// Reserved paths. Everything else goes upstream.
const (
	SocketPath  = "/__assetpipe/ws"
	MetricsPath = "/__assetpipe/metrics"
)

// Options wires the server's collaborators. Upstream is required.
type Options struct {
	Upstream *url.URL
	// Socket handles live-reload websocket upgrades.
	Socket http.Handler
	// Client is the script served at ClientPath.
	Client []byte
	// Metrics is mounted at MetricsPath when set.
	Metrics http.Handler
	Logger  logging.Logger
}

// Server owns the HTTP listener.
//
// Invariants:
//   - httpServer is set by New and never replaced
//   - isShutdown is only touched under serverMutex
type Server struct {
	httpServer  *http.Server
	mux         *http.ServeMux
	logger      logging.Logger
	serverMutex sync.RWMutex
	isShutdown  bool
}

// New builds a server listening on addr.
func New(addr string, opts Options) (*Server, error) {
	if opts.Upstream == nil {
		return nil, fmt.Errorf("proxy: upstream URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: opts.Logger.WithComponent("proxy"),
	}
	s.registerRoutes(opts)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes(opts Options) {
	if opts.Socket != nil {
		s.mux.Handle(SocketPath, opts.Socket)
	}
	if opts.Client != nil {
		client := opts.Client
		s.mux.HandleFunc(ClientPath, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			_, _ = w.Write(client)
		})
	}
	if opts.Metrics != nil {
		s.mux.Handle(MetricsPath, opts.Metrics)
	}
	s.mux.Handle("/", s.reverseProxy(opts.Upstream))
}

func (s *Server) reverseProxy(upstream *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// Compressed bodies cannot be rewritten.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: injectClient,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn(r.Context(), err, "Upstream request failed", "path", r.URL.Path, "upstream", upstream.String())
			http.Error(w, "Bad Gateway: "+upstream.String()+" is not reachable", http.StatusBadGateway)
		},
	}
}

// injectClient adds the live-reload script tag to uncompressed HTML bodies.
func injectClient(resp *http.Response) error {
	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read upstream body: %w", err)
	}
	_ = resp.Body.Close()

	body = InjectScript(body, ScriptTag)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("ETag")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Handler returns the routed handler, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.RLock()
	shut := s.isShutdown
	s.serverMutex.RUnlock()
	if shut {
		return fmt.Errorf("proxy: server has been shut down")
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	s.logger.Info(ctx, "Proxy listening", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Shutdown stops the listener and drains open requests. It is idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	if s.isShutdown {
		return nil
	}
	s.isShutdown = true
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	return nil
}
