package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// maxRequestBody caps request bodies accepted by Server.
const maxRequestBody = 8 << 20

// Submitter delivers intercept events. Implemented by *Runtime.
type Submitter interface {
	Submit(ctx context.Context, ev Event) (*Response, error)
}

// Server is the HTTP front of the proxy. Every inbound request becomes an
// InterceptEvent and the worker's answer is written back.
type Server struct {
	runtime Submitter
}

// NewServer creates a Server.
func NewServer(rt Submitter) *Server {
	return &Server{runtime: rt}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxRequestBody {
		slog.Warn("request body too large", "method", r.Method, "url", r.URL.RequestURI())
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	req := &Request{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
		Header: r.Header.Clone(),
		Body:   body,
	}

	resp, err := s.runtime.Submit(r.Context(), InterceptEvent{Request: req})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("intercept failed", "method", req.Method, "url", req.URL, "error", err)
		http.Error(w, "proxy error", http.StatusBadGateway)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(SourceHeader, string(resp.Source))
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

// ListenAndServe serves the proxy on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("proxy listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("proxy server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("proxy shutdown: %w", err)
		}
		return nil
	}
}
