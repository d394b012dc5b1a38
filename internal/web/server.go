// Package web exposes the optional live summary feed while the pipeline runs.
package web

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Server wraps the HTTP server carrying the health endpoint and the summary
// websocket.
type Server struct {
	srv *http.Server
}

// NewServer wires the routes onto addr.
func NewServer(addr string, hub *Hub) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           routes(hub),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func routes(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/summary.json", hub.HandleWebSocket)
	return withLogging(mux)
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("live summary server starting on http://%s/", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("live summary server error: %v", err)
		}
	}()
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		h.ServeHTTP(w, r)
	})
}
