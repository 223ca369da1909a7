// Package statusserver is the operational status/health surface (C10): an
// http.ServeMux with /health, /ready, /status, and a /ws live telemetry
// feed. Grounded on scheduler/health.go's three-endpoint shape and
// scheduler/server.go's gorilla/websocket Upgrader + sync.Map client set +
// broadcast-channel fan-out loop, repurposed from miner/price status to
// plant/ESS telemetry. This is an operational probe, not a dashboard (the
// Non-goal this domain excludes is a user-facing UI, not a JSON status
// surface an operator or load balancer can poll).
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StatusProvider supplies the data the JSON endpoints report.
type StatusProvider interface {
	Status() map[string]any
	Ready() bool
}

// Server is disabled (nil) when constructed with port <= 0, matching
// NewHealthServer's early-return for a disabled health server.
type Server struct {
	provider  StatusProvider
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
}

// New builds a Server listening on port, or returns nil if port <= 0.
func New(provider StatusProvider, port int) *Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		provider: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/ws", s.wsHandler)

	return s
}

// Start runs the HTTP server and the broadcast fan-out loop in background
// goroutines. A nil Server is a no-op, so callers never need to check
// whether the status server is enabled before calling Start/Stop.
func (s *Server) Start() {
	if s == nil {
		return
	}
	go s.handleBroadcasts()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("statusserver: %v\n", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	return s.server.Shutdown(ctx)
}

// Broadcast pushes a telemetry row to every connected websocket client,
// called from the meter/ESS pollers' OnRow hooks.
func (s *Server) Broadcast(v any) {
	if s == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default: // drop rather than block a poller on a slow client
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case <-s.done:
			return
		case message := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(key)
				}
				return true
			})
		}
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.clients.Store(conn, struct{}{})

	go func() {
		defer func() {
			s.clients.Delete(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					return
				}
				return
			}
		}
	}()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "healthy"
	code := http.StatusOK
	if !s.provider.Ready() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ready := s.provider.Ready()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.provider.Status())
}
