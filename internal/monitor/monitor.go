// Package monitor serves the engine's live status over HTTP: a JSON
// snapshot endpoint backed by a mutex-guarded "latest value" cache, and
// a websocket stream that pushes the combined snapshot plus per-class
// voter state (subscription count, elected instance, failover count)
// on every Broadcast call via upgrader.Upgrade/conn.WriteJSON.
// Vibration state is not part of the report.
package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabsflight/sensorvote/internal/combined"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClassStatus mirrors internal/panel.ClassStatus's shape for JSON
// serialization without importing internal/panel (keeping monitor
// transport-only).
type ClassStatus struct {
	Class         string `json:"class"`
	SubCount      int    `json:"sub_count"`
	Best          int    `json:"best"`
	FailoverCount int    `json:"failover_count"`
}

// StatusReport is what /api/status and the websocket stream both send.
type StatusReport struct {
	Snapshot combined.Snapshot `json:"snapshot"`
	Classes  []ClassStatus     `json:"classes"`
}

// Source supplies the latest status report; internal/engine implements
// it by returning the mutex-guarded report it rebuilds on every
// published tick from the snapshot and each class's validator group
// state.
type Source interface {
	Status() StatusReport
}

// Server is the HTTP+websocket status server.
type Server struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	src Source
}

// New creates a Server reading status from src.
func New(src Source) *Server {
	return &Server{src: src, clients: make(map[*websocket.Conn]struct{})}
}

// Handler returns the http.Handler exposing /api/status and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.src.Status()); err != nil {
		log.Printf("monitor: encode status: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: websocket upgrade error: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain reads until the client disconnects; the monitor is
	// push-only and has no client->server protocol, matching spec.md's
	// "live status server" rather than a request/response API.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes the current status to every connected websocket
// client. Called once per engine tick.
func (s *Server) Broadcast() {
	report := s.src.Status()

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(report); err != nil {
			log.Printf("monitor: websocket write error: %v", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}
