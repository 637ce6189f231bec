// Package server exposes the operational surface: a health endpoint, the
// Prometheus metrics and a websocket feed of session state changes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mt5-session-bot/internal/health"
	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/statemanager"
)

// StateUpdate is one websocket frame.
type StateUpdate struct {
	Phase        string             `json:"phase"`
	CurrentTrade *models.TradeState `json:"current_trade,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Server is the HTTP/websocket front of the bot. Everything it serves is
// read-only.
type Server struct {
	addr    string
	monitor *health.Monitor
	sm      *statemanager.StateManager
	phaseFn func() models.Phase

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	httpSrv  *http.Server
}

func NewServer(addr string, monitor *health.Monitor, sm *statemanager.StateManager, phaseFn func() models.Phase) *Server {
	return &Server{
		addr:    addr,
		monitor: monitor,
		sm:      sm,
		phaseFn: phaseFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Start serves in a background goroutine. An empty address disables the
// server entirely.
func (s *Server) Start() {
	if s.addr == "" {
		logger.S().Info("Status server disabled (no listen address configured).")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		logger.S().Infof("Status server listening on %s", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.S().Errorf("Status server failed: %v", err)
		}
	}()
}

// Stop shuts the server down and closes every websocket client.
func (s *Server) Stop() {
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			logger.S().Warnf("Status server shutdown: %v", err)
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := true
	var checks map[string]string
	if s.monitor != nil {
		healthy = s.monitor.Healthy()
		checks = s.monitor.Results()
	}

	body := map[string]interface{}{
		"healthy": healthy,
		"phase":   s.phaseFn().String(),
		"checks":  checks,
	}
	if state := s.sm.GetStateSnapshot(); state != nil && state.CurrentTrade != nil {
		body["current_trade"] = state.CurrentTrade
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.S().Warnf("Failed to encode healthz response: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.S().Warnf("Websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	logger.S().Debugf("Websocket client connected from %s", r.RemoteAddr)

	// Push the current state immediately so the client need not wait for the
	// next transition.
	s.sendTo(conn, s.currentUpdate())

	// Drain reads to detect disconnects; incoming frames are ignored.
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastPhase pushes the current state to every connected client. Wired as
// the bot's phase hook.
func (s *Server) BroadcastPhase(models.Phase) {
	update := s.currentUpdate()
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.sendTo(conn, update)
	}
}

func (s *Server) currentUpdate() StateUpdate {
	update := StateUpdate{
		Phase:     s.phaseFn().String(),
		Timestamp: time.Now(),
	}
	if state := s.sm.GetStateSnapshot(); state != nil {
		update.CurrentTrade = state.CurrentTrade
	}
	return update
}

func (s *Server) sendTo(conn *websocket.Conn, update StateUpdate) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(update); err != nil {
		logger.S().Debugf("Dropping websocket client: %v", err)
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}
}
