// Package app wires the HTTP surface: the websocket endpoint, the health
// and stats endpoints, and the fallback 404 page.
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"ygame/internal/client"
	"ygame/internal/lobby"
	"ygame/internal/stats"
	"ygame/pkg/config"
	"ygame/pkg/logger"
)

// Server owns the HTTP listener and hands accepted websocket connections
// to client actors.
type Server struct {
	httpServer *http.Server
	lobby      *lobby.Lobby
	recorder   *stats.Recorder
	upgrader   websocket.Upgrader
	clientCfg  client.Config
	log        *logger.ColoredLogger
}

// NewServer builds the HTTP server around an already-started lobby. The
// recorder may be nil.
func NewServer(cfg *config.Config, lb *lobby.Lobby, recorder *stats.Recorder) *Server {
	s := &Server{
		lobby:    lb,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clientCfg: client.Config{
			HeartbeatInterval: cfg.WebSocket.HeartbeatInterval.Std(),
			ClientTimeout:     cfg.WebSocket.ClientTimeout.Std(),
			RequestTimeout:    cfg.WebSocket.RequestTimeout.Std(),
			WriteTimeout:      cfg.WebSocket.WriteTimeout.Std(),
			MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		},
		log: logger.ServerLogger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/websocket", s.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if recorder != nil {
		router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	}
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	// No ReadTimeout here: hijacked websocket connections manage their own
	// deadlines in the client pumps.
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop or a listener error.
func (s *Server) Start() error {
	s.log.Info("Listening to %s...", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade connection: %v", err)
		return
	}
	s.log.Info("New client connection from %s", r.RemoteAddr)

	c := client.New(conn, s.lobby, s.clientCfg)
	if err := c.Start(); err != nil {
		s.log.Warn("Unable to register client with lobby: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.recorder.Summarize()
	if err != nil {
		s.log.Error("Unable to summarize stats: %v", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("404 not found request %s", r.URL.Path)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("<h1>Error 404</h1>"))
}
