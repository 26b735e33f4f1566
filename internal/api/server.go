// Package api serves the REST snapshot routes and WebSocket hub described
// in the view package: a read-only window onto the dispatcher's state.
// Grounded on the teacher's internal/api/server.go (mux routing, cors
// middleware, graceful Start/Stop), retargeted from backtest/data-store
// routes to view.Bus snapshot routes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/view"
)

// ServerConfig configures the view server's listen address, timeouts, and
// allowed CORS origins.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// Server serves the REST snapshot routes and the WebSocket hub.
type Server struct {
	logger     *zap.Logger
	config     ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	bus        *view.Bus
	hub        *Hub
}

// NewServer builds a Server wired to bus. Call Run to start the hub's
// fan-out loop and Start to begin serving HTTP.
func NewServer(logger *zap.Logger, config ServerConfig, bus *view.Bus) *Server {
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		logger: logger.Named("api_server"),
		config: config,
		router: mux.NewRouter(),
		bus:    bus,
		hub:    NewHub(logger, bus),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/systems", s.handleListSystems).Methods("GET")
	s.router.HandleFunc("/api/v1/systems/{epic}", s.handleGetSystem).Methods("GET")
	s.router.HandleFunc("/api/v1/markets/{epic}", s.handleGetMarket).Methods("GET")
	s.router.HandleFunc("/api/v1/atr/{epic}", s.handleGetAtr).Methods("GET")
	s.router.HandleFunc("/api/v1/account", s.handleGetAccount).Methods("GET")
	s.router.HandleFunc("/api/v1/connection", s.handleGetConnection).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Run starts the hub's fan-out loop; call in its own goroutine before
// Start since it blocks and never returns.
func (s *Server) Run() {
	s.hub.Run()
}

// Handler returns the routed, CORS-wrapped http.Handler without binding a
// listener, for use with httptest.NewServer in tests.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start begins serving HTTP; it blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleListSystems(w http.ResponseWriter, r *http.Request) {
	updates := s.bus.SnapshotsWithPrefix("system:")
	writeJSON(w, http.StatusOK, map[string]interface{}{"systems": updates})
}

func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	epic := mux.Vars(r)["epic"]
	update, ok := s.bus.Snapshot("system:" + epic)
	if !ok {
		http.Error(w, "no system state for epic", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	epic := mux.Vars(r)["epic"]
	update, ok := s.bus.Snapshot("market:" + epic)
	if !ok {
		http.Error(w, "no market state for epic", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleGetAtr(w http.ResponseWriter, r *http.Request) {
	epic := mux.Vars(r)["epic"]
	update, ok := s.bus.Snapshot("atr:" + epic)
	if !ok {
		http.Error(w, "no atr state for epic", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	update, ok := s.bus.Snapshot("account")
	if !ok {
		http.Error(w, "no account state yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	update, ok := s.bus.Snapshot("connection")
	if !ok {
		http.Error(w, "no connection state yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
