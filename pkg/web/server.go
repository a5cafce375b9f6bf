// Package web serves the node's REST API, the WebSocket event feed and the
// prometheus endpoint.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dbehnke/packet-nexus/pkg/archive"
	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/metrics"
	"github.com/dbehnke/packet-nexus/pkg/profile"
)

// Link sends encoded packets to a peer. Profile names the profile the link
// decodes with; peers expect packets built with the same one.
type Link interface {
	SendPacket(data []byte, addr *net.UDPAddr) error
	Profile() string
}

// Server represents the web API server
type Server struct {
	config       *config.Config
	logger       *logger.Logger
	httpServer   *http.Server
	manager      *profile.Manager
	eventChan    <-chan profile.Event
	link         Link
	archive      *archive.Archive
	metrics      *metrics.Metrics
	websocketHub *WebSocketHub
	hubOnce      sync.Once
	startTime    time.Time
	version      string
	buildTime    string
	mu           sync.RWMutex
	running      bool
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewServer creates a new web server. eventChan may be nil.
func NewServer(cfg *config.Config, log *logger.Logger, manager *profile.Manager, eventChan <-chan profile.Event, version, buildTime string) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		config:       cfg,
		logger:       log.WithComponent("web"),
		manager:      manager,
		eventChan:    eventChan,
		websocketHub: newWebSocketHub(log.WithComponent("web.hub")),
		startTime:    time.Now(),
		version:      version,
		buildTime:    buildTime,
	}
}

// SetLink attaches the UDP link used by the transmit endpoint
func (s *Server) SetLink(link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = link
}

// SetArchive attaches the packet archive
func (s *Server) SetArchive(a *archive.Archive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = a
}

// SetMetrics attaches the metrics registry. It must be called before
// Handler or Start.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.websocketHub.onCount = m.SetWebSocketClients
	}
}

// Handler returns the router with the hub running
func (s *Server) Handler() http.Handler {
	s.hubOnce.Do(func() { go s.websocketHub.run() })
	return s.setupRoutes()
}

// Start starts the web server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Web.Enabled {
		s.logger.Info("Web server disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("web server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.eventChan != nil {
		go s.processEvents(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Web.Host, s.config.Web.Port)
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting web server", logger.String("address", addr))

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down web server")
		return s.Stop()
	}
}

// Stop stops the web server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware)
	api.Use(s.jsonMiddleware)

	s.handle(api, "/health", "GET", s.handleHealth)
	s.handle(api, "/system/info", "GET", s.handleSystemInfo)
	s.handle(api, "/stats", "GET", s.handleStats)
	s.handle(api, "/schemes", "GET", s.handleSchemes)
	s.handle(api, "/lengths", "GET", s.handleLengths)

	// Profile endpoints
	s.handle(api, "/profiles", "GET", s.handleProfiles)
	s.handle(api, "/profiles/{name}", "GET", s.handleProfile)
	s.handle(api, "/profiles/{name}", "PUT", s.handleReconfigure)
	s.handle(api, "/profiles/{name}/encode", "POST", s.handleEncode)
	s.handle(api, "/profiles/{name}/decode", "POST", s.handleDecode)
	s.handle(api, "/profiles/{name}/transmit", "POST", s.handleTransmit)

	s.handle(api, "/archive", "GET", s.handleArchive)

	if s.metrics != nil {
		path := "/metrics"
		if s.config != nil && s.config.Metrics.Path != "" {
			path = s.config.Metrics.Path
		}
		router.Handle(path, s.metrics.Handler()).Methods("GET")
	}

	router.HandleFunc("/ws", s.handleWebSocket)

	return router
}

// handle registers h, instrumented when metrics are attached
func (s *Server) handle(r *mux.Router, path, method string, h http.HandlerFunc) {
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(method, "/api"+path, h)
	}
	r.HandleFunc(path, h).Methods(method)
}

// processEvents forwards profile events to WebSocket clients
func (s *Server) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.eventChan:
			if !ok {
				return
			}
			s.handleEvent(event)
		}
	}
}

// handleEvent processes a profile event
func (s *Server) handleEvent(event profile.Event) {
	switch event.Type {
	case profile.EventAdd, profile.EventRemove, profile.EventReconfigure:
		s.broadcastWebSocketMessage("profiles_update", map[string]interface{}{
			"profiles": s.manager.List(),
		})
	case profile.EventInvalid:
		s.broadcastWebSocketMessage("invalid_packet", map[string]interface{}{
			"profile": event.Profile,
			"size":    event.Size,
		})
	}

	s.broadcastWebSocketMessage("event", event)
}

// broadcastWebSocketMessage broadcasts a message to all WebSocket clients
func (s *Server) broadcastWebSocketMessage(messageType string, data interface{}) {
	message := WebSocketMessage{
		Type: messageType,
		Data: data,
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket message", logger.Error(err))
		return
	}

	if !s.websocketHub.publish(jsonData) {
		s.logger.Warn("WebSocket broadcast channel full, dropping message",
			logger.String("message_type", messageType))
	}
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", logger.Error(err))
		return
	}

	s.logger.Debug("New WebSocket connection", logger.String("remote", r.RemoteAddr))

	// Initial data goes out before the client can receive broadcasts
	s.sendInitialData(conn)

	s.websocketHub.register <- conn
	defer func() {
		s.websocketHub.unregister <- conn
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket error", logger.Error(err))
			}
			break
		}
	}
}

func (s *Server) sendInitialData(conn *websocket.Conn) {
	s.sendWebSocketMessage(conn, "profiles_update", map[string]interface{}{
		"profiles": s.manager.List(),
	})
	s.sendWebSocketMessage(conn, "stats_update", s.manager.GetStats())
}

func (s *Server) sendWebSocketMessage(conn *websocket.Conn, messageType string, data interface{}) {
	message := WebSocketMessage{
		Type: messageType,
		Data: data,
	}

	if err := conn.WriteJSON(message); err != nil {
		s.logger.Error("Failed to send WebSocket message", logger.Error(err))
	}
}
