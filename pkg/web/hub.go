package web

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dbehnke/packet-nexus/pkg/logger"
)

// WebSocketHub manages WebSocket connections
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	onCount    func(int)
	mu         sync.RWMutex
	logger     *logger.Logger
}

func newWebSocketHub(log *logger.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     log,
	}
}

// publish queues a message without blocking
func (hub *WebSocketHub) publish(msg []byte) bool {
	select {
	case hub.broadcast <- msg:
		return true
	default:
		return false
	}
}

// Count returns the number of connected clients
func (hub *WebSocketHub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// run is the hub loop
func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.mu.Lock()
			hub.clients[client] = true
			hub.mu.Unlock()
			hub.reportCount()

		case client := <-hub.unregister:
			hub.mu.Lock()
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				hub.closeClient(client)
			}
			hub.mu.Unlock()
			hub.reportCount()

		case message := <-hub.broadcast:
			hub.mu.Lock()
			for client := range hub.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(hub.clients, client)
					hub.closeClient(client)
				}
			}
			hub.mu.Unlock()
			hub.reportCount()
		}
	}
}

func (hub *WebSocketHub) closeClient(client *websocket.Conn) {
	if err := client.Close(); err != nil {
		hub.logger.Warn("failed to close websocket client", logger.Error(err))
	}
}

func (hub *WebSocketHub) reportCount() {
	if hub.onCount != nil {
		hub.onCount(hub.Count())
	}
}
