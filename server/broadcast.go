package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster pushes every completed classification to connected websocket
// clients
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	log     logr.Logger
}

// NewBroadcaster returns a Broadcaster with no clients
func NewBroadcaster(log logr.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		log:     log,
	}
}

// HandleWS is the websocket upgrade handler for /ws
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)

	if err != nil {
		b.log.Error(err, "websocket upgrade failed")
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	n := len(b.clients)
	b.mu.Unlock()

	b.log.V(1).Info("feed client connected", "clients", n)

	// read loop to detect disconnect
	go func() {
		defer b.remove(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	n := len(b.clients)
	b.mu.Unlock()

	conn.Close()
	b.log.V(1).Info("feed client disconnected", "clients", n)
}

// Clients returns the number of connected clients
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.clients)
}

// Broadcast sends v as JSON to all connected clients, dropping those that
// fail
func (b *Broadcaster) Broadcast(v any) {
	data, err := json.Marshal(v)

	if err != nil {
		return
	}

	// writes are serialized by the lock, a websocket.Conn allows one writer
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
}

// Close disconnects every client
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.clients {
		conn.Close()
		delete(b.clients, conn)
	}
}
