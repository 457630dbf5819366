package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketClient wraps a WebSocket connection. Writes are serialized
// under a mutex and bounded by a deadline so one slow client can never
// stall a broadcast pass; reads happen only from the connection's own
// goroutine.
type WebSocketClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex // Protects writes
}

// NewWebSocketClient creates a client wrapper with the given per-write
// deadline.
func NewWebSocketClient(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &WebSocketClient{conn: conn, writeTimeout: writeTimeout}
}

// ReadMessage blocks until the next message arrives.
func (c *WebSocketClient) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteMessage sends a text message under the write deadline. An error
// means the transport is dead; the caller unregisters the connection.
func (c *WebSocketClient) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the WebSocket connection.
func (c *WebSocketClient) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote address as a string.
func (c *WebSocketClient) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
