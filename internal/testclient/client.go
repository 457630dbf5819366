// Package testclient provides a websocket client for integration tests
// and manual poking at a running sync server.
package testclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rollforge/vtt/server/internal/message"
)

// Client is a websocket connection to the sync server that records
// every frame it receives.
type Client struct {
	Name string

	conn     *websocket.Conn
	mu       sync.Mutex
	received []message.Envelope
}

// Dial connects to the sync endpoint and starts reading frames.
func Dial(name, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{Name: name, conn: conn}
	go c.readFrames()
	return c, nil
}

func (c *Client) readFrames() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env message.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.mu.Lock()
		c.received = append(c.received, env)
		c.mu.Unlock()
	}
}

// Send writes one frame of the given type and payload.
func (c *Client) Send(typ string, payload any) error {
	env := map[string]any{
		"type":      typ,
		"timestamp": time.Now().UnixMilli(),
	}
	if payload != nil {
		env["payload"] = payload
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Join sends a JOIN_GAME and waits for the full state push.
func (c *Client) Join(gameID, userID, name string) error {
	env := map[string]any{
		"type":      message.TypeJoinGame,
		"userId":    userID,
		"timestamp": time.Now().UnixMilli(),
		"payload": map[string]any{
			"gameId":      gameID,
			"displayName": name,
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if _, ok := c.WaitForType(message.TypeGameState, 2*time.Second); !ok {
		return fmt.Errorf("no %s after join", message.TypeGameState)
	}
	return nil
}

// Received returns a copy of every frame received so far.
func (c *Client) Received() []message.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Envelope, len(c.received))
	copy(out, c.received)
	return out
}

// CountOfType returns how many frames of the given type have arrived.
func (c *Client) CountOfType(typ string) int {
	n := 0
	for _, env := range c.Received() {
		if env.Type == typ {
			n++
		}
	}
	return n
}

// WaitForType polls until a frame of the given type arrives or the
// timeout passes, returning the first match.
func (c *Client) WaitForType(typ string, timeout time.Duration) (message.Envelope, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, env := range c.Received() {
			if env.Type == typ {
				return env, true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return message.Envelope{}, false
}

// Clear drops every recorded frame.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = nil
}

// Close closes the websocket connection. The read loop exits on the
// resulting read error.
func (c *Client) Close() error {
	return c.conn.Close()
}
