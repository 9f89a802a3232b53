package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threatlens/scout/internal/store"
)

// serverMessage is the wire envelope for server-to-client events.
type serverMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// clientMessage is the wire envelope for client-to-server events.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one accepted live connection. Authorization was decided at connect
// time and is not re-checked for the connection's lifetime.
type Conn struct {
	ws       *websocket.Conn
	identity store.Identity

	// writeMu serializes writes: the read loop, the hub, and detached probe
	// goroutines all send on the same socket.
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, identity store.Identity, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Conn{ws: ws, identity: identity, writeTimeout: writeTimeout}
}

// Send writes one event to the client. It satisfies both the hub's Sender and
// the progress emitter's Client contract.
func (c *Conn) Send(event string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteJSON(serverMessage{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	return nil
}

// Identity returns the internal identity resolved during the handshake.
func (c *Conn) Identity() store.Identity {
	return c.identity
}

func (c *Conn) close() error {
	return c.ws.Close()
}
