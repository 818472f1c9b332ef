package ws

import (
	"codepair/internal/model"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 512 * 1024
	sendBufferSize    = 256
	maxRateViolations = 1000
)

// Dispatcher handles decoded frames for a connection
type Dispatcher interface {
	Dispatch(c *Client, env *Envelope)
	Disconnect(c *Client)
}

// Client is one authenticated realtime connection
type Client struct {
	id       string
	identity model.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
}

func newClient(hub *Hub, conn *websocket.Conn, identity model.Identity, limiter *rate.Limiter) *Client {
	return &Client{
		id:       uuid.New().String(),
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		limiter:  limiter,
	}
}

// ID is the connection identifier, reported to peers as clientId
func (c *Client) ID() string {
	return c.id
}

// Identity is the authenticated user behind the connection
func (c *Client) Identity() model.Identity {
	return c.identity
}

// readPump processes this connection's frames one at a time, in arrival order
func (c *Client) readPump(d Dispatcher) {
	defer func() {
		c.hub.Unregister(c)
		d.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	violations := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			violations++
			if violations%100 == 1 {
				log.Printf("Rate limit exceeded for client %s (warning #%d)", c.id, violations)
			}
			if violations > maxRateViolations {
				log.Printf("Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			log.Printf("Invalid frame from client %s: %v", c.id, err)
			c.hub.SendTo(c, EventError, nil, AckResult{Error: "invalid frame"})
			continue
		}

		d.Dispatch(c, &env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
