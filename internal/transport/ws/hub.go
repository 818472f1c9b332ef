package ws

import (
	"log"
	"sync"
)

// Hub owns room membership for every connection. A single run loop applies register,
// membership and broadcast requests; the channels are unbuffered so requests issued by
// one goroutine take effect in the order they were issued.
type Hub struct {
	// sessionID -> connections subscribed to its broadcasts
	rooms map[string]map[*Client]bool
	// connection -> sessions it is subscribed to
	clients map[*Client]map[string]bool

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Client
	unregister chan *Client
	membership chan *membershipRequest
	broadcast  chan *Message

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

type membershipOp int

const (
	opJoin membershipOp = iota
	opLeave
	opCloseRoom
)

type membershipRequest struct {
	op        membershipOp
	client    *Client
	sessionID string
	done      chan struct{}
}

// Message is an encoded frame addressed to a room or a single connection
type Message struct {
	SessionID string
	Data      []byte
	// Except skips one room member, usually the sender
	Except *Client
	// To delivers to this connection only, ignoring SessionID
	To *Client
}

// NewHub creates a hub and starts its run loop
func NewHub() *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		membership: make(chan *membershipRequest),
		broadcast:  make(chan *Message),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = make(map[string]bool)
			h.mu.Unlock()
			log.Printf("Client %s connected (user %s)", c.id, c.identity.UserID)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.Printf("Client %s disconnected (user %s)", c.id, c.identity.UserID)
			}
			h.mu.Unlock()

		case req := <-h.membership:
			h.mu.Lock()
			h.apply(req)
			h.mu.Unlock()
			close(req.done)

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg)
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) apply(req *membershipRequest) {
	switch req.op {
	case opJoin:
		rooms, ok := h.clients[req.client]
		if !ok {
			return
		}
		if h.rooms[req.sessionID] == nil {
			h.rooms[req.sessionID] = make(map[*Client]bool)
		}
		h.rooms[req.sessionID][req.client] = true
		rooms[req.sessionID] = true

	case opLeave:
		h.removeMember(req.sessionID, req.client)

	case opCloseRoom:
		members := h.rooms[req.sessionID]
		for c := range members {
			delete(h.clients[c], req.sessionID)
		}
		delete(h.rooms, req.sessionID)
		log.Printf("Room %s closed (%d members evicted)", req.sessionID, len(members))
	}
}

func (h *Hub) deliver(msg *Message) {
	if msg.To != nil {
		if _, ok := h.clients[msg.To]; ok {
			h.send(msg.To, msg.Data)
		}
		return
	}

	for c := range h.rooms[msg.SessionID] {
		if c == msg.Except {
			continue
		}
		h.send(c, msg.Data)
	}
}

// send queues data without blocking the loop. A connection whose buffer is full is
// dropped; its write pump then closes the socket.
func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Printf("Client %s send buffer full, dropping connection", c.id)
		h.drop(c)
	}
}

// drop must be called with mu held
func (h *Hub) drop(c *Client) {
	for sessionID := range h.clients[c] {
		h.removeMember(sessionID, c)
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) removeMember(sessionID string, c *Client) {
	if members, ok := h.rooms[sessionID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	if rooms, ok := h.clients[c]; ok {
		delete(rooms, sessionID)
	}
}

// Register adds a connection
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a connection from every room and closes its send channel
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join subscribes c to sessionID's broadcasts
func (h *Hub) Join(c *Client, sessionID string) {
	h.request(opJoin, c, sessionID)
}

// Leave unsubscribes c from sessionID
func (h *Hub) Leave(c *Client, sessionID string) {
	h.request(opLeave, c, sessionID)
}

// CloseRoom evicts every member of sessionID. Connections stay open.
func (h *Hub) CloseRoom(sessionID string) {
	h.request(opCloseRoom, nil, sessionID)
}

func (h *Hub) request(op membershipOp, c *Client, sessionID string) {
	req := &membershipRequest{op: op, client: c, sessionID: sessionID, done: make(chan struct{})}
	select {
	case h.membership <- req:
	case <-h.done:
		return
	}
	select {
	case <-req.done:
	case <-h.done:
	}
}

// Broadcast sends an event to every member of sessionID except the given client
func (h *Hub) Broadcast(sessionID string, eventType string, payload interface{}, except *Client) {
	data, err := encode(eventType, nil, payload)
	if err != nil {
		log.Printf("Failed to encode %s for room %s: %v", eventType, sessionID, err)
		return
	}
	h.publish(&Message{SessionID: sessionID, Data: data, Except: except})
}

// SendTo sends a frame to a single connection
func (h *Hub) SendTo(c *Client, eventType string, ackID []byte, payload interface{}) {
	data, err := encode(eventType, ackID, payload)
	if err != nil {
		log.Printf("Failed to encode %s for client %s: %v", eventType, c.id, err)
		return
	}
	h.publish(&Message{Data: data, To: c})
}

func (h *Hub) publish(msg *Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// IsMember reports whether c receives sessionID's broadcasts
func (h *Hub) IsMember(c *Client, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[sessionID][c]
}

// RoomSize returns the number of connections subscribed to sessionID
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// ClientCount returns the number of registered connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every connection's send channel and ends the run loop
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.quit) })
	<-h.done
}
