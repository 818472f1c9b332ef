package ws

import (
	"codepair/internal/checkpoint"
	"codepair/internal/live"
	"codepair/internal/model"
	"codepair/internal/service"
	"context"
	"encoding/json"
	"errors"
	"log"
	"runtime/debug"
	"strings"
	"time"
)

type eventFunc func(ctx context.Context, c *Client, env *Envelope)

// EventHandler applies realtime events to the live registry and the durable record and
// decides who hears about them.
type EventHandler struct {
	hub          *Hub
	registry     *live.Registry
	sessions     *service.SessionService
	checkpoints  *checkpoint.Service
	storeTimeout time.Duration

	handlers map[string]eventFunc
}

// NewEventHandler creates the event handler set
func NewEventHandler(hub *Hub, registry *live.Registry, sessions *service.SessionService, checkpoints *checkpoint.Service, storeTimeout time.Duration) *EventHandler {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	h := &EventHandler{
		hub:          hub,
		registry:     registry,
		sessions:     sessions,
		checkpoints:  checkpoints,
		storeTimeout: storeTimeout,
	}
	h.handlers = map[string]eventFunc{
		EventSessionJoin:    h.join,
		EventSessionLeave:   h.leave,
		EventSessionEnd:     h.end,
		EventCodeChange:     h.codeChange,
		EventCodeSave:       h.codeSave,
		EventCursorUpdate:   h.cursorUpdate,
		EventChatMessage:    h.chatMessage,
		EventChatGetHistory: h.chatHistory,
	}
	return h
}

// Dispatch runs the handler for env. Store calls get their own deadline and are not
// tied to the connection, so a disconnect never cancels a write already issued.
func (h *EventHandler) Dispatch(c *Client, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling %s from client %s: %v\n%s", env.Type, c.id, r, debug.Stack())
			h.ackError(c, env, "internal error")
		}
	}()

	fn, ok := h.handlers[env.Type]
	if !ok {
		log.Printf("Unknown event %q from client %s", env.Type, c.id)
		h.ackError(c, env, "unknown event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()
	fn(ctx, c, env)
}

// Disconnect removes every live presence held by c
func (h *EventHandler) Disconnect(c *Client) {
	sessionIDs := h.registry.RemoveConnection(c.id)
	if len(sessionIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	for _, sessionID := range sessionIDs {
		if h.registry.IsEmpty(sessionID) {
			h.retire(ctx, sessionID)
			continue
		}
		h.broadcastParticipants(sessionID)
	}
}

func (h *EventHandler) join(ctx context.Context, c *Client, env *Envelope) {
	var p JoinPayload
	if !h.decode(c, env, &p) {
		return
	}

	caller := c.identity
	session, err := h.sessions.Admit(ctx, caller, p.SessionID)
	if err != nil {
		h.ackError(c, env, h.failure("join", p.SessionID, err))
		return
	}

	// room first, presence second: an end that lands in between either reaches this
	// client through the room or leaves the registry refusing the presence
	h.hub.Join(c, p.SessionID)
	h.registry.Ensure(p.SessionID, session.CodeState.Code, session.CodeState.Language)

	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = caller.Username
	}
	ok := h.registry.SetParticipant(p.SessionID, caller.UserID, live.Participant{
		UserID:       caller.UserID,
		DisplayName:  name,
		ConnectionID: c.id,
		JoinedAt:     time.Now(),
	})
	if !ok {
		h.hub.Leave(c, p.SessionID)
		log.Printf("Join: session %s ended while %s was joining", p.SessionID, caller.UserID)
		h.ackError(c, env, "session not found")
		return
	}

	snap, _ := h.registry.Snapshot(p.SessionID)
	h.ack(c, env, JoinAck{
		OK:           true,
		Code:         snap.Code,
		Language:     snap.Language,
		Participants: h.registry.Participants(p.SessionID),
	})
	h.broadcastParticipants(p.SessionID)

	log.Printf("User %s joined session %s on client %s", caller.UserID, p.SessionID, c.id)
}

func (h *EventHandler) leave(ctx context.Context, c *Client, env *Envelope) {
	var p SessionPayload
	if !h.decode(c, env, &p) {
		return
	}

	caller := c.identity
	h.hub.Leave(c, p.SessionID)
	h.registry.RemoveParticipant(p.SessionID, caller.UserID, c.id)

	// another connection of the same user still holds the presence
	if !h.registry.HasParticipant(p.SessionID, caller.UserID) {
		if err := h.sessions.Leave(ctx, caller, p.SessionID); err != nil {
			log.Printf("Leave: durable removal of %s from %s failed: %v", caller.UserID, p.SessionID, err)
		}
	}

	if h.registry.Exists(p.SessionID) && h.registry.IsEmpty(p.SessionID) {
		h.retire(ctx, p.SessionID)
	} else {
		h.broadcastParticipants(p.SessionID)
	}

	h.ack(c, env, AckResult{OK: true})
}

func (h *EventHandler) end(ctx context.Context, c *Client, env *Envelope) {
	var p SessionPayload
	if !h.decode(c, env, &p) {
		return
	}

	caller := c.identity
	if err := h.sessions.AuthorizeEnd(ctx, caller, p.SessionID); err != nil {
		h.ackError(c, env, h.failure("end", p.SessionID, err))
		return
	}

	if _, err := h.checkpoints.Flush(ctx, p.SessionID); err != nil {
		log.Printf("End: final code save for %s failed: %v", p.SessionID, err)
	}

	if _, err := h.sessions.EndSession(ctx, caller, p.SessionID); err != nil {
		h.ackError(c, env, h.failure("end", p.SessionID, err))
		return
	}

	h.registry.End(p.SessionID)
	h.checkpoints.Cancel(p.SessionID)
	h.hub.Broadcast(p.SessionID, EventSessionEnded, EndedEvent{SessionID: p.SessionID, Reason: EndedByOwner}, nil)
	h.hub.CloseRoom(p.SessionID)

	h.ack(c, env, AckResult{OK: true})
}

// codeChange is last-writer-wins on the live buffer. Persistence is left to the
// checkpointer; there is no durable write on this path.
func (h *EventHandler) codeChange(ctx context.Context, c *Client, env *Envelope) {
	var p CodeChangePayload
	if !h.decode(c, env, &p) {
		return
	}

	caller := c.identity
	if !h.registry.HasParticipant(p.SessionID, caller.UserID) {
		return
	}
	if p.Language != "" && !model.IsSupportedLanguage(p.Language) {
		h.ackError(c, env, "unsupported language")
		return
	}
	if !h.registry.UpdateCode(p.SessionID, p.Code, p.Language, caller.UserID) {
		return
	}

	snap, _ := h.registry.Snapshot(p.SessionID)
	h.hub.Broadcast(p.SessionID, EventCodeUpdate, CodeUpdateEvent{
		SessionID:      p.SessionID,
		Code:           p.Code,
		Language:       snap.Language,
		SourceClientID: c.id,
	}, c)
	h.checkpoints.Schedule(p.SessionID)

	h.ack(c, env, AckResult{OK: true})
}

func (h *EventHandler) codeSave(ctx context.Context, c *Client, env *Envelope) {
	var p SessionPayload
	if !h.decode(c, env, &p) {
		return
	}

	if !h.registry.HasParticipant(p.SessionID, c.identity.UserID) {
		h.ackError(c, env, "not joined")
		return
	}

	version, err := h.checkpoints.Flush(ctx, p.SessionID)
	if err != nil {
		log.Printf("Save: code save for %s failed: %v", p.SessionID, err)
		h.ackError(c, env, "save failed")
		return
	}
	h.ack(c, env, SaveAck{OK: true, Saved: version > 0, Version: version})
}

// cursorUpdate is persisted before it is broadcast, unlike code
func (h *EventHandler) cursorUpdate(ctx context.Context, c *Client, env *Envelope) {
	var p CursorPayload
	if !h.decode(c, env, &p) {
		return
	}
	if p.Cursor == nil {
		h.ackError(c, env, "cursor is required")
		return
	}

	caller := c.identity
	if !h.registry.HasParticipant(p.SessionID, caller.UserID) {
		return
	}

	err := h.sessions.UpdateCursor(ctx, caller, p.SessionID, service.CursorInput{
		Position:  *p.Cursor,
		Selection: p.Selection,
	})
	if err != nil {
		h.ackError(c, env, h.failure("cursor", p.SessionID, err))
		return
	}

	h.hub.Broadcast(p.SessionID, EventCursorUpdate, CursorEvent{
		SessionID: p.SessionID,
		ClientID:  c.id,
		UserID:    caller.UserID,
		Cursor:    *p.Cursor,
		Selection: p.Selection,
	}, c)
	h.ack(c, env, AckResult{OK: true})
}

func (h *EventHandler) chatMessage(ctx context.Context, c *Client, env *Envelope) {
	var p ChatPayload
	if !h.decode(c, env, &p) {
		return
	}

	caller := c.identity
	if !h.registry.HasParticipant(p.SessionID, caller.UserID) {
		h.ackError(c, env, "not joined")
		return
	}

	msg, err := h.sessions.PostChat(ctx, caller, p.SessionID, p.Text, p.MessageType)
	if err != nil {
		h.ackError(c, env, h.failure("chat", p.SessionID, err))
		return
	}

	h.hub.Broadcast(p.SessionID, EventChatMessage, ChatEvent{
		SessionID:   p.SessionID,
		UserID:      msg.UserID,
		Text:        msg.Message,
		MessageType: msg.MessageType,
		Timestamp:   msg.Timestamp,
	}, nil)
	h.ack(c, env, AckResult{OK: true})
}

func (h *EventHandler) chatHistory(ctx context.Context, c *Client, env *Envelope) {
	var p SessionPayload
	if !h.decode(c, env, &p) {
		return
	}

	messages := []model.ChatMessage{}
	if h.registry.HasParticipant(p.SessionID, c.identity.UserID) {
		msgs, err := h.sessions.ChatHistory(ctx, p.SessionID)
		if err != nil {
			h.failure("history", p.SessionID, err)
		} else {
			messages = msgs
		}
	}
	h.ack(c, env, HistoryAck{Messages: messages})
}

// retire saves and evicts a live entry nobody is connected to anymore. A failed save is
// not retried; the entry goes either way.
func (h *EventHandler) retire(ctx context.Context, sessionID string) {
	if _, err := h.checkpoints.Flush(ctx, sessionID); err != nil {
		log.Printf("Final code save for %s failed, unsaved edits dropped: %v", sessionID, err)
	}
	if h.registry.EvictIfEmpty(sessionID) {
		h.checkpoints.Cancel(sessionID)
		log.Printf("Live session %s evicted (no participants)", sessionID)
	}
}

func (h *EventHandler) broadcastParticipants(sessionID string) {
	h.hub.Broadcast(sessionID, EventParticipants, ParticipantsEvent{
		SessionID:    sessionID,
		Participants: h.registry.Participants(sessionID),
	}, nil)
}

func (h *EventHandler) decode(c *Client, env *Envelope, v interface{ sessionID() string }) bool {
	if len(env.Payload) == 0 || json.Unmarshal(env.Payload, v) != nil {
		h.ackError(c, env, "invalid payload")
		return false
	}
	if v.sessionID() == "" {
		h.ackError(c, env, "sessionId is required")
		return false
	}
	return true
}

// failure maps a service error to the message sent back on the ack. Store failures are
// logged and reported generically.
func (h *EventHandler) failure(op, sessionID string, err error) string {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, service.ErrSessionFull):
		return "session is full"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	case errors.Is(err, service.ErrChatDisabled):
		return "chat is disabled"
	case errors.As(err, &verr):
		return verr.Error()
	}
	log.Printf("%s on session %s failed: %v", op, sessionID, err)
	return "internal error"
}

func (h *EventHandler) ack(c *Client, env *Envelope, payload interface{}) {
	if len(env.AckID) == 0 {
		return
	}
	h.hub.SendTo(c, EventAck, env.AckID, payload)
}

func (h *EventHandler) ackError(c *Client, env *Envelope, msg string) {
	h.ack(c, env, AckResult{OK: false, Error: msg})
}
