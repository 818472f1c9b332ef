package ws

import (
	"codepair/internal/live"
	"codepair/internal/model"
	"encoding/json"
	"time"
)

// Client to server events
const (
	EventSessionJoin    = "session:join"
	EventSessionLeave   = "session:leave"
	EventSessionEnd     = "session:end"
	EventCodeChange     = "session:code:change"
	EventCodeSave       = "session:code:save"
	EventCursorUpdate   = "session:cursor:update"
	EventChatMessage    = "chat:message"
	EventChatGetHistory = "chat:getHistory"
)

// Server to client events
const (
	EventParticipants = "session:participants"
	EventCodeUpdate   = "session:code:update"
	EventSessionEnded = "session:ended"
	EventAck          = "ack"
	EventError        = "error"
)

// EndedByOwner is the reason sent with session:ended when the creator ends a session
const EndedByOwner = "ended_by_owner"

// Envelope is the frame format in both directions. AckID is echoed back verbatim on
// the matching ack; events sent without one are never acknowledged.
type Envelope struct {
	Type    string          `json:"type"`
	AckID   json.RawMessage `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads

type JoinPayload struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// CodeChangePayload carries the sender's full buffer. UserID is accepted for
// compatibility and ignored in favour of the connection identity.
type CodeChangePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type CursorPayload struct {
	SessionID string           `json:"sessionId"`
	UserID    string           `json:"userId,omitempty"`
	Cursor    *model.Position  `json:"cursor"`
	Selection *model.Selection `json:"selection,omitempty"`
}

type ChatPayload struct {
	SessionID   string            `json:"sessionId"`
	UserID      string            `json:"userId,omitempty"`
	Text        string            `json:"text"`
	MessageType model.MessageType `json:"messageType,omitempty"`
}

// Outbound payloads

type ParticipantsEvent struct {
	SessionID    string             `json:"sessionId"`
	Participants []live.Participant `json:"participants"`
}

type CodeUpdateEvent struct {
	SessionID      string `json:"sessionId"`
	Code           string `json:"code"`
	Language       string `json:"language"`
	SourceClientID string `json:"sourceClientId"`
}

type CursorEvent struct {
	SessionID string           `json:"sessionId"`
	ClientID  string           `json:"clientId"`
	UserID    string           `json:"userId"`
	Cursor    model.Position   `json:"cursor"`
	Selection *model.Selection `json:"selection,omitempty"`
}

type ChatEvent struct {
	SessionID   string            `json:"sessionId"`
	UserID      string            `json:"userId"`
	Text        string            `json:"text"`
	MessageType model.MessageType `json:"messageType"`
	Timestamp   time.Time         `json:"timestamp"`
}

type EndedEvent struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Ack payloads

type AckResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type JoinAck struct {
	OK           bool               `json:"ok"`
	Code         string             `json:"code"`
	Language     string             `json:"language"`
	Participants []live.Participant `json:"participants"`
}

type SaveAck struct {
	OK      bool `json:"ok"`
	Saved   bool `json:"saved"`
	Version int  `json:"version,omitempty"`
}

type HistoryAck struct {
	Messages []model.ChatMessage `json:"messages"`
}

func encode(eventType string, ackID json.RawMessage, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Type: eventType, AckID: ackID, Payload: data})
}

func (p JoinPayload) sessionID() string       { return p.SessionID }
func (p SessionPayload) sessionID() string    { return p.SessionID }
func (p CodeChangePayload) sessionID() string { return p.SessionID }
func (p CursorPayload) sessionID() string     { return p.SessionID }
func (p ChatPayload) sessionID() string       { return p.SessionID }
