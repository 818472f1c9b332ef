package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is one of the known difficulty levels
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Limits and defaults for a session document
const (
	MaxTitleLength         = 100
	MaxDescriptionLength   = 500
	MaxChatMessageLength   = 1000
	DefaultLanguage        = "javascript"
	DefaultMaxParticipants = 4
	MaxParticipantsCeiling = 10
	DefaultMaxCodeHistory  = 50
	DefaultAutoSaveMS      = 30000
)

var supportedLanguages = map[string]bool{
	"javascript": true, "python": true, "java": true, "cpp": true, "c": true,
	"csharp": true, "go": true, "rust": true, "swift": true, "kotlin": true,
	"php": true, "ruby": true, "scala": true, "typescript": true,
}

// IsSupportedLanguage reports whether the editor language can be stored on a session
func IsSupportedLanguage(lang string) bool {
	return supportedLanguages[lang]
}

// CodeState is the last durably saved code buffer
type CodeState struct {
	Language       string    `json:"language" bson:"language"`
	Code           string    `json:"code" bson:"code"`
	Version        int       `json:"version" bson:"version"`
	LastSaved      time.Time `json:"lastSaved" bson:"lastSaved"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty" bson:"lastModifiedBy,omitempty"`
}

// CodeRevision is a previous code state kept for history
type CodeRevision struct {
	Version           int       `json:"version" bson:"version"`
	Code              string    `json:"code" bson:"code"`
	ChangeDescription string    `json:"changeDescription,omitempty" bson:"changeDescription,omitempty"`
	ChangedBy         string    `json:"changedBy,omitempty" bson:"changedBy,omitempty"`
	Timestamp         time.Time `json:"timestamp" bson:"timestamp"`
}

type CollaborationState struct {
	IsActive        bool `json:"isActive" bson:"isActive"`
	MaxParticipants int  `json:"maxParticipants" bson:"maxParticipants"`
	ChatEnabled     bool `json:"chatEnabled" bson:"chatEnabled"`
}

type SessionSettings struct {
	AutoSaveInterval int `json:"autoSaveInterval" bson:"autoSaveInterval"` // ms
	MaxCodeHistory   int `json:"maxCodeHistory" bson:"maxCodeHistory"`
}

// Session is the durable record of one collaborative coding room
type Session struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SessionID   string             `json:"sessionId" bson:"sessionId"`
	Title       string             `json:"title" bson:"title"`
	Description string             `json:"description" bson:"description"`
	Tags        []string           `json:"tags" bson:"tags"`
	Creator     string             `json:"creator" bson:"creator"`
	Status      SessionStatus      `json:"status" bson:"status"`
	Difficulty  Difficulty         `json:"difficulty" bson:"difficulty"`
	StartedAt   time.Time          `json:"startedAt" bson:"startedAt"`
	EndedAt     *time.Time         `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	Duration    int                `json:"duration,omitempty" bson:"duration,omitempty"` // minutes

	CodeState   CodeState      `json:"codeState" bson:"codeState"`
	CodeHistory []CodeRevision `json:"codeHistory" bson:"codeHistory"`

	Participants []Participant `json:"participants" bson:"participants"`
	Cursors      []Cursor      `json:"cursors" bson:"cursors"`
	Chat         []ChatMessage `json:"chat" bson:"chat"`

	CollaborationState CollaborationState `json:"collaborationState" bson:"collaborationState"`
	Settings           SessionSettings    `json:"settings" bson:"settings"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// IsActive reports whether the session accepts joins and edits
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// IsCreator reports whether userID created the session
func (s *Session) IsCreator(userID string) bool {
	return s.Creator == userID
}

// Participant returns the participant row for userID, if any
func (s *Session) Participant(userID string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// HasParticipant reports whether userID already has a participant row
func (s *Session) HasParticipant(userID string) bool {
	_, ok := s.Participant(userID)
	return ok
}

// MaxParticipants returns the participant cap, falling back to the default
func (s *Session) MaxParticipants() int {
	n := s.CollaborationState.MaxParticipants
	if n <= 0 {
		return DefaultMaxParticipants
	}
	if n > MaxParticipantsCeiling {
		return MaxParticipantsCeiling
	}
	return n
}

// SessionMeta is the cached subset of a session used for quick status and ownership checks
type SessionMeta struct {
	SessionID   string        `json:"sessionId"`
	Title       string        `json:"title"`
	Creator     string        `json:"creator"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	ChatEnabled bool          `json:"chatEnabled"`
}

// Meta extracts the cacheable metadata of the session
func (s *Session) Meta() *SessionMeta {
	return &SessionMeta{
		SessionID:   s.SessionID,
		Title:       s.Title,
		Creator:     s.Creator,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		ChatEnabled: s.CollaborationState.ChatEnabled,
	}
}
