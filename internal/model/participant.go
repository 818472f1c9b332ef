package model

import "time"

type ParticipantRole string

const (
	RoleOwner        ParticipantRole = "owner"
	RoleCollaborator ParticipantRole = "collaborator"
	RoleViewer       ParticipantRole = "viewer"
	RoleMentor       ParticipantRole = "mentor"
)

// IsValid reports whether r is a known participant role
func (r ParticipantRole) IsValid() bool {
	switch r {
	case RoleOwner, RoleCollaborator, RoleViewer, RoleMentor:
		return true
	}
	return false
}

type Permissions struct {
	CanEdit               bool `json:"canEdit" bson:"canEdit"`
	CanInvite             bool `json:"canInvite" bson:"canInvite"`
	CanDelete             bool `json:"canDelete" bson:"canDelete"`
	CanManageParticipants bool `json:"canManageParticipants" bson:"canManageParticipants"`
}

// Participant is a durable per-user membership row on a session
type Participant struct {
	UserID      string          `json:"userId" bson:"userId"`
	Username    string          `json:"username,omitempty" bson:"username,omitempty"`
	Role        ParticipantRole `json:"role" bson:"role"`
	JoinedAt    time.Time       `json:"joinedAt" bson:"joinedAt"`
	LastActive  time.Time       `json:"lastActive" bson:"lastActive"`
	Permissions Permissions     `json:"permissions" bson:"permissions"`
}

// NewOwner builds the participant row for a session creator
func NewOwner(userID, username string, now time.Time) Participant {
	return Participant{
		UserID:     userID,
		Username:   username,
		Role:       RoleOwner,
		JoinedAt:   now,
		LastActive: now,
		Permissions: Permissions{
			CanEdit:               true,
			CanInvite:             true,
			CanDelete:             true,
			CanManageParticipants: true,
		},
	}
}

// NewCollaborator builds the default participant row for anyone joining a session
func NewCollaborator(userID, username string, now time.Time) Participant {
	return Participant{
		UserID:      userID,
		Username:    username,
		Role:        RoleCollaborator,
		JoinedAt:    now,
		LastActive:  now,
		Permissions: Permissions{CanEdit: true},
	}
}

// Position is a zero-based line/column location in the code buffer
type Position struct {
	Line   int `json:"line" bson:"line"`
	Column int `json:"column" bson:"column"`
}

// Valid reports whether both coordinates are non-negative
func (p Position) Valid() bool {
	return p.Line >= 0 && p.Column >= 0
}

type Selection struct {
	Start Position `json:"start" bson:"start"`
	End   Position `json:"end" bson:"end"`
}

// Cursor is a user's caret in the shared buffer; one per user per session
type Cursor struct {
	UserID      string     `json:"userId" bson:"userId"`
	Position    Position   `json:"position" bson:"position"`
	Selection   *Selection `json:"selection,omitempty" bson:"selection,omitempty"`
	IsTyping    bool       `json:"isTyping" bson:"isTyping"`
	LastUpdated time.Time  `json:"lastUpdated" bson:"lastUpdated"`
}

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageCode         MessageType = "code"
	MessageSystem       MessageType = "system"
	MessageAnnouncement MessageType = "announcement"
)

// Postable reports whether clients may send messages of type t. System and
// announcement messages are server-authored.
func (t MessageType) Postable() bool {
	return t == MessageText || t == MessageCode
}

// ChatMessage is an append-only entry of the session chat log
type ChatMessage struct {
	UserID      string      `json:"userId" bson:"userId"`
	Message     string      `json:"message" bson:"message"`
	MessageType MessageType `json:"messageType" bson:"messageType"`
	Timestamp   time.Time   `json:"timestamp" bson:"timestamp"`
}
