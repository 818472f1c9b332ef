package service

import (
	"codepair/internal/cache"
	"codepair/internal/model"
	"codepair/internal/repository"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const sessionIDAttempts = 5

// Verify roles reported to the client
const (
	RoleCreator     = "creator"
	RoleParticipant = "participant"
)

// CreateSessionInput is the caller-supplied part of a new session
type CreateSessionInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	Language        string   `json:"language"`
	Difficulty      string   `json:"difficulty"`
	MaxParticipants int      `json:"maxParticipants"`
}

// CursorInput is a cursor move reported by a client
type CursorInput struct {
	Position  model.Position
	Selection *model.Selection
}

// SessionService owns every durable read and write of the session record, for both the
// lifecycle API and the realtime event handlers.
type SessionService struct {
	repo  repository.SessionRepo
	cache cache.SessionCache
}

// NewSessionService creates a new session service
func NewSessionService(repo repository.SessionRepo, cache cache.SessionCache) *SessionService {
	return &SessionService{
		repo:  repo,
		cache: cache,
	}
}

// CreateSession always inserts a new session owned by the caller
func (s *SessionService) CreateSession(ctx context.Context, caller model.Identity, in CreateSessionInput) (*model.Session, error) {
	if err := normalizeCreateInput(&in); err != nil {
		return nil, err
	}

	now := time.Now()
	session := &model.Session{
		Title:       in.Title,
		Description: in.Description,
		Tags:        in.Tags,
		Creator:     caller.UserID,
		Status:      model.SessionActive,
		Difficulty:  model.Difficulty(in.Difficulty),
		StartedAt:   now,
		CodeState: model.CodeState{
			Language:  in.Language,
			Code:      "",
			Version:   1,
			LastSaved: now,
		},
		CodeHistory:  []model.CodeRevision{},
		Participants: []model.Participant{model.NewOwner(caller.UserID, caller.Username, now)},
		Cursors:      []model.Cursor{},
		Chat:         []model.ChatMessage{},
		CollaborationState: model.CollaborationState{
			IsActive:        true,
			MaxParticipants: in.MaxParticipants,
			ChatEnabled:     true,
		},
		Settings: model.SessionSettings{
			AutoSaveInterval: model.DefaultAutoSaveMS,
			MaxCodeHistory:   model.DefaultMaxCodeHistory,
		},
	}

	for attempt := 0; attempt < sessionIDAttempts; attempt++ {
		id := uuid.New().String()[:8]

		reserved, err := s.cache.Reserve(ctx, id)
		if err != nil {
			// the unique index still guards against collisions
			log.Printf("session id reservation failed for %s: %v", id, err)
			reserved = true
		}
		if !reserved {
			continue
		}

		session.SessionID = id
		err = s.repo.Create(ctx, session)
		if errors.Is(err, repository.ErrDuplicateSessionID) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		s.cacheMeta(ctx, session)
		log.Printf("Session %s created by %s", session.SessionID, caller.UserID)
		return session, nil
	}

	return nil, fmt.Errorf("failed to generate unique session id")
}

// JoinSession enrolls the caller as a collaborator unless already present. Calling it
// again is a no-op that returns the current record.
func (s *SessionService) JoinSession(ctx context.Context, caller model.Identity, sessionID string) (*model.Session, bool, error) {
	return s.enroll(ctx, caller, sessionID)
}

// VerifySession resolves the caller's role on an active session, auto-enrolling anyone
// who is neither the creator nor an existing participant.
func (s *SessionService) VerifySession(ctx context.Context, caller model.Identity, sessionID string) (*model.Session, string, error) {
	session, err := s.repo.GetActive(ctx, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, "", ErrSessionNotFound
	}

	if session.IsCreator(caller.UserID) {
		return session, RoleCreator, nil
	}

	session, _, err = s.enroll(ctx, caller, sessionID)
	if err != nil {
		return nil, "", err
	}
	return session, RoleParticipant, nil
}

// Admit is the durable half of a realtime join: the session must be active and the
// caller ends up with exactly one participant row.
func (s *SessionService) Admit(ctx context.Context, caller model.Identity, sessionID string) (*model.Session, error) {
	session, added, err := s.enroll(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	if !added {
		if err := s.repo.TouchParticipant(ctx, sessionID, caller.UserID, time.Now()); err != nil {
			log.Printf("touch participant %s on %s failed: %v", caller.UserID, sessionID, err)
		}
	}
	return session, nil
}

func (s *SessionService) enroll(ctx context.Context, caller model.Identity, sessionID string) (*model.Session, bool, error) {
	session, err := s.repo.GetActive(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, false, ErrSessionNotFound
	}
	if session.HasParticipant(caller.UserID) {
		return session, false, nil
	}

	p := model.NewCollaborator(caller.UserID, caller.Username, time.Now())
	added, err := s.repo.AddParticipant(ctx, sessionID, p, session.MaxParticipants())
	if err != nil {
		return nil, false, fmt.Errorf("failed to add participant: %w", err)
	}

	// re-read either way: on success to return the new row, otherwise to learn whether
	// a concurrent request added it first, the cap was hit or the session ended
	session, err = s.repo.GetActive(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, false, ErrSessionNotFound
	}
	if added || session.HasParticipant(caller.UserID) {
		return session, added, nil
	}
	return nil, false, ErrSessionFull
}

// Leave removes the caller's participant row. The owner row is kept.
func (s *SessionService) Leave(ctx context.Context, caller model.Identity, sessionID string) error {
	removed, err := s.repo.RemoveParticipant(ctx, sessionID, caller.UserID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if removed {
		log.Printf("User %s left session %s", caller.UserID, sessionID)
	}
	return nil
}

// AuthorizeEnd reports whether the caller may end the session
func (s *SessionService) AuthorizeEnd(ctx context.Context, caller model.Identity, sessionID string) error {
	meta, err := s.meta(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta == nil || meta.Status != model.SessionActive {
		return ErrSessionNotFound
	}
	if meta.Creator != caller.UserID {
		return ErrForbidden
	}
	return nil
}

// EndSession completes an active session. Only the creator may end it.
func (s *SessionService) EndSession(ctx context.Context, caller model.Identity, sessionID string) (*model.Session, error) {
	if err := s.AuthorizeEnd(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	session, err := s.repo.End(ctx, sessionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if err := s.cache.Delete(ctx, sessionID); err != nil {
		log.Printf("session cache invalidation failed for %s: %v", sessionID, err)
	}
	log.Printf("Session %s ended by %s", sessionID, caller.UserID)
	return session, nil
}

// UpdateCursor upserts the caller's cursor on the durable record
func (s *SessionService) UpdateCursor(ctx context.Context, caller model.Identity, sessionID string, in CursorInput) error {
	if !in.Position.Valid() {
		return invalid("cursor", "line and column must be non-negative")
	}
	if in.Selection != nil && (!in.Selection.Start.Valid() || !in.Selection.End.Valid()) {
		return invalid("selection", "line and column must be non-negative")
	}

	found, err := s.repo.UpsertCursor(ctx, sessionID, model.Cursor{
		UserID:      caller.UserID,
		Position:    in.Position,
		Selection:   in.Selection,
		IsTyping:    true,
		LastUpdated: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	if !found {
		return ErrSessionNotFound
	}
	return nil
}

// PostChat appends a message to the session chat log
func (s *SessionService) PostChat(ctx context.Context, caller model.Identity, sessionID, text string, msgType model.MessageType) (*model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("text", "message is required")
	}
	if utf8.RuneCountInString(text) > model.MaxChatMessageLength {
		return nil, invalid("text", fmt.Sprintf("message exceeds %d characters", model.MaxChatMessageLength))
	}
	if msgType == "" {
		msgType = model.MessageText
	}
	if !msgType.Postable() {
		return nil, invalid("messageType", "must be text or code")
	}

	meta, err := s.meta(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Status != model.SessionActive {
		return nil, ErrSessionNotFound
	}
	if !meta.ChatEnabled {
		return nil, ErrChatDisabled
	}

	msg := &model.ChatMessage{
		UserID:      caller.UserID,
		Message:     text,
		MessageType: msgType,
		Timestamp:   time.Now(),
	}
	found, err := s.repo.AppendChat(ctx, sessionID, *msg)
	if err != nil {
		return nil, fmt.Errorf("failed to save chat message: %w", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return msg, nil
}

// ChatHistory returns the full chat log in storage order
func (s *SessionService) ChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	msgs, found, err := s.repo.ChatHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return msgs, nil
}

// meta reads session metadata through the cache, falling back to the store
func (s *SessionService) meta(ctx context.Context, sessionID string) (*model.SessionMeta, error) {
	meta, err := s.cache.GetMeta(ctx, sessionID)
	if err != nil {
		log.Printf("session cache read failed for %s: %v", sessionID, err)
	}
	if meta != nil {
		return meta, nil
	}

	session, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	s.cacheMeta(ctx, session)
	return session.Meta(), nil
}

func (s *SessionService) cacheMeta(ctx context.Context, session *model.Session) {
	if err := s.cache.SetMeta(ctx, session.Meta()); err != nil {
		log.Printf("session cache write failed for %s: %v", session.SessionID, err)
	}
}

func normalizeCreateInput(in *CreateSessionInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title", "title is required")
	}
	if utf8.RuneCountInString(in.Title) > model.MaxTitleLength {
		return invalid("title", fmt.Sprintf("title exceeds %d characters", model.MaxTitleLength))
	}
	if utf8.RuneCountInString(in.Description) > model.MaxDescriptionLength {
		return invalid("description", fmt.Sprintf("description exceeds %d characters", model.MaxDescriptionLength))
	}

	if in.Language == "" {
		in.Language = model.DefaultLanguage
	}
	if !model.IsSupportedLanguage(in.Language) {
		return invalid("language", "unsupported language "+in.Language)
	}

	if in.Difficulty == "" {
		in.Difficulty = string(model.DifficultyEasy)
	}
	if !model.Difficulty(in.Difficulty).IsValid() {
		return invalid("difficulty", "difficulty must be easy, medium or hard")
	}

	switch {
	case in.MaxParticipants == 0:
		in.MaxParticipants = model.DefaultMaxParticipants
	case in.MaxParticipants < 1 || in.MaxParticipants > model.MaxParticipantsCeiling:
		return invalid("maxParticipants", fmt.Sprintf("maxParticipants must be between 1 and %d", model.MaxParticipantsCeiling))
	}

	if in.Tags == nil {
		in.Tags = []string{}
	}
	return nil
}
