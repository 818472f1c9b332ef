// Package repotest provides an in-memory repository.SessionRepo for tests.
package repotest

import (
	"codepair/internal/model"
	"codepair/internal/repository"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionRepo mirrors the Mongo repository's filter semantics on a map. Every
// returned session is a copy.
type SessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	err   error
	calls map[string]int
}

var _ repository.SessionRepo = (*SessionRepo)(nil)

// ErrStoreDown is a convenience failure for tests
var ErrStoreDown = errors.New("store unavailable")

// NewSessionRepo creates an empty in-memory store
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		sessions: make(map[string]*model.Session),
		calls:    make(map[string]int),
	}
}

// Put stores a session as-is, replacing any previous one with the same id
func (r *SessionRepo) Put(s *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID] = clone(s)
}

// Get returns a copy of the stored session without counting a call
func (r *SessionRepo) Get(sessionID string) *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return clone(s)
	}
	return nil
}

// SetErr makes every subsequent call fail with err; nil restores normal behaviour
func (r *SessionRepo) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// CallCount returns how many times method was invoked
func (r *SessionRepo) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *SessionRepo) begin(method string) error {
	r.calls[method]++
	return r.err
}

func (r *SessionRepo) active(sessionID string) *model.Session {
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != model.SessionActive {
		return nil
	}
	return s
}

func (r *SessionRepo) EnsureIndexes(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begin("EnsureIndexes")
}

func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("Create"); err != nil {
		return err
	}
	if _, ok := r.sessions[session.SessionID]; ok {
		return repository.ErrDuplicateSessionID
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	r.sessions[session.SessionID] = clone(session)
	return nil
}

func (r *SessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("GetBySessionID"); err != nil {
		return nil, err
	}
	if s, ok := r.sessions[sessionID]; ok {
		return clone(s), nil
	}
	return nil, nil
}

func (r *SessionRepo) GetActive(ctx context.Context, sessionID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("GetActive"); err != nil {
		return nil, err
	}
	if s := r.active(sessionID); s != nil {
		return clone(s), nil
	}
	return nil, nil
}

func (r *SessionRepo) AddParticipant(ctx context.Context, sessionID string, p model.Participant, maxParticipants int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("AddParticipant"); err != nil {
		return false, err
	}
	s := r.active(sessionID)
	if s == nil || s.HasParticipant(p.UserID) {
		return false, nil
	}
	if maxParticipants > 0 && len(s.Participants) >= maxParticipants {
		return false, nil
	}
	s.Participants = append(s.Participants, p)
	s.UpdatedAt = time.Now()
	return true, nil
}

func (r *SessionRepo) TouchParticipant(ctx context.Context, sessionID, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("TouchParticipant"); err != nil {
		return err
	}
	if s, ok := r.sessions[sessionID]; ok {
		if p, ok := s.Participant(userID); ok {
			p.LastActive = at
		}
	}
	return nil
}

func (r *SessionRepo) RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("RemoveParticipant"); err != nil {
		return false, err
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return false, nil
	}
	removed := false
	kept := s.Participants[:0]
	for _, p := range s.Participants {
		if p.UserID == userID && p.Role != model.RoleOwner {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.Participants = kept
	if removed {
		s.UpdatedAt = time.Now()
	}
	return removed, nil
}

func (r *SessionRepo) SaveCode(ctx context.Context, sessionID string, save repository.CodeSave) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("SaveCode"); err != nil {
		return 0, err
	}
	s := r.active(sessionID)
	if s == nil {
		return 0, nil
	}
	maxHistory := save.MaxHistory
	if maxHistory <= 0 {
		maxHistory = model.DefaultMaxCodeHistory
	}
	if s.CodeState.Version == 0 {
		s.CodeState.Version = 1
	}
	s.CodeHistory = append(s.CodeHistory, model.CodeRevision{
		Version:           s.CodeState.Version,
		Code:              s.CodeState.Code,
		ChangeDescription: "Updated by " + save.ModifiedBy,
		ChangedBy:         save.ModifiedBy,
		Timestamp:         save.SavedAt,
	})
	if len(s.CodeHistory) > maxHistory {
		s.CodeHistory = s.CodeHistory[len(s.CodeHistory)-maxHistory:]
	}
	s.CodeState.Code = save.Code
	s.CodeState.Language = save.Language
	s.CodeState.Version++
	s.CodeState.LastSaved = save.SavedAt
	s.CodeState.LastModifiedBy = save.ModifiedBy
	s.UpdatedAt = save.SavedAt
	return s.CodeState.Version, nil
}

func (r *SessionRepo) UpsertCursor(ctx context.Context, sessionID string, cursor model.Cursor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("UpsertCursor"); err != nil {
		return false, err
	}
	s := r.active(sessionID)
	if s == nil {
		return false, nil
	}
	for i := range s.Cursors {
		if s.Cursors[i].UserID == cursor.UserID {
			s.Cursors[i].Position = cursor.Position
			s.Cursors[i].LastUpdated = cursor.LastUpdated
			if cursor.Selection != nil {
				s.Cursors[i].Selection = cursor.Selection
			}
			return true, nil
		}
	}
	s.Cursors = append(s.Cursors, cursor)
	return true, nil
}

func (r *SessionRepo) AppendChat(ctx context.Context, sessionID string, msg model.ChatMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("AppendChat"); err != nil {
		return false, err
	}
	s := r.active(sessionID)
	if s == nil {
		return false, nil
	}
	s.Chat = append(s.Chat, msg)
	s.UpdatedAt = msg.Timestamp
	return true, nil
}

func (r *SessionRepo) ChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("ChatHistory"); err != nil {
		return nil, false, err
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.ChatMessage, len(s.Chat))
	copy(out, s.Chat)
	return out, true, nil
}

func (r *SessionRepo) End(ctx context.Context, sessionID string, endedAt time.Time) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin("End"); err != nil {
		return nil, err
	}
	s := r.active(sessionID)
	if s == nil {
		return nil, nil
	}
	s.Status = model.SessionCompleted
	s.EndedAt = &endedAt
	s.CollaborationState.IsActive = false
	s.Duration = int(math.Round(endedAt.Sub(s.StartedAt).Minutes()))
	s.UpdatedAt = endedAt
	return clone(s), nil
}

func clone(s *model.Session) *model.Session {
	c := *s
	c.Tags = append([]string(nil), s.Tags...)
	c.CodeHistory = append([]model.CodeRevision(nil), s.CodeHistory...)
	c.Participants = append([]model.Participant(nil), s.Participants...)
	c.Cursors = append([]model.Cursor(nil), s.Cursors...)
	c.Chat = append([]model.ChatMessage(nil), s.Chat...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
