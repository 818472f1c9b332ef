// Package live holds the in-memory view of sessions that currently have connected
// participants. It is a cache for low-latency broadcast; the durable session record
// remains the recovery source after a restart.
package live

import (
	"sort"
	"sync"
	"time"
)

// Participant is a connected user's presence in a live session
type Participant struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"name"`
	ConnectionID string    `json:"clientId"`
	JoinedAt     time.Time `json:"joinedAt"`

	seq uint64
}

// Snapshot is a point-in-time copy of a live entry's code state
type Snapshot struct {
	SessionID     string
	Code          string
	Language      string
	LastEditor    string
	Revision      uint64
	SavedRevision uint64
}

// Dirty reports whether the live code changed since the last durable save
func (s Snapshot) Dirty() bool {
	return s.Revision != s.SavedRevision
}

type entry struct {
	code          string
	language      string
	lastEditor    string
	revision      uint64
	savedRevision uint64
	participants  map[string]*Participant // userID -> presence
	nextSeq       uint64
}

// endedTTL is how long an ended session refuses new live entries. It only has to
// outlast a join whose durable reads started before the session ended.
const endedTTL = 10 * time.Minute

// Registry maps session ids to their live state.
// All methods are synchronous map operations and never block on I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ended    map[string]time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		ended:    make(map[string]time.Time),
	}
}

// Ensure creates the entry for sessionID seeded with code and language if it does not
// exist. An existing entry is left untouched and an ended session is never recreated.
// Reports whether an entry was created.
func (r *Registry) Ensure(sessionID, code, language string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return false
	}
	if _, ok := r.ended[sessionID]; ok {
		return false
	}
	r.sessions[sessionID] = &entry{
		code:         code,
		language:     language,
		participants: make(map[string]*Participant),
	}
	return true
}

// SetParticipant records userID's presence through the given connection. A user
// reconnecting keeps their original join position.
func (r *Registry) SetParticipant(sessionID, userID string, p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}

	p.UserID = userID
	if existing, ok := e.participants[userID]; ok {
		p.seq = existing.seq
		p.JoinedAt = existing.JoinedAt
	} else {
		e.nextSeq++
		p.seq = e.nextSeq
		if p.JoinedAt.IsZero() {
			p.JoinedAt = time.Now()
		}
	}
	e.participants[userID] = &p
	return true
}

// RemoveParticipant drops userID's presence if it belongs to connID. An empty connID
// removes the presence regardless of connection.
func (r *Registry) RemoveParticipant(sessionID, userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	p, ok := e.participants[userID]
	if !ok {
		return false
	}
	if connID != "" && p.ConnectionID != connID {
		return false
	}
	delete(e.participants, userID)
	return true
}

// RemoveConnection removes every presence that references connID and returns the ids
// of the sessions it was removed from.
func (r *Registry) RemoveConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for sessionID, e := range r.sessions {
		for userID, p := range e.participants {
			if p.ConnectionID == connID {
				delete(e.participants, userID)
				affected = append(affected, sessionID)
			}
		}
	}
	sort.Strings(affected)
	return affected
}

// HasParticipant reports whether userID is present in the live session
func (r *Registry) HasParticipant(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	_, ok = e.participants[userID]
	return ok
}

// Participants returns the live presence list in join order
func (r *Registry) Participants(sessionID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return []Participant{}
	}

	out := make([]Participant, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// UpdateCode overwrites the live code unconditionally (last writer wins).
// Returns false when the session has no live entry.
func (r *Registry) UpdateCode(sessionID, code, language, editor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	e.code = code
	if language != "" {
		e.language = language
	}
	e.lastEditor = editor
	e.revision++
	return true
}

// Snapshot copies the code state of a live entry
func (r *Registry) Snapshot(sessionID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		SessionID:     sessionID,
		Code:          e.code,
		Language:      e.language,
		LastEditor:    e.lastEditor,
		Revision:      e.revision,
		SavedRevision: e.savedRevision,
	}, true
}

// MarkSaved records that revision has been persisted. Older revisions never move the
// saved marker backwards.
func (r *Registry) MarkSaved(sessionID string, revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[sessionID]; ok && revision > e.savedRevision {
		e.savedRevision = revision
	}
}

// IsEmpty reports whether the session has no connected participants. A missing entry
// counts as empty.
func (r *Registry) IsEmpty(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	return !ok || len(e.participants) == 0
}

// Exists reports whether the session has a live entry
func (r *Registry) Exists(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[sessionID]
	return ok
}

// End drops the live entry unconditionally and keeps the session from being recreated by a join that
// was already in flight when it ended.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, at := range r.ended {
		if now.Sub(at) > endedTTL {
			delete(r.ended, id)
		}
	}
	delete(r.sessions, sessionID)
	r.ended[sessionID] = now
}

// EvictIfEmpty drops the live entry only if nobody is present, checked under the same
// lock so a concurrent join cannot be lost.
func (r *Registry) EvictIfEmpty(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok || len(e.participants) > 0 {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// SessionIDs lists the live session ids in sorted order
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
