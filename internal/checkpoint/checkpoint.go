// Package checkpoint persists the live code buffer of a session on a trailing debounce
// so that keystroke-rate edits never hit the durable store one by one.
package checkpoint

import (
	"codepair/internal/live"
	"codepair/internal/model"
	"codepair/internal/repository"
	"context"
	"log"
	"sync"
	"time"
)

// CodeStore is the durable half of a checkpoint
type CodeStore interface {
	SaveCode(ctx context.Context, sessionID string, save repository.CodeSave) (int, error)
}

type Config struct {
	// Debounce is the quiet period after the last edit before a save
	Debounce time.Duration
	// MaxWait bounds how long continuous typing can postpone a save
	MaxWait time.Duration
	// StoreTimeout bounds each durable save issued from a timer
	StoreTimeout time.Duration
	MaxHistory   int
}

func DefaultConfig() Config {
	return Config{
		Debounce:     2 * time.Second,
		MaxWait:      time.Duration(model.DefaultAutoSaveMS) * time.Millisecond,
		StoreTimeout: 5 * time.Second,
		MaxHistory:   model.DefaultMaxCodeHistory,
	}
}

type pending struct {
	timer *time.Timer
	first time.Time
}

// sessionLock serializes flushes of one session. It is dropped from the map once no
// flush holds or waits for it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type Service struct {
	store    CodeStore
	registry *live.Registry
	config   Config

	mu      sync.Mutex
	pending map[string]*pending
	locks   map[string]*sessionLock
	stopped bool
	wg      sync.WaitGroup
}

func New(store CodeStore, registry *live.Registry, config Config) *Service {
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.MaxWait < config.Debounce {
		config.MaxWait = config.Debounce
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Service{
		store:    store,
		registry: registry,
		config:   config,
		pending:  make(map[string]*pending),
		locks:    make(map[string]*sessionLock),
	}
}

// Schedule arms or re-arms the trailing save for sessionID
func (s *Service) Schedule(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	now := time.Now()
	p, ok := s.pending[sessionID]
	if !ok {
		p = &pending{first: now}
		p.timer = time.AfterFunc(s.config.Debounce, func() { s.fire(sessionID) })
		s.pending[sessionID] = p
		return
	}

	wait := s.config.Debounce
	if remaining := s.config.MaxWait - now.Sub(p.first); remaining < wait {
		wait = remaining
	}
	if wait < 0 {
		wait = 0
	}
	p.timer.Reset(wait)
}

// Pending reports whether a save is scheduled for sessionID
func (s *Service) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[sessionID]
	return ok
}

func (s *Service) fire(sessionID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, sessionID)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	if _, err := s.Flush(ctx, sessionID); err != nil {
		log.Printf("Checkpoint: save failed for session %s: %v", sessionID, err)
	}
}

// Flush saves the live code now if it changed since the last save. It returns the new
// durable version, or 0 when there was nothing to save.
func (s *Service) Flush(ctx context.Context, sessionID string) (int, error) {
	lock := s.acquire(sessionID)
	defer s.release(sessionID, lock)

	snap, ok := s.registry.Snapshot(sessionID)
	if !ok || !snap.Dirty() {
		return 0, nil
	}

	version, err := s.store.SaveCode(ctx, sessionID, repository.CodeSave{
		Code:       snap.Code,
		Language:   snap.Language,
		ModifiedBy: snap.LastEditor,
		SavedAt:    time.Now(),
		MaxHistory: s.config.MaxHistory,
	})
	if err != nil {
		return 0, err
	}
	if version == 0 {
		log.Printf("Checkpoint: session %s is gone or no longer active, dropping live code", sessionID)
		return 0, nil
	}

	s.registry.MarkSaved(sessionID, snap.Revision)
	log.Printf("Checkpoint: session %s saved at version %d", sessionID, version)
	return version, nil
}

// Cancel drops any scheduled save for sessionID
func (s *Service) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[sessionID]; ok {
		p.timer.Stop()
		delete(s.pending, sessionID)
	}
}

// Stop cancels the timers and flushes every session that still had a save pending
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	ids := make([]string, 0, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	s.pending = make(map[string]*pending)
	s.mu.Unlock()

	s.wg.Wait()

	for _, id := range ids {
		if _, err := s.Flush(ctx, id); err != nil {
			log.Printf("Checkpoint: final save failed for session %s: %v", id, err)
		}
	}
	log.Printf("Checkpoint service stopped (%d sessions flushed)", len(ids))
}

func (s *Service) acquire(sessionID string) *sessionLock {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) release(sessionID string, l *sessionLock) {
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, sessionID)
	}
}
