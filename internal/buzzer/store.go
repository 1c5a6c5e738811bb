package buzzer

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// session owns the mutable state for one game. Its mutex linearizes every
// mutation for that session; unrelated sessions never contend.
type session struct {
	mu   sync.Mutex
	buzz BuzzerState
	game GameState
}

// Store is the single source of truth for per-session buzzer and game
// state. Sessions are created lazily on first use and live for the
// process lifetime. The store is injected and explicitly owned by the
// server, so multiple isolated stores can coexist in one process.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	clock    clockwork.Clock
}

// NewStore creates an empty store. Pass clockwork.NewRealClock() in
// production; tests use a FakeClock to step across the grace period.
func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		sessions: make(map[string]*session),
		clock:    clock,
	}
}

// getOrCreate returns the session for id, creating it on first use.
func (s *Store) getOrCreate(id string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; ok {
		return sess
	}
	sess = &session{}
	sess.buzz.buzzedPlayers = make(map[string]struct{})
	s.sessions[id] = sess
	return sess
}

// Ensure creates the session for id if it does not exist yet. Joining a
// not-yet-existing session is not an error.
func (s *Store) Ensure(id string) {
	s.getOrCreate(id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns a consistent copy of the session's GameState, taken
// under the session lock so a concurrent buzz never tears the read.
func (s *Store) Snapshot(id string) GameState {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.game.clone()
}

// BuzzerSnapshot returns a consistent copy of the session's BuzzerState.
func (s *Store) BuzzerSnapshot(id string) BuzzerState {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.buzz.clone()
}

// SetGameState replaces the session's GameState wholesale (presenter
// push). The engine does not interpret CurrentQuestion. Returns the
// applied snapshot for broadcasting.
func (s *Store) SetGameState(id string, state GameState) GameState {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.game = state.clone()
	return sess.game.clone()
}
