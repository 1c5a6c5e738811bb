package buzzer

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BuzzRequest is one player's attempt to buzz in. Identity fields are
// asserted by the client; ClientTimestamp and TimeFromStart are epoch ms
// and elapsed ms as computed by the client.
type BuzzRequest struct {
	SessionID       string
	TeamID          string
	PlayerID        string
	PlayerName      string
	TeamName        string
	ClientTimestamp int64
	TimeFromStart   int64
}

// BuzzResult reports the outcome of a buzz attempt. On rejection only
// Reason is set; a rejected buzz is final for the current window.
type BuzzResult struct {
	Accepted bool
	IsFirst  bool
	Reason   string
	Record   *BuzzRecord
	// Order is the full buzz order after this attempt, for broadcasting.
	Order []*BuzzRecord
}

// Arm opens a new arming window for the session. All buzz data from the
// previous window is cleared atomically. Re-arming while already armed
// simply restarts the window (used when moving to the next question).
// A zero armedAt means "now" on the server clock. Returns the effective
// armed time for broadcasting.
func (s *Store) Arm(sessionID string, armedAt time.Time) time.Time {
	if armedAt.IsZero() {
		armedAt = s.clock.Now()
	}

	sess := s.getOrCreate(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.buzz.IsActive = true
	sess.buzz.ArmedAt = &armedAt
	sess.buzz.clear()
	sess.game.BuzzStartTime = &armedAt
	sess.game.BuzzOrder = nil

	log.Info().
		Str("session_id", sessionID).
		Time("armed_at", armedAt).
		Msg("buzzer armed")
	return armedAt
}

// Deactivate closes the arming window and clears all buzz data.
func (s *Store) Deactivate(sessionID string) {
	s.closeWindow(sessionID)
	log.Info().Str("session_id", sessionID).Msg("buzzer deactivated")
}

// Reset is semantically identical to Deactivate inside the arbiter; it
// exists as a distinct externally-visible signal so clients can tell
// "closed because answered" from "manually reset".
func (s *Store) Reset(sessionID string) {
	s.closeWindow(sessionID)
	log.Info().Str("session_id", sessionID).Msg("buzzer reset")
}

func (s *Store) closeWindow(sessionID string) {
	sess := s.getOrCreate(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.buzz.IsActive = false
	sess.buzz.ArmedAt = nil
	sess.buzz.clear()
	sess.game.BuzzStartTime = nil
	sess.game.BuzzOrder = nil
}

// Buzz validates and records a buzz attempt. Validation short-circuits in
// order: window active, player not already buzzed, grace period elapsed.
// Validation and insertion happen under the session lock, so concurrent
// attempts for the same session are linearized and a failed attempt never
// leaves partial state behind.
func (s *Store) Buzz(req BuzzRequest) BuzzResult {
	sess := s.getOrCreate(req.SessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	b := &sess.buzz
	if !b.IsActive || b.ArmedAt == nil {
		return BuzzResult{Reason: ReasonNotActive}
	}
	if _, dup := b.buzzedPlayers[req.PlayerID]; dup {
		return BuzzResult{Reason: ReasonAlreadyBuzzed}
	}

	now := s.clock.Now()
	serverOffset := now.Sub(*b.ArmedAt).Milliseconds()
	if serverOffset < GracePeriod.Milliseconds() {
		log.Debug().
			Str("session_id", req.SessionID).
			Str("player_id", req.PlayerID).
			Int64("server_offset_ms", serverOffset).
			Msg("buzz rejected inside grace period")
		return BuzzResult{Reason: ReasonTooEarly}
	}

	rec := &BuzzRecord{
		ID:                  uuid.NewString(),
		TeamID:              req.TeamID,
		PlayerID:            req.PlayerID,
		PlayerName:          req.PlayerName,
		TeamName:            req.TeamName,
		ServerTimestamp:     now,
		ClientTimestamp:     req.ClientTimestamp,
		TimeFromStart:       req.TimeFromStart,
		ServerTimeFromStart: serverOffset,
	}

	b.buzzedPlayers[req.PlayerID] = struct{}{}
	b.BuzzOrder = append(b.BuzzOrder, rec)
	sort.SliceStable(b.BuzzOrder, func(i, j int) bool {
		return rankingKey(b.BuzzOrder[i]) < rankingKey(b.BuzzOrder[j])
	})

	isFirst := b.FirstBuzz == nil
	if isFirst {
		b.FirstBuzz = rec
	}

	// Mirror the order into the GameState snapshot replayed on join.
	sess.game.BuzzOrder = append([]*BuzzRecord(nil), b.BuzzOrder...)

	log.Debug().
		Str("session_id", req.SessionID).
		Str("player_id", req.PlayerID).
		Int64("time_from_start_ms", req.TimeFromStart).
		Bool("is_first", isFirst).
		Int("order_len", len(b.BuzzOrder)).
		Msg("buzz accepted")

	return BuzzResult{
		Accepted: true,
		IsFirst:  isFirst,
		Record:   rec,
		Order:    append([]*BuzzRecord(nil), b.BuzzOrder...),
	}
}
