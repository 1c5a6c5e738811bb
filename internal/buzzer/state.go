package buzzer

import (
	"encoding/json"
	"time"
)

// GracePeriod is the minimum elapsed time after arming before a buzz is
// accepted. A client that fires the instant it receives the armed event
// has not reacted to anything, so buzzes inside this window are rejected
// with ReasonTooEarly. Clients must mirror this constant.
const GracePeriod = 500 * time.Millisecond

// Rejection reasons returned to a buzzing player. These strings are part
// of the wire protocol.
const (
	ReasonNotActive     = "Buzzer not active"
	ReasonAlreadyBuzzed = "Already buzzed"
	ReasonTooEarly      = "Too early"
)

// BuzzRecord captures a single accepted buzz. Immutable once created.
type BuzzRecord struct {
	ID         string `json:"id"`
	TeamID     string `json:"teamId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	TeamName   string `json:"teamName"`

	// ServerTimestamp is when the server received the attempt.
	ServerTimestamp time.Time `json:"serverTimestamp"`

	// ClientTimestamp is when the client believes it buzzed (epoch ms).
	// Untrusted, informational only.
	ClientTimestamp int64 `json:"clientTimestamp"`

	// TimeFromStart is the client-computed elapsed ms since arming.
	// Untrusted, but used as the ordering key; see rankingKey.
	TimeFromStart int64 `json:"timeFromStart"`

	// ServerTimeFromStart is the server-computed elapsed ms since arming.
	// Used only for grace-period gating, never for ordering.
	ServerTimeFromStart int64 `json:"serverTimeFromStart"`
}

// rankingKey is the value buzzes are ranked by within an arming window.
// The client-reported offset is used instead of server receipt time:
// per-connection network latency skews receipt order, while the client
// offset reflects actual reaction latency. The grace-period gate is the
// only defense against a client claiming an impossibly early offset.
// Ties keep insertion order (first processed by the server wins).
func rankingKey(r *BuzzRecord) int64 {
	return r.TimeFromStart
}

// BuzzerState holds the arming window and buzz ordering for one session.
type BuzzerState struct {
	IsActive  bool          `json:"isActive"`
	ArmedAt   *time.Time    `json:"armedAt,omitempty"`
	FirstBuzz *BuzzRecord   `json:"firstBuzz,omitempty"`
	BuzzOrder []*BuzzRecord `json:"buzzOrder"`

	// buzzedPlayers enforces at-most-one-buzz-per-player-per-window.
	// Always kept in sync with BuzzOrder; both are cleared together.
	buzzedPlayers map[string]struct{}
}

// TeamScore is one scoreboard entry.
type TeamScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Color string `json:"color"`
}

// GameState is the presenter-owned view of the session, replayed in full
// to every newly joined connection. CurrentQuestion is opaque to this
// engine; the presenter overwrites it wholesale.
type GameState struct {
	CurrentQuestion json.RawMessage      `json:"currentQuestion,omitempty"`
	IsPlaying       bool                 `json:"isPlaying"`
	BuzzStartTime   *time.Time           `json:"buzzStartTime,omitempty"`
	BuzzOrder       []*BuzzRecord        `json:"buzzOrder"`
	Scoreboard      map[string]TeamScore `json:"scoreboard"`
}

// clone returns a copy safe to hand outside the session lock. BuzzRecords
// are immutable so sharing the pointers is fine; the containers are copied.
func (g GameState) clone() GameState {
	out := g
	if g.BuzzOrder != nil {
		out.BuzzOrder = append([]*BuzzRecord(nil), g.BuzzOrder...)
	}
	if g.Scoreboard != nil {
		out.Scoreboard = make(map[string]TeamScore, len(g.Scoreboard))
		for id, ts := range g.Scoreboard {
			out.Scoreboard[id] = ts
		}
	}
	return out
}

func (b BuzzerState) clone() BuzzerState {
	out := b
	out.buzzedPlayers = nil
	if b.BuzzOrder != nil {
		out.BuzzOrder = append([]*BuzzRecord(nil), b.BuzzOrder...)
	}
	return out
}

// clear wipes all buzz data for the window. Callers hold the session lock.
func (b *BuzzerState) clear() {
	b.FirstBuzz = nil
	b.BuzzOrder = nil
	b.buzzedPlayers = make(map[string]struct{})
}
