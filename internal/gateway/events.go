package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/triviarena/buzzrelay/internal/buzzer"
)

// CommandType identifies a client-originated command. Commands arrive
// over the WebSocket, the control-plane HTTP endpoint, or the optional
// NATS consumer; all three carry the same envelope.
type CommandType string

const (
	CmdJoinSession      CommandType = "join-session"
	CmdLeaveSession     CommandType = "leave-session"
	CmdArmBuzzer        CommandType = "arm-buzzer"
	CmdDeactivateBuzzer CommandType = "deactivate-buzzer"
	CmdResetBuzzer      CommandType = "reset-buzzer"
	CmdBuzzIn           CommandType = "buzz-in"
	CmdGameStateUpdate  CommandType = "game-state-update"
)

// Command is the envelope for every inbound mutation.
type Command struct {
	Event CommandType     `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EventType identifies a server-originated event.
type EventType string

const (
	EventGameStateUpdate   EventType = "game-state-update"
	EventBuzzerArmed       EventType = "buzzer-armed"
	EventBuzzerDeactivated EventType = "buzzer-deactivated"
	EventBuzzerReset       EventType = "buzzer-reset"
	EventBuzzSuccess       EventType = "buzz-success"
	EventBuzzFailed        EventType = "buzz-failed"
	EventFirstBuzz         EventType = "first-buzz"
	EventBuzzOrderUpdate   EventType = "buzz-order-update"
)

// ServerEvent is the envelope pushed to clients.
type ServerEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Event     EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func newEvent(sessionID string, kind EventType, data any) *ServerEvent {
	return &ServerEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Event:     kind,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Command payloads. Every payload carries the target session id.

type JoinSessionData struct {
	SessionID string `json:"sessionId"`
}

type LeaveSessionData struct {
	SessionID string `json:"sessionId"`
}

type ArmBuzzerData struct {
	SessionID string `json:"sessionId"`
	// ArmedAt is the presenter-supplied start time in epoch ms; zero
	// means the server clock at receipt.
	ArmedAt int64 `json:"armedAt"`
}

type DeactivateBuzzerData struct {
	SessionID string `json:"sessionId"`
}

type ResetBuzzerData struct {
	SessionID string `json:"sessionId"`
}

type BuzzInData struct {
	SessionID       string `json:"sessionId"`
	TeamID          string `json:"teamId"`
	PlayerID        string `json:"playerId"`
	PlayerName      string `json:"playerName"`
	TeamName        string `json:"teamName"`
	ClientTimestamp int64  `json:"clientTimestamp"`
	TimeFromStart   int64  `json:"timeFromStart"`
}

type GameStateUpdateData struct {
	SessionID string           `json:"sessionId"`
	State     buzzer.GameState `json:"state"`
}

// Server event payloads.

type BuzzerArmedData struct {
	ArmedAt time.Time `json:"armedAt"`
}

type BuzzerDeactivatedData struct {
	Reason string `json:"reason"`
}

type BuzzSuccessData struct {
	PlayerID      string `json:"playerId"`
	IsFirst       bool   `json:"isFirst"`
	TimeFromStart int64  `json:"timeFromStart"`
}

type BuzzFailedData struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

type BuzzOrderUpdateData struct {
	BuzzOrder []*buzzer.BuzzRecord `json:"buzzOrder"`
}

// ParseCommandData parses a command envelope's data into the payload
// struct for its type.
func ParseCommandData(cmd Command) (any, error) {
	switch cmd.Event {
	case CmdJoinSession:
		var payload JoinSessionData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case CmdLeaveSession:
		var payload LeaveSessionData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case CmdArmBuzzer:
		var payload ArmBuzzerData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case CmdDeactivateBuzzer:
		var payload DeactivateBuzzerData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case CmdResetBuzzer:
		var payload ResetBuzzerData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case CmdBuzzIn:
		var payload BuzzInData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case CmdGameStateUpdate:
		var payload GameStateUpdateData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown command type: %s", cmd.Event)
	}
}
