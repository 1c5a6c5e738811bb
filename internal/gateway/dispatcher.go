package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/triviarena/buzzrelay/internal/buzzer"
)

// Dispatcher routes every inbound command - WebSocket, control-plane
// HTTP, NATS - through one typed handler table into the session store
// and back out through the fan-out. There is no second mutation path.
type Dispatcher struct {
	store    *buzzer.Store
	cm       *ConnectionManager
	handlers map[CommandType]commandHandler
}

// commandHandler handles one command kind. origin is nil for
// control-plane calls; handlers must not assume a live connection.
type commandHandler func(origin *Connection, data json.RawMessage) error

// NewDispatcher builds the handler table.
func NewDispatcher(store *buzzer.Store, cm *ConnectionManager) *Dispatcher {
	d := &Dispatcher{
		store: store,
		cm:    cm,
	}
	d.handlers = map[CommandType]commandHandler{
		CmdJoinSession:      d.handleJoinSession,
		CmdLeaveSession:     d.handleLeaveSession,
		CmdArmBuzzer:        d.handleArmBuzzer,
		CmdDeactivateBuzzer: d.handleDeactivateBuzzer,
		CmdResetBuzzer:      d.handleResetBuzzer,
		CmdBuzzIn:           d.handleBuzzIn,
		CmdGameStateUpdate:  d.handleGameStateUpdate,
	}
	return d
}

// HandleMessage implements MessageHandler for WebSocket traffic.
func (d *Dispatcher) HandleMessage(conn *Connection, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("dropping malformed client message")
		return
	}

	if err := d.Dispatch(conn, cmd); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Str("event", string(cmd.Event)).
			Msg("command not applied")
	}
}

// Dispatch routes one command envelope. The returned error reflects the
// outcome for request/response callers; WebSocket callers are informed
// through their own events (buzz-failed etc) instead.
func (d *Dispatcher) Dispatch(origin *Connection, cmd Command) error {
	handler, ok := d.handlers[cmd.Event]
	if !ok {
		return fmt.Errorf("unknown command type: %s", cmd.Event)
	}
	return handler(origin, cmd.Data)
}

// handleJoinSession adds the connection to the session's broadcast group
// and immediately replays the full GameState snapshot so reconnects and
// late joiners are brought current without waiting for the next delta.
func (d *Dispatcher) handleJoinSession(origin *Connection, data json.RawMessage) error {
	var payload JoinSessionData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse join-session: %w", err)
	}
	if origin == nil {
		return fmt.Errorf("join-session requires a connection")
	}

	// Lazily creates the session; joining an unknown session is not an
	// error.
	d.store.Ensure(payload.SessionID)
	d.cm.Join(origin, payload.SessionID)

	snapshot := d.store.Snapshot(payload.SessionID)
	d.cm.SendTo(origin, newEvent(payload.SessionID, EventGameStateUpdate, snapshot))
	return nil
}

func (d *Dispatcher) handleLeaveSession(origin *Connection, data json.RawMessage) error {
	var payload LeaveSessionData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse leave-session: %w", err)
	}
	if origin == nil {
		return fmt.Errorf("leave-session requires a connection")
	}
	d.cm.Leave(origin, payload.SessionID)
	return nil
}

func (d *Dispatcher) handleArmBuzzer(origin *Connection, data json.RawMessage) error {
	var payload ArmBuzzerData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse arm-buzzer: %w", err)
	}

	var armedAt time.Time
	if payload.ArmedAt != 0 {
		armedAt = time.UnixMilli(payload.ArmedAt)
	}
	armedAt = d.store.Arm(payload.SessionID, armedAt)

	d.cm.BroadcastToSession(payload.SessionID,
		newEvent(payload.SessionID, EventBuzzerArmed, BuzzerArmedData{ArmedAt: armedAt}))
	return nil
}

func (d *Dispatcher) handleDeactivateBuzzer(origin *Connection, data json.RawMessage) error {
	var payload DeactivateBuzzerData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse deactivate-buzzer: %w", err)
	}

	d.store.Deactivate(payload.SessionID)
	d.cm.BroadcastToSession(payload.SessionID,
		newEvent(payload.SessionID, EventBuzzerDeactivated, BuzzerDeactivatedData{Reason: "deactivated"}))
	return nil
}

// handleResetBuzzer has the same internal effect as deactivate but emits
// a distinct signal so clients can tell the two apart.
func (d *Dispatcher) handleResetBuzzer(origin *Connection, data json.RawMessage) error {
	var payload ResetBuzzerData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse reset-buzzer: %w", err)
	}

	d.store.Reset(payload.SessionID)
	d.cm.BroadcastToSession(payload.SessionID,
		newEvent(payload.SessionID, EventBuzzerReset, nil))
	return nil
}

// handleBuzzIn arbitrates a buzz attempt. The buzzing connection gets an
// individually addressed result; the whole session gets the updated
// order, and first-buzz exactly once per window.
func (d *Dispatcher) handleBuzzIn(origin *Connection, data json.RawMessage) error {
	var payload BuzzInData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse buzz-in: %w", err)
	}

	result := d.store.Buzz(buzzer.BuzzRequest{
		SessionID:       payload.SessionID,
		TeamID:          payload.TeamID,
		PlayerID:        payload.PlayerID,
		PlayerName:      payload.PlayerName,
		TeamName:        payload.TeamName,
		ClientTimestamp: payload.ClientTimestamp,
		TimeFromStart:   payload.TimeFromStart,
	})

	if !result.Accepted {
		d.cm.SendTo(origin, newEvent(payload.SessionID, EventBuzzFailed, BuzzFailedData{
			PlayerID: payload.PlayerID,
			Reason:   result.Reason,
		}))
		return fmt.Errorf("buzz rejected: %s", result.Reason)
	}

	d.cm.SendTo(origin, newEvent(payload.SessionID, EventBuzzSuccess, BuzzSuccessData{
		PlayerID:      payload.PlayerID,
		IsFirst:       result.IsFirst,
		TimeFromStart: result.Record.TimeFromStart,
	}))

	// The buzzer already learned isFirst from its own result; the rest
	// of the session gets the reduced first-buzz notice.
	if result.IsFirst {
		d.cm.BroadcastToOthers(payload.SessionID, origin,
			newEvent(payload.SessionID, EventFirstBuzz, result.Record))
	}
	d.cm.BroadcastToSession(payload.SessionID,
		newEvent(payload.SessionID, EventBuzzOrderUpdate, BuzzOrderUpdateData{BuzzOrder: result.Order}))
	return nil
}

// handleGameStateUpdate replaces the session's GameState wholesale and
// rebroadcasts the applied snapshot to everyone, presenter included.
func (d *Dispatcher) handleGameStateUpdate(origin *Connection, data json.RawMessage) error {
	var payload GameStateUpdateData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse game-state-update: %w", err)
	}

	applied := d.store.SetGameState(payload.SessionID, payload.State)
	d.cm.BroadcastToSession(payload.SessionID,
		newEvent(payload.SessionID, EventGameStateUpdate, applied))
	return nil
}
