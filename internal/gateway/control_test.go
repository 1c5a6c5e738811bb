package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/triviarena/buzzrelay/internal/buzzer"
)

func postControl(t *testing.T, url string, kind CommandType, payload any) (int, ControlResponse) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(Command{Event: kind, Data: data})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}

	resp, err := http.Post(url+"/api/control", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var ack ControlResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return resp.StatusCode, ack
}

func TestControlPlaneRoutesThroughDispatcher(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := buzzer.NewStore(clock)
	d, cm := startGateway(t, store)

	mux := http.NewServeMux()
	NewControlHandler(d).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// A connection-joined viewer must observe control-plane mutations
	// through the same fan-out as connection-originated ones.
	viewer := addTestConn(cm)
	d.Dispatch(viewer, command(t, CmdJoinSession, JoinSessionData{SessionID: "G1"}))
	readEvent(t, viewer, EventGameStateUpdate)

	armedAt := clock.Now().UnixMilli()
	status, ack := postControl(t, srv.URL, CmdArmBuzzer, ArmBuzzerData{SessionID: "G1", ArmedAt: armedAt})
	if status != http.StatusOK || !ack.OK {
		t.Fatalf("arm ack = %d %+v", status, ack)
	}

	ev := readEvent(t, viewer, EventBuzzerArmed)
	var data BuzzerArmedData
	decodeData(t, ev, &data)
	if data.ArmedAt.UnixMilli() != armedAt {
		t.Errorf("armedAt = %d, want %d", data.ArmedAt.UnixMilli(), armedAt)
	}

	if !store.BuzzerSnapshot("G1").IsActive {
		t.Error("control-plane arm did not reach the store")
	}
}

func TestControlPlaneGameStateUpdate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := buzzer.NewStore(clock)
	d, cm := startGateway(t, store)

	mux := http.NewServeMux()
	NewControlHandler(d).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	viewer := addTestConn(cm)
	d.Dispatch(viewer, command(t, CmdJoinSession, JoinSessionData{SessionID: "G1"}))
	readEvent(t, viewer, EventGameStateUpdate)

	// The avatar-upload style flow: an HTTP-side mutation that must
	// notify the whole session without holding a connection.
	status, ack := postControl(t, srv.URL, CmdGameStateUpdate, GameStateUpdateData{
		SessionID: "G1",
		State: buzzer.GameState{
			IsPlaying:  true,
			Scoreboard: map[string]buzzer.TeamScore{"T1": {Name: "Alpha", Score: 700}},
		},
	})
	if status != http.StatusOK || !ack.OK {
		t.Fatalf("ack = %d %+v", status, ack)
	}

	ev := readEvent(t, viewer, EventGameStateUpdate)
	var state buzzer.GameState
	decodeData(t, ev, &state)
	if state.Scoreboard["T1"].Score != 700 {
		t.Errorf("broadcast scoreboard = %+v", state.Scoreboard)
	}
}

func TestControlPlaneRejections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := buzzer.NewStore(clock)
	d, _ := startGateway(t, store)

	mux := http.NewServeMux()
	NewControlHandler(d).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Unknown event kind.
	status, ack := postControl(t, srv.URL, "no-such-event", struct{}{})
	if status != http.StatusUnprocessableEntity || ack.OK {
		t.Errorf("unknown event: got %d %+v", status, ack)
	}

	// Domain rejection surfaces in the ack.
	status, ack = postControl(t, srv.URL, CmdBuzzIn, BuzzInData{SessionID: "G1", PlayerID: "P1", TimeFromStart: 700})
	if status != http.StatusUnprocessableEntity || ack.OK {
		t.Errorf("rejected buzz: got %d %+v", status, ack)
	}
	if ack.Error == "" || !bytes.Contains([]byte(ack.Error), []byte(buzzer.ReasonNotActive)) {
		t.Errorf("ack error = %q, want it to carry %q", ack.Error, buzzer.ReasonNotActive)
	}

	// join-session has no meaning without a connection.
	status, ack = postControl(t, srv.URL, CmdJoinSession, JoinSessionData{SessionID: "G1"})
	if status != http.StatusUnprocessableEntity || ack.OK {
		t.Errorf("control join: got %d %+v", status, ack)
	}

	// Malformed body.
	resp, err := http.Post(srv.URL+"/api/control", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: got %d, want 400", resp.StatusCode)
	}

	// Wrong method.
	resp, err = http.Get(srv.URL + "/api/control")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d, want 405", resp.StatusCode)
	}
}

func TestControlPlaneFullRound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := buzzer.NewStore(clock)
	d, _ := startGateway(t, store)

	mux := http.NewServeMux()
	NewControlHandler(d).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// arm → buzz → reset, entirely over the control plane, exercising
	// the identical store path as connection traffic.
	armedAt := clock.Now()
	if status, ack := postControl(t, srv.URL, CmdArmBuzzer, ArmBuzzerData{SessionID: "G1", ArmedAt: armedAt.UnixMilli()}); status != http.StatusOK || !ack.OK {
		t.Fatalf("arm: %d %+v", status, ack)
	}

	clock.Advance(time.Second)
	if status, ack := postControl(t, srv.URL, CmdBuzzIn, BuzzInData{SessionID: "G1", PlayerID: "P1", TimeFromStart: 930}); status != http.StatusOK || !ack.OK {
		t.Fatalf("buzz: %d %+v", status, ack)
	}
	if got := len(store.BuzzerSnapshot("G1").BuzzOrder); got != 1 {
		t.Fatalf("buzzOrder length = %d, want 1", got)
	}

	if status, ack := postControl(t, srv.URL, CmdResetBuzzer, ResetBuzzerData{SessionID: "G1"}); status != http.StatusOK || !ack.OK {
		t.Fatalf("reset: %d %+v", status, ack)
	}
	b := store.BuzzerSnapshot("G1")
	if b.IsActive || len(b.BuzzOrder) != 0 || b.FirstBuzz != nil {
		t.Errorf("state after reset = %+v", b)
	}
}
