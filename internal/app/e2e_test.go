package app

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ygame/internal/game"
	"ygame/internal/lobby"
	"ygame/pkg/config"
	"ygame/pkg/protocol"
	v1 "ygame/pkg/protocol/v1"
)

const waitFor = 2 * time.Second

// newTestStack boots a lobby and an HTTP server around it, returning the
// websocket endpoint URL. Seat assignment is pinned to the first empty
// seat so the scenarios are deterministic.
func newTestStack(t *testing.T, mod func(*config.Config)) string {
	t.Helper()

	cfg := config.Default()
	if mod != nil {
		mod(cfg)
	}

	lb := lobby.New(lobby.Options{
		BroadcastDelay: time.Millisecond,
		GameDefaults: game.Options{
			FanoutDelay: time.Millisecond,
			SeatPicker:  func(int) int { return 0 },
		},
	})
	lb.Start()

	srv := NewServer(cfg, lb, nil)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		lb.Stop()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitFor))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read a frame: %v", err)
	}
	return msgType, data
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	msgType, data := readFrame(t, conn)
	if msgType != websocket.TextMessage {
		t.Fatalf("Expected a text frame, got type %d", msgType)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to unmarshal %s: %v", data, err)
	}
}

func writeJSONText(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("Failed to write a text frame: %v", err)
	}
}

func writeBinary(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	data, err := v1.Encode(msg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("Failed to write a binary frame: %v", err)
	}
}

func doHandshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSONText(t, conn, `{"known_protocols":[1]}`)
	var resp protocol.HelloResponse
	readJSON(t, conn, &resp)
	if resp.Success == nil || resp.Success.ProtocolVersion != 1 {
		t.Fatalf("Expected a successful handshake, got %+v", resp)
	}
}

func doLogin(t *testing.T, conn *websocket.Conn, name string, uid, sessionUID *string) *v1.LoginResponse {
	t.Helper()
	writeBinary(t, conn, v1.LoginMessage{Name: name, UID: uid, SessionUID: sessionUID})
	msgType, data := readFrame(t, conn)
	if msgType != websocket.BinaryMessage {
		t.Fatalf("Expected a binary login response, got type %d: %s", msgType, data)
	}
	resp, err := v1.DecodeLoginResponse(data)
	if err != nil {
		t.Fatalf("Failed to decode the login response: %v", err)
	}
	return resp
}

// waitServerMessage reads binary frames until one matches, skipping
// unrelated broadcasts.
func waitServerMessage(t *testing.T, conn *websocket.Conn, pred func(*v1.RunningServerMessage) bool) *v1.RunningServerMessage {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(waitFor))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read a frame: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			t.Fatalf("Unexpected text frame while waiting: %s", data)
		}
		msg, err := v1.DecodeRunningServerMessage(data)
		if err != nil {
			continue
		}
		if pred(msg) {
			return msg
		}
	}
	t.Fatal("Timed out waiting for a server message")
	return nil
}

// waitErrorMessage reads frames until a text frame arrives, skipping any
// in-flight binary broadcasts.
func waitErrorMessage(t *testing.T, conn *websocket.Conn) protocol.ErrorMessage {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(waitFor))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read a frame: %v", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var errMsg protocol.ErrorMessage
		if err := json.Unmarshal(data, &errMsg); err != nil {
			t.Fatalf("Failed to unmarshal %s: %v", data, err)
		}
		return errMsg
	}
	t.Fatal("Timed out waiting for an error frame")
	return protocol.ErrorMessage{}
}

func isLobbyTag(tag string) func(*v1.RunningServerMessage) bool {
	return func(msg *v1.RunningServerMessage) bool {
		return msg.Lobby != nil && msg.Lobby.Type == tag
	}
}

func isGameTag(tag string) func(*v1.RunningServerMessage) bool {
	return func(msg *v1.RunningServerMessage) bool {
		return msg.Game != nil && msg.Game.Message.Type == tag
	}
}

// TestFreshLogin covers the first end-to-end scenario: handshake, login
// with no prior identity, then an empty game list.
func TestFreshLogin(t *testing.T) {
	wsURL := newTestStack(t, nil)
	conn := dial(t, wsURL)
	doHandshake(t, conn)

	resp := doLogin(t, conn, "Ada", nil, nil)
	if resp.Name != "Ada" {
		t.Errorf("Expected name Ada, got %s", resp.Name)
	}
	if _, err := uuid.Parse(resp.UserUID); err != nil {
		t.Errorf("Expected a valid user uid, got %q", resp.UserUID)
	}
	if _, err := uuid.Parse(resp.SessionUID); err != nil {
		t.Errorf("Expected a valid session uid, got %q", resp.SessionUID)
	}

	writeBinary(t, conn, v1.RunningClientMessage{
		Type:  v1.ClientTagLobby,
		Lobby: &v1.LobbyClientMessage{Type: v1.LobbyTagAskGameList},
	})
	msg := waitServerMessage(t, conn, isLobbyTag(v1.LobbyTagGameList))
	if len(msg.Lobby.List) != 0 {
		t.Errorf("Expected an empty game list, got %+v", msg.Lobby.List)
	}
}

// TestCreateAndJoinFlow covers scenarios two and three: creating a game,
// the lobby broadcast, the join filling the game, and the Init fan-out.
func TestCreateAndJoinFlow(t *testing.T) {
	wsURL := newTestStack(t, nil)

	connA := dial(t, wsURL)
	doHandshake(t, connA)
	doLogin(t, connA, "Ada", nil, nil)

	connB := dial(t, wsURL)
	doHandshake(t, connB)
	loginB := doLogin(t, connB, "Bob", nil, nil)

	writeBinary(t, connA, v1.RunningClientMessage{
		Type:  v1.ClientTagLobby,
		Lobby: &v1.LobbyClientMessage{Type: v1.LobbyTagCreateGame, RequestUID: "r1"},
	})

	created := waitServerMessage(t, connA, isLobbyTag(v1.LobbyTagGameCreated))
	if created.Lobby.RequestUID != "r1" {
		t.Errorf("Expected request uid r1, got %s", created.Lobby.RequestUID)
	}
	if created.Lobby.Role != v1.RoleSeat1 {
		t.Errorf("Expected the creator to take Seat1, got %s", created.Lobby.Role)
	}
	if created.Lobby.Info == nil {
		t.Fatal("Expected game details in GameCreated")
	}
	if created.Lobby.Info.Seat1Username == nil || *created.Lobby.Info.Seat1Username != "Ada" {
		t.Errorf("Expected seat 1 to carry the creator's name, got %v", created.Lobby.Info.Seat1Username)
	}
	if created.Lobby.Info.Seat2Username != nil {
		t.Errorf("Expected seat 2 to be empty, got %v", *created.Lobby.Info.Seat2Username)
	}
	gameID := created.Lobby.Info.ID

	// B sees the new game as joinable.
	newGame := waitServerMessage(t, connB, isLobbyTag(v1.LobbyTagNewGame))
	if newGame.Lobby.Overview.ID != gameID {
		t.Errorf("Expected overview for %s, got %s", gameID, newGame.Lobby.Overview.ID)
	}
	if newGame.Lobby.Overview.Status != v1.StatusJoinable {
		t.Errorf("Expected status Joinable, got %d", newGame.Lobby.Overview.Status)
	}

	// B joins and takes the other seat.
	writeBinary(t, connB, v1.RunningClientMessage{
		Type:  v1.ClientTagLobby,
		Lobby: &v1.LobbyClientMessage{Type: v1.LobbyTagJoinGame, GameUID: gameID},
	})
	joined := waitServerMessage(t, connB, isLobbyTag(v1.LobbyTagGameJoined))
	if joined.Lobby.Role != v1.RoleSeat2 {
		t.Errorf("Expected Seat2 for the joiner, got %s", joined.Lobby.Role)
	}
	if len(joined.Lobby.Moves) != 0 {
		t.Errorf("Expected no moves yet, got %v", joined.Lobby.Moves)
	}
	if joined.Lobby.Info.Seat2Username == nil || *joined.Lobby.Info.Seat2Username != "Bob" {
		t.Errorf("Expected seat 2 to carry Bob, got %v", joined.Lobby.Info.Seat2Username)
	}

	// A (and only A) sees Bob's UserJoin, then both see Init.
	userJoin := waitServerMessage(t, connA, isGameTag(v1.GameTagUserJoin))
	if userJoin.Game.GameID != gameID {
		t.Errorf("Expected game %s, got %s", gameID, userJoin.Game.GameID)
	}
	if userJoin.Game.Message.UserUID != loginB.UserUID || userJoin.Game.Message.Username != "Bob" {
		t.Errorf("Unexpected UserJoin: %+v", userJoin.Game.Message)
	}
	if userJoin.Game.Message.Role != v1.RoleSeat2 {
		t.Errorf("Expected Bob on Seat2, got %s", userJoin.Game.Message.Role)
	}

	for _, conn := range []*websocket.Conn{connA, connB} {
		initMsg := waitServerMessage(t, conn, isGameTag(v1.GameTagAction))
		if initMsg.Game.Message.Action != v1.ActionInit {
			t.Errorf("Expected the Init action, got %s", initMsg.Game.Message.Action)
		}
	}

	// Double-join from the same connection is refused.
	writeBinary(t, connB, v1.RunningClientMessage{
		Type:  v1.ClientTagLobby,
		Lobby: &v1.LobbyClientMessage{Type: v1.LobbyTagJoinGame, GameUID: gameID},
	})
	errMsg := waitErrorMessage(t, connB)
	if errMsg.ErrorCode == nil || *errMsg.ErrorCode != protocol.CodeGameAlreadyJoined {
		t.Errorf("Expected error %d, got %+v", protocol.CodeGameAlreadyJoined, errMsg)
	}

	// An action from A round-trips with the request id and fans out to B.
	writeBinary(t, connA, v1.RunningClientMessage{
		Type: v1.ClientTagGame,
		Game: &v1.GameActionRequest{GameID: gameID, RequestID: "req-9", Action: v1.ActionMove},
	})
	resp := waitServerMessage(t, connA, isGameTag(v1.GameTagActionResponse))
	if resp.Game.Message.RequestID != "req-9" {
		t.Errorf("Expected request id req-9, got %s", resp.Game.Message.RequestID)
	}
	if resp.Game.Message.Response == nil || resp.Game.Message.Response.Type != v1.ResponseTagOk {
		t.Errorf("Expected Ok, got %+v", resp.Game.Message.Response)
	}
	move := waitServerMessage(t, connB, isGameTag(v1.GameTagAction))
	if move.Game.Message.Action != v1.ActionMove {
		t.Errorf("Expected the Move to fan out, got %s", move.Game.Message.Action)
	}
}

// TestSessionResume covers the fourth scenario: the same identity comes
// back after a reconnect.
func TestSessionResume(t *testing.T) {
	wsURL := newTestStack(t, nil)

	conn := dial(t, wsURL)
	doHandshake(t, conn)
	first := doLogin(t, conn, "Ada", nil, nil)
	conn.Close()

	conn2 := dial(t, wsURL)
	doHandshake(t, conn2)
	second := doLogin(t, conn2, "Ada", &first.UserUID, &first.SessionUID)
	if second.UserUID != first.UserUID || second.SessionUID != first.SessionUID {
		t.Errorf("Expected the identity to survive the reconnect: %+v vs %+v", first, second)
	}
}

// TestHeartbeatTimeout covers the fifth scenario: a silent client is
// dropped and its games learn about it.
func TestHeartbeatTimeout(t *testing.T) {
	wsURL := newTestStack(t, func(cfg *config.Config) {
		cfg.WebSocket.HeartbeatInterval = config.Duration(50 * time.Millisecond)
		cfg.WebSocket.ClientTimeout = config.Duration(250 * time.Millisecond)
	})

	connA := dial(t, wsURL)
	doHandshake(t, connA)
	doLogin(t, connA, "Ada", nil, nil)

	connB := dial(t, wsURL)
	doHandshake(t, connB)
	loginB := doLogin(t, connB, "Bob", nil, nil)

	writeBinary(t, connA, v1.RunningClientMessage{
		Type:  v1.ClientTagLobby,
		Lobby: &v1.LobbyClientMessage{Type: v1.LobbyTagCreateGame, RequestUID: "r1"},
	})
	created := waitServerMessage(t, connA, isLobbyTag(v1.LobbyTagGameCreated))
	gameID := created.Lobby.Info.ID

	writeBinary(t, connB, v1.RunningClientMessage{
		Type:  v1.ClientTagLobby,
		Lobby: &v1.LobbyClientMessage{Type: v1.LobbyTagJoinGame, GameUID: gameID},
	})
	waitServerMessage(t, connB, isLobbyTag(v1.LobbyTagGameJoined))

	// B now goes silent: it stops reading, so the server's pings are never
	// answered and no frame arrives from it. A keeps reading (the dialer's
	// default ping handler answers for it) and sees Bob quit.
	quit := waitServerMessage(t, connA, isGameTag(v1.GameTagUserQuit))
	if quit.Game.Message.UserUID != loginB.UserUID {
		t.Errorf("Expected Bob's UserQuit, got %+v", quit.Game.Message)
	}
	if quit.Game.Message.Role != v1.RoleSeat2 {
		t.Errorf("Expected the quit to carry Seat2, got %s", quit.Game.Message.Role)
	}

	// The server closed B's connection.
	connB.SetReadDeadline(time.Now().Add(waitFor))
	for {
		if _, _, err := connB.ReadMessage(); err != nil {
			break
		}
	}
}

// TestProtocolViolations covers the sixth scenario and the framing
// boundaries: wrong frame kinds yield the registry errors and reset the
// connection to the handshake phase.
func TestProtocolViolations(t *testing.T) {
	wsURL := newTestStack(t, nil)

	t.Run("TextInRunningResets", func(t *testing.T) {
		conn := dial(t, wsURL)
		doHandshake(t, conn)
		doLogin(t, conn, "Ada", nil, nil)

		writeJSONText(t, conn, "hello")
		var errMsg protocol.ErrorMessage
		readJSON(t, conn, &errMsg)
		if errMsg.ErrorCode == nil || *errMsg.ErrorCode != protocol.CodeUnexpectedText {
			t.Fatalf("Expected error %d, got %+v", protocol.CodeUnexpectedText, errMsg)
		}
		if !errMsg.ShouldHandshake {
			t.Error("Expected should_handshake to be set")
		}

		// The connection is back in the handshake phase: binary is now the
		// wrong kind of frame.
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		readJSON(t, conn, &errMsg)
		if errMsg.ErrorCode == nil || *errMsg.ErrorCode != protocol.CodeUnexpectedBinary {
			t.Fatalf("Expected error %d, got %+v", protocol.CodeUnexpectedBinary, errMsg)
		}

		// A fresh handshake recovers the connection.
		doHandshake(t, conn)
	})

	t.Run("EmptyKnownProtocols", func(t *testing.T) {
		conn := dial(t, wsURL)
		writeJSONText(t, conn, `{"known_protocols":[]}`)
		var errMsg protocol.ErrorMessage
		readJSON(t, conn, &errMsg)
		if errMsg.ErrorCode == nil || *errMsg.ErrorCode != protocol.CodeNoProtocolVersion {
			t.Fatalf("Expected error %d, got %+v", protocol.CodeNoProtocolVersion, errMsg)
		}
	})

	t.Run("UnsupportedProtocols", func(t *testing.T) {
		conn := dial(t, wsURL)
		writeJSONText(t, conn, `{"known_protocols":[99]}`)
		var resp protocol.HelloResponse
		readJSON(t, conn, &resp)
		if resp.Failure == nil || !resp.Failure.ShouldReload {
			t.Fatalf("Expected a reload-hinting failure, got %+v", resp)
		}
	})

	t.Run("BinaryDuringHandshake", func(t *testing.T) {
		conn := dial(t, wsURL)
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		var errMsg protocol.ErrorMessage
		readJSON(t, conn, &errMsg)
		if errMsg.ErrorCode == nil || *errMsg.ErrorCode != protocol.CodeUnexpectedBinary {
			t.Fatalf("Expected error %d, got %+v", protocol.CodeUnexpectedBinary, errMsg)
		}
	})

	t.Run("BinaryBeforeLogin", func(t *testing.T) {
		conn := dial(t, wsURL)
		doHandshake(t, conn)
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		var errMsg protocol.ErrorMessage
		readJSON(t, conn, &errMsg)
		if errMsg.ErrorCode == nil || *errMsg.ErrorCode != protocol.CodeBadHandshake {
			t.Fatalf("Expected error %d, got %+v", protocol.CodeBadHandshake, errMsg)
		}
	})
}

// TestPingPongTokens checks the reserved text tokens only touch the
// heartbeat and never advance the phase machine.
func TestPingPongTokens(t *testing.T) {
	wsURL := newTestStack(t, nil)
	conn := dial(t, wsURL)
	doHandshake(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	msgType, data := readFrame(t, conn)
	if msgType != websocket.TextMessage || string(data) != "pong" {
		t.Fatalf("Expected a pong token, got type %d: %s", msgType, data)
	}

	// The phase is still Login: a normal login works.
	doLogin(t, conn, "Ada", nil, nil)
}
