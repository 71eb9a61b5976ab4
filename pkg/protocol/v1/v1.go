// Package v1 defines version 1 of the post-handshake protocol.
//
// Messages are MessagePack-encoded maps carrying a "type" tag, so frames
// stay self-describing on the wire. A finalized protocol version is never
// changed; additional versions get their own subpackage and the handshake
// picks the highest one both sides know.
package v1

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Version is the protocol version this package implements.
const Version uint32 = 1

// GameAction is a single entry of a game's action log. The engine routes
// actions; evaluating them is the rules library's business.
type GameAction string

const (
	ActionInit     GameAction = "Init"
	ActionMove     GameAction = "Move"
	ActionFinished GameAction = "Finished"
)

// Valid reports whether the action is one of the known values.
func (a GameAction) Valid() bool {
	switch a {
	case ActionInit, ActionMove, ActionFinished:
		return true
	}
	return false
}

// UserRole is the role a user holds inside a game room.
type UserRole string

const (
	RoleSeat1    UserRole = "Seat1"
	RoleSeat2    UserRole = "Seat2"
	RoleObserver UserRole = "Observer"
)

// GameStatus is the per-recipient status of a game in lobby listings.
type GameStatus uint8

const (
	StatusJoinable   GameStatus = 1
	StatusRejoinable GameStatus = 2
	StatusFull       GameStatus = 3
	StatusFinished   GameStatus = 4
)

// ---------------- Client messages ----------------------

// LoginMessage is the binary frame a client sends in the Login phase.
// UID and SessionUID are textual UUIDs when resuming a session.
type LoginMessage struct {
	Name       string  `msgpack:"name"`
	UID        *string `msgpack:"uid"`
	SessionUID *string `msgpack:"session_uid"`
}

// Tags for RunningClientMessage.
const (
	ClientTagLobby = "Lobby"
	ClientTagGame  = "Game"
)

// Tags for LobbyClientMessage.
const (
	LobbyTagAskGameList = "AskGameList"
	LobbyTagCreateGame  = "CreateGame"
	LobbyTagJoinGame    = "JoinGame"
)

// LobbyClientMessage is a lobby-directed client request.
type LobbyClientMessage struct {
	Type       string `msgpack:"type"`
	RequestUID string `msgpack:"request_uid,omitempty"` // CreateGame
	GameUID    string `msgpack:"game_uid,omitempty"`    // JoinGame
}

// GameActionRequest is a game-directed client request.
type GameActionRequest struct {
	GameID    string     `msgpack:"game_id"`
	RequestID string     `msgpack:"request_id"`
	Action    GameAction `msgpack:"action"`
}

// RunningClientMessage is the tagged union of everything a client may send
// in the Running phase.
type RunningClientMessage struct {
	Type  string              `msgpack:"type"`
	Lobby *LobbyClientMessage `msgpack:"lobby,omitempty"`
	Game  *GameActionRequest  `msgpack:"game,omitempty"`
}

// ---------------- Server messages ----------------------

// LoginResponse answers a LoginMessage with the definitive identity.
type LoginResponse struct {
	Name       string `msgpack:"name"`
	UserUID    string `msgpack:"user_uid"`
	SessionUID string `msgpack:"session_uid"`
}

// GameOverview is the listing snapshot of a game, with the status already
// projected for the recipient.
type GameOverview struct {
	ID     string     `msgpack:"id"`
	Name   string     `msgpack:"name"`
	Status GameStatus `msgpack:"status"`
}

// GameDetails carries the full description of one game room.
type GameDetails struct {
	ID            string  `msgpack:"id"`
	Name          string  `msgpack:"name"`
	IsFinished    bool    `msgpack:"is_finished"`
	Seat1Username *string `msgpack:"seat_1_username"`
	Seat2Username *string `msgpack:"seat_2_username"`
}

// Tags for LobbyServerMessage.
const (
	LobbyTagGameList        = "GameList"
	LobbyTagGameCreated     = "GameCreated"
	LobbyTagNewGame         = "NewGame"
	LobbyTagGameInfoChanged = "GameInfoChanged"
	LobbyTagGameJoined      = "GameJoined"
	LobbyTagGameRemoved     = "GameRemoved"
)

// LobbyServerMessage is a lobby-originated server message.
type LobbyServerMessage struct {
	Type       string         `msgpack:"type"`
	List       []GameOverview `msgpack:"list,omitempty"`     // GameList
	RequestUID string         `msgpack:"request_uid,omitempty"` // GameCreated
	Info       *GameDetails   `msgpack:"info,omitempty"`     // GameCreated, GameJoined
	Role       UserRole       `msgpack:"role,omitempty"`     // GameCreated, GameJoined
	Moves      []GameAction   `msgpack:"moves,omitempty"`    // GameJoined
	Overview   *GameOverview  `msgpack:"overview,omitempty"` // NewGame, GameInfoChanged
	ID         string         `msgpack:"id,omitempty"`       // GameRemoved
}

// Tags for GameServerMessage.
const (
	GameTagAction         = "Action"
	GameTagActionResponse = "GameActionResponse"
	GameTagUserJoin       = "UserJoin"
	GameTagUserQuit       = "UserQuit"
)

// Tags for ActionResponse.
const (
	ResponseTagOk      = "Ok"
	ResponseTagIllegal = "Illegal"
)

// ActionResponse answers one GameActionRequest.
type ActionResponse struct {
	Type   string `msgpack:"type"`
	Reason uint32 `msgpack:"reason,omitempty"` // Illegal
}

// GameServerMessage is a game-originated server message.
type GameServerMessage struct {
	Type      string          `msgpack:"type"`
	Action    GameAction      `msgpack:"action,omitempty"`     // Action
	RequestID string          `msgpack:"request_id,omitempty"` // GameActionResponse
	Response  *ActionResponse `msgpack:"response,omitempty"`   // GameActionResponse
	UserUID   string          `msgpack:"user_uid,omitempty"`   // UserJoin, UserQuit
	Username  string          `msgpack:"username,omitempty"`   // UserJoin
	Role      UserRole        `msgpack:"role,omitempty"`       // UserJoin, UserQuit
}

// GameEnvelope wraps a game message with the room it came from.
type GameEnvelope struct {
	GameID  string            `msgpack:"game_id"`
	Message GameServerMessage `msgpack:"message"`
}

// RunningServerMessage is the tagged union of everything the server may
// send in the Running phase.
type RunningServerMessage struct {
	Type  string              `msgpack:"type"`
	Lobby *LobbyServerMessage `msgpack:"lobby,omitempty"`
	Game  *GameEnvelope       `msgpack:"game,omitempty"`
}

// ---------------- Constructors ----------------------

// NewLobbyMessage wraps a lobby server message in the running envelope.
func NewLobbyMessage(msg LobbyServerMessage) RunningServerMessage {
	return RunningServerMessage{Type: ClientTagLobby, Lobby: &msg}
}

// NewGameMessage wraps a game server message in the running envelope.
func NewGameMessage(gameID string, msg GameServerMessage) RunningServerMessage {
	return RunningServerMessage{
		Type: ClientTagGame,
		Game: &GameEnvelope{GameID: gameID, Message: msg},
	}
}

// ---------------- Codec ----------------------

// Encode serializes any v1 message.
func Encode(msg interface{}) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// DecodeLogin parses a Login-phase binary frame.
func DecodeLogin(data []byte) (*LoginMessage, error) {
	var msg LoginMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Name == "" {
		return nil, fmt.Errorf("login message without a name")
	}
	return &msg, nil
}

// DecodeRunningClientMessage parses a Running-phase binary frame and checks
// that the tag matches the populated branch.
func DecodeRunningClientMessage(data []byte) (*RunningClientMessage, error) {
	var msg RunningClientMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case ClientTagLobby:
		if msg.Lobby == nil {
			return nil, fmt.Errorf("lobby message without a lobby payload")
		}
		switch msg.Lobby.Type {
		case LobbyTagAskGameList, LobbyTagCreateGame, LobbyTagJoinGame:
		default:
			return nil, fmt.Errorf("unknown lobby message type %q", msg.Lobby.Type)
		}
	case ClientTagGame:
		if msg.Game == nil {
			return nil, fmt.Errorf("game message without a game payload")
		}
		if !msg.Game.Action.Valid() {
			return nil, fmt.Errorf("unknown game action %q", msg.Game.Action)
		}
	default:
		return nil, fmt.Errorf("unknown client message type %q", msg.Type)
	}
	return &msg, nil
}

// DecodeRunningServerMessage parses a server frame. The server itself only
// encodes these; decoding is used by client-side tooling and tests.
func DecodeRunningServerMessage(data []byte) (*RunningServerMessage, error) {
	var msg RunningServerMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case ClientTagLobby:
		if msg.Lobby == nil {
			return nil, fmt.Errorf("lobby message without a lobby payload")
		}
	case ClientTagGame:
		if msg.Game == nil {
			return nil, fmt.Errorf("game message without a game payload")
		}
	default:
		return nil, fmt.Errorf("unknown server message type %q", msg.Type)
	}
	return &msg, nil
}

// DecodeLoginResponse parses a LoginResponse frame (client-side tooling and
// tests).
func DecodeLoginResponse(data []byte) (*LoginResponse, error) {
	var msg LoginResponse
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
