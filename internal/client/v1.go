package client

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ygame/internal/game"
	"ygame/internal/lobby"
	"ygame/internal/rules"
	"ygame/pkg/protocol"
	v1 "ygame/pkg/protocol/v1"
)

// Protocol v1 handlers and mappings. All of this runs on the client's run
// loop. A second protocol version would get its own file; none of the code
// here is shared with it.

func roleToV1(role rules.UserRole) v1.UserRole {
	switch role {
	case rules.Seat1:
		return v1.RoleSeat1
	case rules.Seat2:
		return v1.RoleSeat2
	default:
		return v1.RoleObserver
	}
}

func actionToV1(action rules.Action) v1.GameAction {
	switch action {
	case rules.Init:
		return v1.ActionInit
	case rules.Finished:
		return v1.ActionFinished
	default:
		return v1.ActionMove
	}
}

func actionFromV1(action v1.GameAction) rules.Action {
	switch action {
	case v1.ActionInit:
		return rules.Init
	case v1.ActionFinished:
		return rules.Finished
	default:
		return rules.Move
	}
}

func movesToV1(moves []rules.Action) []v1.GameAction {
	out := make([]v1.GameAction, len(moves))
	for i, m := range moves {
		out[i] = actionToV1(m)
	}
	return out
}

// projectOverview derives the listing status the recipient should see:
// finished games stay Finished, a game the user is seated in is
// Rejoinable, a game with an empty seat is Joinable, the rest are Full.
func projectOverview(user *lobby.Identity, info game.Info) v1.GameOverview {
	status := v1.StatusFull
	switch {
	case info.Status == game.StatusFinished:
		status = v1.StatusFinished
	case (info.Seat1 != nil && *info.Seat1 == user.UserUID) ||
		(info.Seat2 != nil && *info.Seat2 == user.UserUID):
		status = v1.StatusRejoinable
	case info.Seat1 == nil || info.Seat2 == nil:
		status = v1.StatusJoinable
	}
	return v1.GameOverview{
		ID:     info.ID.String(),
		Name:   info.Name,
		Status: status,
	}
}

func (c *Client) v1SendMessage(msg v1.RunningServerMessage) error {
	data, err := v1.Encode(msg)
	if err != nil {
		return serverError(protocol.CodeSerializationError, "Serialization issue", err)
	}
	return c.enqueue(outFrame{messageType: websocket.BinaryMessage, data: data})
}

func (c *Client) v1ParseGameID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, protocolError(protocol.CodeInvalidGameID, "Invalid game id", err)
	}
	return id, nil
}

func parseOptionalUUID(raw *string) *uuid.UUID {
	if raw == nil {
		return nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		// A garbled resume token just means a fresh session.
		return nil
	}
	return &id
}

// ---------------- inbound ----------------------

func (c *Client) v1OnLogin(data []byte) error {
	msg, err := v1.DecodeLogin(data)
	if err != nil {
		return protocolError(protocol.CodeBadHandshake, "Bad login", err)
	}

	ctx, cancel := c.requestCtx()
	defer cancel()
	ident, err := c.lobby.RegisterUser(ctx, msg.Name,
		parseOptionalUUID(msg.UID), parseOptionalUUID(msg.SessionUID), c.id)
	if err != nil {
		return mailboxError("lobby", err)
	}

	c.user = &ident
	c.phase = phaseRunning
	data, encErr := v1.Encode(v1.LoginResponse{
		Name:       ident.Name,
		UserUID:    ident.UserUID.String(),
		SessionUID: ident.SessionUID.String(),
	})
	if encErr != nil {
		return serverError(protocol.CodeSerializationError, "Serialization issue", encErr)
	}
	return c.enqueue(outFrame{messageType: websocket.BinaryMessage, data: data})
}

func (c *Client) v1OnRunning(data []byte) error {
	msg, err := v1.DecodeRunningClientMessage(data)
	if err != nil {
		return protocolError(protocol.CodeInvalidMessage, "Bad message", err)
	}
	switch msg.Type {
	case v1.ClientTagLobby:
		return c.v1OnClientLobby(msg.Lobby)
	case v1.ClientTagGame:
		gameID, err := c.v1ParseGameID(msg.Game.GameID)
		if err != nil {
			return err
		}
		return c.onGameAction(msg.Game.RequestID, gameID, actionFromV1(msg.Game.Action))
	default:
		return implError("unhandled client message type")
	}
}

func (c *Client) v1OnClientLobby(msg *v1.LobbyClientMessage) error {
	switch msg.Type {
	case v1.LobbyTagAskGameList:
		return c.onAskGameList()
	case v1.LobbyTagCreateGame:
		return c.onCreateGame(msg.RequestUID)
	case v1.LobbyTagJoinGame:
		gameID, err := c.v1ParseGameID(msg.GameUID)
		if err != nil {
			return err
		}
		return c.onJoinGame(gameID)
	default:
		return implError("unhandled lobby message type")
	}
}

func (c *Client) onAskGameList() error {
	user, err := c.requireLogin()
	if err != nil {
		return err
	}
	ctx, cancel := c.requestCtx()
	defer cancel()
	list, err := c.lobby.GameList(ctx)
	if err != nil {
		return mailboxError("lobby", err)
	}
	overviews := make([]v1.GameOverview, 0, len(list))
	for _, info := range list {
		overviews = append(overviews, projectOverview(user, info))
	}
	return c.v1SendMessage(v1.NewLobbyMessage(v1.LobbyServerMessage{
		Type: v1.LobbyTagGameList,
		List: overviews,
	}))
}

func (c *Client) onCreateGame(requestUID string) error {
	user, err := c.requireLogin()
	if err != nil {
		return err
	}
	ctx, cancel := c.requestCtx()
	defer cancel()
	created, err := c.lobby.CreateGame(ctx, user.UserUID, user.Name, c.id, c)
	if err != nil {
		return mailboxError("lobby", err)
	}
	c.games[created.GameID] = created.Handle

	details := v1.GameDetails{
		ID:   created.GameID.String(),
		Name: created.GameName,
	}
	name := user.Name
	switch created.Role {
	case rules.Seat1:
		details.Seat1Username = &name
	case rules.Seat2:
		details.Seat2Username = &name
	}
	return c.v1SendMessage(v1.NewLobbyMessage(v1.LobbyServerMessage{
		Type:       v1.LobbyTagGameCreated,
		RequestUID: requestUID,
		Info:       &details,
		Role:       roleToV1(created.Role),
	}))
}

func (c *Client) onJoinGame(gameID uuid.UUID) error {
	user, err := c.requireLogin()
	if err != nil {
		return err
	}
	if _, ok := c.games[gameID]; ok {
		return lobbyError(protocol.CodeGameAlreadyJoined, "Game already joined")
	}

	ctx, cancel := c.requestCtx()
	defer cancel()
	g, found, err := c.lobby.GetGame(ctx, gameID)
	if err != nil {
		return mailboxError("lobby", err)
	}
	if !found {
		return lobbyError(protocol.CodeGameDoesntExist, "Unable to find game "+gameID.String())
	}

	res, err := g.Join(ctx, user.UserUID, user.Name, c.id, c)
	if err != nil {
		return mailboxError("game", err)
	}
	c.games[gameID] = g

	isFinished := false
	for _, m := range res.Moves {
		if m == rules.Finished {
			isFinished = true
			break
		}
	}
	return c.v1SendMessage(v1.NewLobbyMessage(v1.LobbyServerMessage{
		Type: v1.LobbyTagGameJoined,
		Info: &v1.GameDetails{
			ID:            gameID.String(),
			Name:          res.GameName,
			IsFinished:    isFinished,
			Seat1Username: res.Seat1Name,
			Seat2Username: res.Seat2Name,
		},
		Role:  roleToV1(res.Role),
		Moves: movesToV1(res.Moves),
	}))
}

func (c *Client) onGameAction(requestID string, gameID uuid.UUID, action rules.Action) error {
	user, err := c.requireLogin()
	if err != nil {
		return err
	}
	g, ok := c.games[gameID]
	if !ok {
		return lobbyError(protocol.CodeGameNotJoined, "You should join the game first")
	}

	ctx, cancel := c.requestCtx()
	defer cancel()
	res, err := g.Act(ctx, user.UserUID, action)
	if err != nil {
		return mailboxError("game", err)
	}

	response := v1.ActionResponse{Type: v1.ResponseTagOk}
	if !res.OK {
		response = v1.ActionResponse{Type: v1.ResponseTagIllegal, Reason: res.Reason}
	}
	return c.v1SendMessage(v1.NewGameMessage(gameID.String(), v1.GameServerMessage{
		Type:      v1.GameTagActionResponse,
		RequestID: requestID,
		Response:  &response,
	}))
}

// ---------------- outbound broadcasts ----------------------

func (c *Client) forwardLobbyEvent(ev lobby.Event) error {
	user, err := c.requireLogin()
	if err != nil {
		return err
	}
	if c.protocolVersion != v1.Version {
		return implError("no lobby forwarder for negotiated protocol")
	}

	var msg v1.LobbyServerMessage
	switch {
	case ev.NewGame != nil:
		overview := projectOverview(user, *ev.NewGame)
		msg = v1.LobbyServerMessage{Type: v1.LobbyTagNewGame, Overview: &overview}
	case ev.InfoChanged != nil:
		overview := projectOverview(user, *ev.InfoChanged)
		msg = v1.LobbyServerMessage{Type: v1.LobbyTagGameInfoChanged, Overview: &overview}
	case ev.Removed != nil:
		msg = v1.LobbyServerMessage{Type: v1.LobbyTagGameRemoved, ID: ev.Removed.String()}
	default:
		return implError("empty lobby event")
	}
	return c.v1SendMessage(v1.NewLobbyMessage(msg))
}

func (c *Client) forwardGameEvent(ev game.Event) error {
	if _, err := c.requireLogin(); err != nil {
		return err
	}
	if c.protocolVersion != v1.Version {
		return implError("no game forwarder for negotiated protocol")
	}

	var msg v1.GameServerMessage
	switch {
	case ev.Action != nil:
		msg = v1.GameServerMessage{Type: v1.GameTagAction, Action: actionToV1(*ev.Action)}
	case ev.Join != nil:
		msg = v1.GameServerMessage{
			Type:     v1.GameTagUserJoin,
			UserUID:  ev.Join.UserUID.String(),
			Username: ev.Join.Name,
			Role:     roleToV1(ev.Join.Role),
		}
	case ev.Quit != nil:
		msg = v1.GameServerMessage{
			Type:    v1.GameTagUserQuit,
			UserUID: ev.Quit.UserUID.String(),
			Role:    roleToV1(ev.Quit.Role),
		}
	default:
		return implError("empty game event")
	}
	return c.v1SendMessage(v1.NewGameMessage(ev.GameID.String(), msg))
}
