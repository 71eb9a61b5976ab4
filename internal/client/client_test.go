package client

import (
	"testing"

	"github.com/google/uuid"

	"ygame/internal/game"
	"ygame/internal/lobby"
	"ygame/internal/rules"
	"ygame/pkg/protocol"
	v1 "ygame/pkg/protocol/v1"
)

func TestChooseProtocol(t *testing.T) {
	cases := []struct {
		name     string
		proposed []uint32
		want     uint32
		ok       bool
	}{
		{"OnlyV1", []uint32{1}, 1, true},
		{"PicksHighestSupported", []uint32{1, 2, 3}, 1, true},
		{"Unordered", []uint32{3, 1, 2}, 1, true},
		{"NoneSupported", []uint32{2, 3}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := chooseProtocol(tc.proposed)
			if got != tc.want || ok != tc.ok {
				t.Errorf("chooseProtocol(%v) = (%d, %v), want (%d, %v)",
					tc.proposed, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestProjectOverview(t *testing.T) {
	me := &lobby.Identity{Name: "Ada", UserUID: uuid.New()}
	other := uuid.New()

	cases := []struct {
		name string
		info game.Info
		want v1.GameStatus
	}{
		{"Finished", game.Info{Status: game.StatusFinished, Seat1: &me.UserUID}, v1.StatusFinished},
		{"RejoinableSeat1", game.Info{Seat1: &me.UserUID, Seat2: &other}, v1.StatusRejoinable},
		{"RejoinableSeat2", game.Info{Seat1: &other, Seat2: &me.UserUID}, v1.StatusRejoinable},
		{"JoinableOneSeatFree", game.Info{Seat1: &other}, v1.StatusJoinable},
		{"JoinableEmpty", game.Info{}, v1.StatusJoinable},
		{"Full", game.Info{Seat1: &other, Seat2: ptrUUID(uuid.New())}, v1.StatusFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.info.ID = uuid.New()
			overview := projectOverview(me, tc.info)
			if overview.Status != tc.want {
				t.Errorf("Expected status %d, got %d", tc.want, overview.Status)
			}
		})
	}
}

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }

func TestErrorRendering(t *testing.T) {
	t.Run("ProtocolErrorsAskForHandshake", func(t *testing.T) {
		msg := protocolError(protocol.CodeUnexpectedText, "Unexpected text message", nil).render()
		if !msg.ShouldHandshake {
			t.Error("Expected should_handshake to be set")
		}
		if msg.ErrorCode == nil || *msg.ErrorCode != protocol.CodeUnexpectedText {
			t.Errorf("Unexpected code: %v", msg.ErrorCode)
		}
	})

	t.Run("LobbyErrorsKeepPhase", func(t *testing.T) {
		msg := lobbyError(protocol.CodeGameAlreadyJoined, "Game already joined").render()
		if msg.ShouldHandshake || msg.ShouldReload || msg.ShouldReconnect {
			t.Errorf("Expected no hints, got %+v", msg)
		}
	})

	t.Run("DefaultCodes", func(t *testing.T) {
		if e := newError(kindProtocol, 0, "x", nil); e.code != protocol.CodeProtocolError {
			t.Errorf("Expected default protocol code, got %d", e.code)
		}
		if e := newError(kindLobby, 0, "x", nil); e.code != protocol.CodeLobbyError {
			t.Errorf("Expected default lobby code, got %d", e.code)
		}
		if e := newError(kindServer, 0, "x", nil); e.code != protocol.CodeServerError {
			t.Errorf("Expected default server code, got %d", e.code)
		}
	})

	t.Run("WrapsUnknownErrors", func(t *testing.T) {
		ce := asClientError(game.ErrStopped)
		if ce.kind != kindServer {
			t.Errorf("Expected a server error, got %v", ce.kind)
		}
		if ce.Unwrap() != game.ErrStopped {
			t.Error("Expected the cause to be preserved")
		}
	})

	t.Run("MailboxError", func(t *testing.T) {
		ce := mailboxError("lobby", lobby.ErrStopped)
		if ce.code != protocol.CodeMailboxError {
			t.Errorf("Expected the mailbox code, got %d", ce.code)
		}
	})
}

func TestActionConversions(t *testing.T) {
	actions := []rules.Action{rules.Init, rules.Move, rules.Finished}
	for _, a := range actions {
		if back := actionFromV1(actionToV1(a)); back != a {
			t.Errorf("Action %s did not survive the round trip: %s", a, back)
		}
	}

	roles := map[rules.UserRole]v1.UserRole{
		rules.Seat1:    v1.RoleSeat1,
		rules.Seat2:    v1.RoleSeat2,
		rules.Observer: v1.RoleObserver,
	}
	for role, want := range roles {
		if got := roleToV1(role); got != want {
			t.Errorf("Expected %s for %s, got %s", want, role, got)
		}
	}
}
