package client

import (
	"fmt"

	"ygame/pkg/protocol"
)

// errKind classifies a failure the way the peer needs to understand it:
// protocol errors reset the connection to the handshake phase, the others
// leave the phase alone.
type errKind int

const (
	kindProtocol errKind = iota
	kindLobby
	kindGame
	kindServer
	kindImpl
)

func (k errKind) String() string {
	switch k {
	case kindProtocol:
		return "protocol error"
	case kindLobby:
		return "lobby error"
	case kindGame:
		return "game error"
	case kindImpl:
		return "implementation error"
	default:
		return "server error"
	}
}

func (k errKind) defaultCode() uint32 {
	switch k {
	case kindProtocol:
		return protocol.CodeProtocolError
	case kindLobby:
		return protocol.CodeLobbyError
	case kindGame:
		return protocol.CodeGameError
	default:
		return protocol.CodeServerError
	}
}

// clientError is a failure destined for one ErrorMessage frame.
type clientError struct {
	kind  errKind
	code  uint32
	desc  string
	cause error
}

func (e *clientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %d: %s: %v", e.kind, e.code, e.desc, e.cause)
	}
	return fmt.Sprintf("%s %d: %s", e.kind, e.code, e.desc)
}

func (e *clientError) Unwrap() error {
	return e.cause
}

// render builds the wire frame. Only protocol errors carry the
// restart-handshake hint.
func (e *clientError) render() protocol.ErrorMessage {
	msg := protocol.NewErrorMessage(e.code, e.desc)
	if e.kind == kindProtocol {
		msg.ShouldHandshake = true
	}
	return msg
}

func newError(kind errKind, code uint32, desc string, cause error) *clientError {
	if code == 0 {
		code = kind.defaultCode()
	}
	return &clientError{kind: kind, code: code, desc: desc, cause: cause}
}

func protocolError(code uint32, desc string, cause error) *clientError {
	return newError(kindProtocol, code, desc, cause)
}

func lobbyError(code uint32, desc string) *clientError {
	return newError(kindLobby, code, desc, nil)
}

func serverError(code uint32, desc string, cause error) *clientError {
	return newError(kindServer, code, desc, cause)
}

func implError(desc string) *clientError {
	return newError(kindImpl, protocol.CodeUnimplemented, desc, nil)
}

// asClientError coerces any failure into a renderable one.
func asClientError(err error) *clientError {
	if ce, ok := err.(*clientError); ok {
		return ce
	}
	return serverError(protocol.CodeServerError, "Unknown server error", err)
}

// mailboxError maps a failed cross-actor request (timeout, stopped actor)
// to the stable mailbox error code.
func mailboxError(actor string, cause error) *clientError {
	return serverError(protocol.CodeMailboxError, "Unable to contact "+actor, cause)
}
