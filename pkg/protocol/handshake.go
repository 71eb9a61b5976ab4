// Package protocol defines the version-independent wire frames.
//
// The handshake and error frames are plain JSON text and are never allowed
// to change shape: they are what both sides agree on before a protocol
// version is negotiated. Versioned binary messages live in subpackages
// (currently only v1).
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HelloMessage is the first frame a client sends: the set of protocol
// versions it can speak.
type HelloMessage struct {
	KnownProtocols []uint32 `json:"known_protocols"`
}

// HelloSuccess carries the version the server picked.
type HelloSuccess struct {
	ProtocolVersion uint32 `json:"protocol_version"`
}

// HelloFailure tells the client no common version exists.
type HelloFailure struct {
	ShouldReload bool `json:"should_reload"`
}

// HelloResponse is the tagged union answering a HelloMessage. Exactly one
// of Success or Failure is set; the JSON encoding is externally tagged
// ({"Success":{...}} or {"Failure":{...}}).
type HelloResponse struct {
	Success *HelloSuccess `json:"Success,omitempty"`
	Failure *HelloFailure `json:"Failure,omitempty"`
}

// NewHelloSuccess builds a successful handshake response.
func NewHelloSuccess(version uint32) HelloResponse {
	return HelloResponse{Success: &HelloSuccess{ProtocolVersion: version}}
}

// NewHelloFailure builds a failed handshake response.
func NewHelloFailure(shouldReload bool) HelloResponse {
	return HelloResponse{Failure: &HelloFailure{ShouldReload: shouldReload}}
}

// DisconnectMessage is the textual frame either side may send to announce
// an orderly shutdown of the connection.
type DisconnectMessage string

const (
	DisconnectFromClient DisconnectMessage = "FromClient"
	DisconnectFromServer DisconnectMessage = "FromServer"
)

// MarshalJSON encodes the disconnect message as a bare JSON string.
func (d DisconnectMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

// ParseDisconnectMessage reports whether data is a well-formed
// DisconnectMessage and, if so, which side sent it.
func ParseDisconnectMessage(data []byte) (DisconnectMessage, bool) {
	var s string
	if err := json.Unmarshal(bytes.TrimSpace(data), &s); err != nil {
		return "", false
	}
	switch DisconnectMessage(s) {
	case DisconnectFromClient, DisconnectFromServer:
		return DisconnectMessage(s), true
	}
	return "", false
}

// ErrorMessage is the JSON frame the server sends for every failure that
// reaches a client's error handler. The three hints tell the peer how to
// recover.
type ErrorMessage struct {
	ErrorCode        *uint32 `json:"error_code"`
	ErrorDescription string  `json:"error_description"`
	ShouldReload     bool    `json:"should_reload"`
	ShouldReconnect  bool    `json:"should_reconnect"`
	ShouldHandshake  bool    `json:"should_handshake"`
}

// NewErrorMessage builds an error frame with the given code and description.
func NewErrorMessage(code uint32, description string) ErrorMessage {
	return ErrorMessage{
		ErrorCode:        &code,
		ErrorDescription: description,
	}
}

func (e ErrorMessage) String() string {
	code := uint32(CodeServerError)
	if e.ErrorCode != nil {
		code = *e.ErrorCode
	}
	return fmt.Sprintf("error %d: %s", code, e.ErrorDescription)
}
