package protocol

// Error codes form a stable registry. New codes may be added; existing
// values are never reused for a different meaning.
const (
	// Protocol errors (1xx): the peer sent something the current phase
	// disallows, or something unparseable.
	CodeProtocolError     uint32 = 100
	CodeNoProtocolVersion uint32 = 101
	CodeUnexpectedText    uint32 = 102
	CodeUnexpectedBinary  uint32 = 103
	CodeUnexpectedOther   uint32 = 104
	CodeBadHandshake      uint32 = 105
	CodeInvalidMessage    uint32 = 106
	CodeNeedLogin         uint32 = 107
	CodeNeedHandshake     uint32 = 108
	CodeInvalidGameID     uint32 = 109

	// Server errors (2xx): internal failures.
	CodeServerError        uint32 = 200
	CodeUnimplemented      uint32 = 201
	CodeSerializationError uint32 = 202
	CodeMailboxError       uint32 = 203

	// Lobby errors (3xx): well-formed requests that violate lobby rules.
	CodeLobbyError        uint32 = 300
	CodeGameAlreadyJoined uint32 = 301
	CodeGameDoesntExist   uint32 = 302
	CodeGameNotJoined     uint32 = 303

	// Game errors (4xx): well-formed actions rejected by game rules.
	CodeGameError   uint32 = 400
	CodeIllegalMove uint32 = 401
	CodeNotYourTurn uint32 = 402
)
