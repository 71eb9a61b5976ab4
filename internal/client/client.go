// Package client implements the per-connection actor: the protocol phase
// machine, heartbeat, and the bridge between one websocket peer and the
// lobby and game actors.
//
// Three goroutines serve each connection. The read pump decodes frames off
// the socket and posts them to the client's mailbox; the run loop drains
// the mailbox one message at a time, so all protocol state is confined to
// it; the write pump drains the outbound queue onto the socket. Lobby and
// game broadcasts enter through the same mailbox, which keeps them
// serialized with inbound frames.
package client

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ygame/internal/game"
	"ygame/internal/lobby"
	"ygame/pkg/logger"
	"ygame/pkg/protocol"
	v1 "ygame/pkg/protocol/v1"
)

type phase int

const (
	phaseHandshake phase = iota
	phaseLogin
	phaseRunning
)

// Config tunes the per-connection timers and buffers. Zero values pick the
// production defaults; tests shrink the timers.
type Config struct {
	HeartbeatInterval time.Duration // server ping period, default 5s
	ClientTimeout     time.Duration // inbound liveness window, default 10s
	RequestTimeout    time.Duration // bound on cross-actor requests, default 5s
	WriteTimeout      time.Duration // per-frame socket write bound, default 10s
	MaxMessageSize    int64         // inbound frame cap, default 8192
	QueueSize         int           // mailbox and outbound buffer, default 64
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

type outFrame struct {
	messageType int
	data        []byte
}

// Client is the server-side actor for one websocket connection.
type Client struct {
	id    uuid.UUID
	conn  *websocket.Conn
	lobby *lobby.Lobby
	cfg   Config
	log   *logger.ColoredLogger

	mailbox chan func()
	send    chan outFrame
	done    chan struct{} // closed when the run loop exits
	stopCh  chan struct{}
	stop    sync.Once

	lastBeat atomic.Int64 // unix nanos of last inbound evidence of life

	// Protocol state, owned by the run loop.
	phase           phase
	protocolVersion uint32
	user            *lobby.Identity
	games           map[uuid.UUID]*game.Game
}

// New wraps an upgraded connection in a client actor. The actor is inert
// until Start.
func New(conn *websocket.Conn, lb *lobby.Lobby, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		id:      uuid.New(),
		conn:    conn,
		lobby:   lb,
		cfg:     cfg,
		log:     logger.ClientLogger,
		mailbox: make(chan func(), cfg.QueueSize),
		send:    make(chan outFrame, cfg.QueueSize),
		done:    make(chan struct{}),
		stopCh:  make(chan struct{}),
		games:   make(map[uuid.UUID]*game.Game),
	}
}

// ID returns the connection id.
func (c *Client) ID() uuid.UUID { return c.id }

// Start registers the client with the lobby and launches the pumps. On a
// registration failure the connection is closed and the error returned.
func (c *Client) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	if err := c.lobby.Connect(ctx, c); err != nil {
		c.conn.Close()
		return err
	}
	c.beat()
	go c.run()
	go c.readPump()
	go c.writePump()
	return nil
}

// Shutdown asks the actor to stop. Idempotent and safe from any goroutine.
func (c *Client) Shutdown() {
	c.stop.Do(func() { close(c.stopCh) })
}

// Done is closed once the run loop has exited and the lobby was informed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) beat() {
	c.lastBeat.Store(time.Now().UnixNano())
}

func (c *Client) sinceBeat() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.lastBeat.Load())
}

// run drains the mailbox and drives the heartbeat. The write pump owns
// closing the socket, so its goodbye can still be flushed after this loop
// exits.
func (c *Client) run() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.lobby.Disconnect(c.id)
		close(c.done)
	}()

	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-ticker.C:
			if c.sinceBeat() > c.cfg.ClientTimeout {
				c.log.Info("Disconnecting client %s: failed heartbeat", c.id)
				return
			}
			c.enqueue(outFrame{websocket.PingMessage, []byte("ping")})
		case <-c.stopCh:
			return
		}
	}
}

// readPump decodes frames off the socket and posts them to the mailbox.
func (c *Client) readPump() {
	defer c.Shutdown()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.beat()
		return nil
	})
	c.conn.SetPingHandler(func(payload string) error {
		c.beat()
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		return c.conn.WriteControl(websocket.PongMessage, []byte(payload), deadline)
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug("Client %s connection closed: %v", c.id, err)
			return
		}
		c.beat()

		switch msgType {
		case websocket.TextMessage:
			text := string(data)
			if text == "ping" {
				c.enqueue(outFrame{websocket.TextMessage, []byte("pong")})
				continue
			}
			if text == "pong" {
				continue
			}
			if _, ok := protocol.ParseDisconnectMessage(data); ok {
				c.log.Info("Client %s disconnected by client message", c.id)
				return
			}
			if !c.post(func() { c.onText(text) }) {
				return
			}
		case websocket.BinaryMessage:
			if !c.post(func() { c.onBinary(data) }) {
				return
			}
		default:
			if !c.post(func() {
				c.sendError(protocolError(protocol.CodeUnexpectedOther, "Unexpected message type", nil))
			}) {
				return
			}
		}
	}
}

// writePump drains the outbound queue onto the socket and closes the
// socket on the way out.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(frame.messageType, frame.data); err != nil {
				c.log.Debug("Client %s write failed: %v", c.id, err)
				c.Shutdown()
				return
			}
		case <-c.done:
			// Best-effort goodbye so a live peer knows the server initiated
			// the shutdown; the socket is usually gone already.
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if data, err := json.Marshal(protocol.DisconnectFromServer); err == nil {
				c.conn.WriteMessage(websocket.TextMessage, data)
			}
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// post hands work to the run loop from the read pump, blocking while the
// connection is alive. Reports false once the actor is stopping.
func (c *Client) post(fn func()) bool {
	select {
	case c.mailbox <- fn:
		return true
	case <-c.stopCh:
		return false
	case <-c.done:
		return false
	}
}

// tryPost is the non-blocking variant used by lobby and game broadcasts: a
// full mailbox or a stopped client is a prune signal for the sender, never
// a reason to block it.
func (c *Client) tryPost(fn func()) error {
	select {
	case <-c.stopCh:
		return errClientStopped
	case <-c.done:
		return errClientStopped
	default:
	}
	select {
	case c.mailbox <- fn:
		return nil
	default:
		return errMailboxFull
	}
}

// enqueue queues an outbound frame, best-effort.
func (c *Client) enqueue(frame outFrame) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

var (
	errClientStopped = &clientError{kind: kindServer, code: protocol.CodeServerError, desc: "client stopped"}
	errMailboxFull   = &clientError{kind: kindServer, code: protocol.CodeServerError, desc: "client mailbox full"}
	errSendQueueFull = &clientError{kind: kindServer, code: protocol.CodeServerError, desc: "send queue full"}
)

// ---------------- broadcast entry points ----------------------

// SendLobbyEvent delivers a lobby broadcast into this client's mailbox.
func (c *Client) SendLobbyEvent(ev lobby.Event) error {
	return c.tryPost(func() {
		if ev.Removed != nil {
			delete(c.games, *ev.Removed)
		}
		if err := c.forwardLobbyEvent(ev); err != nil {
			c.sendError(err)
		}
	})
}

// SendGameEvent delivers a game broadcast into this client's mailbox.
func (c *Client) SendGameEvent(ev game.Event) error {
	return c.tryPost(func() {
		if err := c.forwardGameEvent(ev); err != nil {
			c.sendError(err)
		}
	})
}

// ---------------- run-loop protocol machine ----------------------

func (c *Client) onText(text string) {
	var err error
	switch c.phase {
	case phaseHandshake:
		err = c.onHandshake(text)
	default:
		switch c.protocolVersion {
		case 0:
			err = protocolError(protocol.CodeNeedHandshake, "You need to run the handshake process", nil)
		case v1.Version:
			err = protocolError(protocol.CodeUnexpectedText, "Unexpected text message", nil)
		default:
			err = implError("no text handler for negotiated protocol")
		}
	}
	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) onBinary(data []byte) {
	var err error
	switch c.phase {
	case phaseHandshake:
		err = protocolError(protocol.CodeUnexpectedBinary, "Unexpected binary message", nil)
	default:
		switch c.protocolVersion {
		case 0:
			err = protocolError(protocol.CodeNeedHandshake, "You need to run the handshake process", nil)
		case v1.Version:
			if c.phase == phaseLogin {
				err = c.v1OnLogin(data)
			} else {
				err = c.v1OnRunning(data)
			}
		default:
			err = implError("no binary handler for negotiated protocol")
		}
	}
	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) onHandshake(text string) error {
	var hello protocol.HelloMessage
	if err := json.Unmarshal([]byte(text), &hello); err != nil {
		return protocolError(protocol.CodeBadHandshake, "Bad handshake", err)
	}
	if len(hello.KnownProtocols) == 0 {
		return protocolError(protocol.CodeNoProtocolVersion, "No known protocols", nil)
	}
	best, ok := chooseProtocol(hello.KnownProtocols)
	if !ok {
		c.log.Warn("Protocol handshake failure for client %s", c.id)
		return c.sendJSON(protocol.NewHelloFailure(true))
	}
	c.protocolVersion = best
	c.phase = phaseLogin
	c.log.Debug("Protocol chosen for client %s: %d", c.id, best)
	return c.sendJSON(protocol.NewHelloSuccess(best))
}

// chooseProtocol picks the highest proposed version the server supports.
func chooseProtocol(proposed []uint32) (uint32, bool) {
	sorted := append([]uint32(nil), proposed...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	for _, version := range sorted {
		if version == v1.Version {
			return version, true
		}
	}
	return 0, false
}

func (c *Client) requireLogin() (*lobby.Identity, error) {
	if c.user == nil {
		return nil, protocolError(protocol.CodeNeedLogin,
			"Message is refused as long as you are not logged in", nil)
	}
	return c.user, nil
}

// sendError renders one failure as an ErrorMessage frame. Protocol errors
// also reset the connection back to the handshake phase.
func (c *Client) sendError(err error) {
	ce := asClientError(err)
	switch ce.kind {
	case kindProtocol, kindGame:
		c.log.Warn("%v", ce)
	default:
		c.log.Error("%v", ce)
	}

	if ce.kind == kindProtocol {
		c.games = make(map[uuid.UUID]*game.Game)
		c.protocolVersion = 0
		c.phase = phaseHandshake
	}

	if err := c.sendJSON(ce.render()); err != nil {
		c.log.Error("Unable to send error frame to client %s: %v", c.id, err)
	}
}

func (c *Client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return serverError(protocol.CodeSerializationError, "Serialization issue", err)
	}
	return c.enqueue(outFrame{websocket.TextMessage, data})
}

func (c *Client) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
}
