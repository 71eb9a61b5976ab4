// Package lobby implements the process-wide registry: the session table,
// the connected-client table, and the table of active game rooms.
//
// The lobby is a single logical mailbox. Every operation runs to completion
// on the lobby goroutine before the next begins; callers wait on single-shot
// reply channels. Broadcasts to clients are best-effort sends.
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ygame/internal/game"
	"ygame/internal/rules"
	"ygame/pkg/logger"
)

// SessionDuration is how long a session survives without a resume.
const SessionDuration = 30 * 24 * time.Hour

// ErrStopped is returned when a request reaches a lobby whose run loop has
// already exited.
var ErrStopped = errors.New("lobby stopped")

// Identity is the definitive name/user/session triple a login resolves to.
type Identity struct {
	Name       string
	UserUID    uuid.UUID
	SessionUID uuid.UUID
}

// Event is a lobby-wide broadcast to one client. Exactly one branch is set.
type Event struct {
	NewGame     *game.Info
	InfoChanged *game.Info
	Removed     *uuid.UUID
}

// Client is a non-owning send handle into a connected client.
type Client interface {
	ID() uuid.UUID
	SendLobbyEvent(Event) error
}

// CreatedGame is the reply to a CreateGame request.
type CreatedGame struct {
	GameID   uuid.UUID
	GameName string
	Handle   *game.Game
	Role     rules.UserRole
}

// StatsHook observes game lifecycle changes, for optional recording. All
// methods are called on the lobby goroutine and must not block.
type StatsHook interface {
	GameCreated(info game.Info)
	GameStatusChanged(info game.Info)
	GameClosed(gameID uuid.UUID)
}

// Options tune the lobby's timers. Zero values pick production defaults.
type Options struct {
	SessionDuration time.Duration // default 30 days
	SweepInterval   time.Duration // session sweep period, default 60s
	BroadcastDelay  time.Duration // deferral before NewGame broadcasts, default 1ms
	GameDefaults    game.Options  // template for rooms this lobby creates
	Logger          *logger.ColoredLogger
}

type session struct {
	userUID uuid.UUID
	expires time.Time
}

type gameEntry struct {
	info game.Info
	g    *game.Game
}

// Lobby is the singleton coordination registry.
type Lobby struct {
	mailbox chan func()
	done    chan struct{}
	stop    chan struct{}

	log            *logger.ColoredLogger
	sessionTTL     time.Duration
	sweepEvery     time.Duration
	broadcastDelay time.Duration
	gameDefaults   game.Options
	stats          StatsHook

	sessions      map[uuid.UUID]session
	clients       map[uuid.UUID]Client
	clientsByUser map[uuid.UUID]map[uuid.UUID]struct{}
	userByClient  map[uuid.UUID]uuid.UUID
	games         map[uuid.UUID]*gameEntry
}

// New creates a lobby. It does not process messages until Start.
func New(opts Options) *Lobby {
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = SessionDuration
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.BroadcastDelay <= 0 {
		opts.BroadcastDelay = time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.LobbyLogger
	}

	return &Lobby{
		mailbox:        make(chan func(), 128),
		done:           make(chan struct{}),
		stop:           make(chan struct{}, 1),
		log:            opts.Logger,
		sessionTTL:     opts.SessionDuration,
		sweepEvery:     opts.SweepInterval,
		broadcastDelay: opts.BroadcastDelay,
		gameDefaults:   opts.GameDefaults,
		sessions:       make(map[uuid.UUID]session),
		clients:        make(map[uuid.UUID]Client),
		clientsByUser:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		userByClient:   make(map[uuid.UUID]uuid.UUID),
		games:          make(map[uuid.UUID]*gameEntry),
	}
}

// SetStatsHook attaches a lifecycle observer. Must be called before Start.
func (l *Lobby) SetStatsHook(hook StatsHook) {
	l.stats = hook
}

// Start launches the lobby goroutine.
func (l *Lobby) Start() {
	go l.run()
}

// Stop shuts the lobby down, stopping every game room with it. Idempotent.
func (l *Lobby) Stop() {
	select {
	case l.stop <- struct{}{}:
	default:
	}
}

func (l *Lobby) run() {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	defer close(l.done)

	for {
		select {
		case fn := <-l.mailbox:
			fn()
		case <-ticker.C:
			l.cleanOldSessions()
		case <-l.stop:
			for _, entry := range l.games {
				entry.g.Stop()
			}
			return
		}
	}
}

func (l *Lobby) post(ctx context.Context, fn func()) error {
	select {
	case l.mailbox <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cast posts fire-and-forget work, dropping it if the lobby is gone.
func (l *Lobby) cast(fn func()) {
	select {
	case l.mailbox <- fn:
	case <-l.done:
	}
}

func (l *Lobby) cleanOldSessions() {
	now := time.Now()
	for id, s := range l.sessions {
		if !s.expires.After(now) {
			delete(l.sessions, id)
		}
	}
	l.log.Info("After clean: %d sessions remaining", len(l.sessions))
}

// ---------------- operations ----------------------

// Connect registers a client for lobby-wide broadcasts.
func (l *Lobby) Connect(ctx context.Context, c Client) error {
	ack := make(chan struct{})
	err := l.post(ctx, func() {
		l.log.Info("Client %s connected", c.ID())
		l.clients[c.ID()] = c
		close(ack)
	})
	if err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect unregisters a client, forwards the disconnect to every game
// room, and clears the user/client index entries.
func (l *Lobby) Disconnect(clientID uuid.UUID) {
	l.cast(func() {
		l.log.Info("Client %s disconnected", clientID)
		for _, entry := range l.games {
			entry.g.Disconnect(clientID)
		}
		delete(l.clients, clientID)
		if userUID, ok := l.userByClient[clientID]; ok {
			delete(l.userByClient, clientID)
			if set, ok := l.clientsByUser[userUID]; ok {
				delete(set, clientID)
				if len(set) == 0 {
					delete(l.clientsByUser, userUID)
				}
			}
		}
	})
}

// RegisterUser resolves a login to a definitive identity. A matching
// session/user pair resumes the session and slides its expiry; anything
// else mints a fresh pair.
func (l *Lobby) RegisterUser(ctx context.Context, name string, userUID, sessionUID *uuid.UUID, clientID uuid.UUID) (Identity, error) {
	reply := make(chan Identity, 1)
	err := l.post(ctx, func() {
		user, sess := l.setSession(userUID, sessionUID)
		l.saveUserClient(user, clientID)
		reply <- Identity{Name: name, UserUID: user, SessionUID: sess}
	})
	if err != nil {
		return Identity{}, err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-l.done:
		return Identity{}, ErrStopped
	case <-ctx.Done():
		return Identity{}, ctx.Err()
	}
}

func (l *Lobby) setSession(userUID, sessionUID *uuid.UUID) (uuid.UUID, uuid.UUID) {
	if sessionUID != nil && userUID != nil {
		if s, ok := l.sessions[*sessionUID]; ok && s.userUID == *userUID {
			s.expires = time.Now().Add(l.sessionTTL)
			l.sessions[*sessionUID] = s
			l.log.Debug("Restored session %s for user %s", *sessionUID, *userUID)
			return *userUID, *sessionUID
		}
	}
	newSession := uuid.New()
	newUser := uuid.New()
	l.sessions[newSession] = session{userUID: newUser, expires: time.Now().Add(l.sessionTTL)}
	l.log.Debug("Session %s created for user %s", newSession, newUser)
	return newUser, newSession
}

func (l *Lobby) saveUserClient(userUID, clientID uuid.UUID) {
	if prev, ok := l.userByClient[clientID]; ok {
		if set, ok := l.clientsByUser[prev]; ok {
			delete(set, clientID)
			if len(set) == 0 {
				delete(l.clientsByUser, prev)
			}
		}
		delete(l.userByClient, clientID)
	}

	set, ok := l.clientsByUser[userUID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		l.clientsByUser[userUID] = set
	}
	set[clientID] = struct{}{}
	l.userByClient[clientID] = userUID
}

// GameList snapshots the current game listings.
func (l *Lobby) GameList(ctx context.Context) ([]game.Info, error) {
	reply := make(chan []game.Info, 1)
	err := l.post(ctx, func() {
		list := make([]game.Info, 0, len(l.games))
		for _, entry := range l.games {
			list = append(list, entry.info)
		}
		reply <- list
	})
	if err != nil {
		return nil, err
	}
	select {
	case list := <-reply:
		return list, nil
	case <-l.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateGame creates a new room, joins the requesting client to it, and
// announces it to every connected client after a short deferral.
func (l *Lobby) CreateGame(ctx context.Context, userUID uuid.UUID, username string, clientID uuid.UUID, sub game.Subscriber) (CreatedGame, error) {
	reply := make(chan CreatedGame, 1)
	err := l.post(ctx, func() {
		opts := l.gameDefaults
		opts.Name = ""
		g := game.New(l, opts)
		role := g.SeedJoin(userUID, username, clientID, sub)
		info := g.CurrentInfo()
		g.Start()
		l.games[g.ID()] = &gameEntry{info: info, g: g}
		l.log.Info("Game %s (%s) created by user %s", g.Name(), g.ID(), userUID)

		if l.stats != nil {
			l.stats.GameCreated(info)
		}

		// Deferred so the creator sees its GameCreated reply first.
		snapshot := info
		time.AfterFunc(l.broadcastDelay, func() {
			l.cast(func() {
				l.broadcast(Event{NewGame: &snapshot})
			})
		})

		reply <- CreatedGame{GameID: g.ID(), GameName: g.Name(), Handle: g, Role: role}
	})
	if err != nil {
		return CreatedGame{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-l.done:
		return CreatedGame{}, ErrStopped
	case <-ctx.Done():
		return CreatedGame{}, ctx.Err()
	}
}

// GetGame looks up a room handle. Joining is the caller's own subsequent
// message to the room.
func (l *Lobby) GetGame(ctx context.Context, gameID uuid.UUID) (*game.Game, bool, error) {
	type found struct {
		g  *game.Game
		ok bool
	}
	reply := make(chan found, 1)
	err := l.post(ctx, func() {
		entry, ok := l.games[gameID]
		if !ok {
			reply <- found{}
			return
		}
		reply <- found{g: entry.g, ok: true}
	})
	if err != nil {
		return nil, false, err
	}
	select {
	case res := <-reply:
		return res.g, res.ok, nil
	case <-l.done:
		return nil, false, ErrStopped
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// ActiveSessions reports the current session-table size (introspection).
func (l *Lobby) ActiveSessions(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := l.post(ctx, func() { reply <- len(l.sessions) }); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-l.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ---------------- game.LobbyNotifier ----------------------

// GameClosed removes a timed-out room and tells every client.
func (l *Lobby) GameClosed(gameID uuid.UUID) {
	l.cast(func() {
		if _, ok := l.games[gameID]; !ok {
			return
		}
		delete(l.games, gameID)
		l.log.Info("Game %s closed", gameID)
		if l.stats != nil {
			l.stats.GameClosed(gameID)
		}
		id := gameID
		l.broadcast(Event{Removed: &id})
	})
}

// GameStatusChanged refreshes a room's stored listing and tells every
// client the listing changed.
func (l *Lobby) GameStatusChanged(info game.Info) {
	l.cast(func() {
		entry, ok := l.games[info.ID]
		if !ok {
			return
		}
		entry.info = info
		if l.stats != nil {
			l.stats.GameStatusChanged(info)
		}
		snapshot := info
		l.broadcast(Event{InfoChanged: &snapshot})
	})
}

// broadcast sends an event to every registered client, best-effort.
func (l *Lobby) broadcast(ev Event) {
	for id, c := range l.clients {
		if err := c.SendLobbyEvent(ev); err != nil {
			l.log.Warn("Unable to send lobby event to client %s: %v", id, err)
		}
	}
}
