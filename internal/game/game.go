// Package game implements one active game room: seat assignments, the
// ordered action log, and fan-out of game events to subscribed clients.
//
// Each Game runs as its own goroutine draining a private mailbox, so all
// room state is confined to that goroutine. Other actors talk to it through
// the exported methods, which post work into the mailbox and (for requests)
// wait on a single-shot reply channel.
package game

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ygame/internal/rules"
	"ygame/pkg/logger"
	"ygame/pkg/protocol"
)

// ErrStopped is returned when a request is posted to a game whose run loop
// has already exited.
var ErrStopped = errors.New("game stopped")

// Status is the raw lifecycle state of a room, before any per-recipient
// projection.
type Status int

const (
	StatusCreated Status = iota
	StatusStarted
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusFinished:
		return "finished"
	default:
		return "created"
	}
}

// Info is the listing snapshot of a room, derived on demand.
type Info struct {
	ID     uuid.UUID
	Name   string
	Status Status
	Seat1  *uuid.UUID
	Seat2  *uuid.UUID
}

// Event is a broadcast from a room to one subscriber. Exactly one of the
// branches is set.
type Event struct {
	GameID uuid.UUID
	Action *rules.Action
	Join   *UserChange
	Quit   *UserChange
}

// UserChange describes a user joining or quitting a room.
type UserChange struct {
	UserUID uuid.UUID
	Name    string
	Role    rules.UserRole
}

// Subscriber is a non-owning send handle into a client. A failed send is a
// prune signal, never an error of the room itself.
type Subscriber interface {
	ID() uuid.UUID
	SendGameEvent(Event) error
}

// LobbyNotifier is the room's handle back to the lobby.
type LobbyNotifier interface {
	GameClosed(gameID uuid.UUID)
	GameStatusChanged(info Info)
}

// JoinResult is the reply to a Join request.
type JoinResult struct {
	GameName  string
	Role      rules.UserRole
	Seat1Name *string
	Seat2Name *string
	Moves     []rules.Action
}

// ActionResult is the reply to an Act request. Every action request gets
// exactly one of these.
type ActionResult struct {
	OK     bool
	Reason uint32
}

// Options tune a room's timers and hooks. Zero values pick the production
// defaults; tests shrink the timers and pin the seat picker.
type Options struct {
	Name          string
	Expiry        time.Duration // inactivity window, default 30 days
	SweepInterval time.Duration // inactivity check period, default 60s
	FanoutDelay   time.Duration // deferral before broadcasts, default 1ms
	Validator     rules.Validator
	SeatPicker    func(n int) int // picks among n empty seats
	Logger        *logger.ColoredLogger
}

// Game is one active game room.
type Game struct {
	id   uuid.UUID
	name string

	mailbox chan func()
	done    chan struct{}
	stop    chan struct{}

	notifier LobbyNotifier
	log      *logger.ColoredLogger

	expiry      time.Duration
	sweepEvery  time.Duration
	fanoutDelay time.Duration
	validate    rules.Validator
	pickSeat    func(n int) int

	inited   bool
	finished bool
	deadline time.Time

	seat1User *uuid.UUID
	seat1Name string
	seat2User *uuid.UUID
	seat2Name string

	subscribers map[uuid.UUID]Subscriber
	users       map[uuid.UUID]map[uuid.UUID]struct{} // client ids by user uid
	moves       []rules.Action
}

// New creates a room. The room does not process messages until Start.
func New(notifier LobbyNotifier, opts Options) *Game {
	if opts.Name == "" {
		opts.Name = GenerateName()
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 30 * 24 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.FanoutDelay <= 0 {
		opts.FanoutDelay = time.Millisecond
	}
	if opts.Validator == nil {
		opts.Validator = rules.AllowAll
	}
	if opts.SeatPicker == nil {
		opts.SeatPicker = defaultSeatPicker
	}
	if opts.Logger == nil {
		opts.Logger = logger.GameLogger
	}

	return &Game{
		id:          uuid.New(),
		name:        opts.Name,
		mailbox:     make(chan func(), 64),
		done:        make(chan struct{}),
		stop:        make(chan struct{}, 1),
		notifier:    notifier,
		log:         opts.Logger,
		expiry:      opts.Expiry,
		sweepEvery:  opts.SweepInterval,
		fanoutDelay: opts.FanoutDelay,
		validate:    opts.Validator,
		pickSeat:    opts.SeatPicker,
		deadline:    time.Now().Add(opts.Expiry),
		subscribers: make(map[uuid.UUID]Subscriber),
		users:       make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// ID returns the room id.
func (g *Game) ID() uuid.UUID { return g.id }

// Name returns the room's human name.
func (g *Game) Name() string { return g.name }

// SeedJoin joins the creating client before the room's goroutine starts.
// It must only be called between New and Start.
func (g *Game) SeedJoin(userUID uuid.UUID, username string, clientID uuid.UUID, sub Subscriber) rules.UserRole {
	return g.clientJoin(userUID, username, clientID, sub)
}

// CurrentInfo derives the listing snapshot. Before Start it may be called
// directly; afterwards only the room goroutine does.
func (g *Game) CurrentInfo() Info {
	status := StatusCreated
	if g.finished {
		status = StatusFinished
	} else if g.inited {
		status = StatusStarted
	}
	return Info{
		ID:     g.id,
		Name:   g.name,
		Status: status,
		Seat1:  g.seat1User,
		Seat2:  g.seat2User,
	}
}

// Start launches the room's goroutine.
func (g *Game) Start() {
	go g.run()
}

// Stop asks the room to shut down. Idempotent.
func (g *Game) Stop() {
	select {
	case g.stop <- struct{}{}:
	default:
	}
}

func (g *Game) run() {
	ticker := time.NewTicker(g.sweepEvery)
	defer ticker.Stop()
	defer close(g.done)
	defer g.notifier.GameClosed(g.id)

	for {
		select {
		case fn := <-g.mailbox:
			fn()
		case <-ticker.C:
			if time.Now().After(g.deadline) {
				g.log.Info("Game %s (%s) expired after inactivity", g.name, g.id)
				return
			}
		case <-g.stop:
			return
		}
	}
}

// post submits fn to the room goroutine, honoring ctx.
func (g *Game) post(ctx context.Context, fn func()) error {
	select {
	case g.mailbox <- fn:
		return nil
	case <-g.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// later schedules fn onto the mailbox after the fan-out deferral, so the
// reply to the triggering request is written before the broadcast goes out.
func (g *Game) later(fn func()) {
	time.AfterFunc(g.fanoutDelay, func() {
		select {
		case g.mailbox <- fn:
		case <-g.done:
		}
	})
}

// Join subscribes a client to the room and assigns the user a seat.
func (g *Game) Join(ctx context.Context, userUID uuid.UUID, username string, clientID uuid.UUID, sub Subscriber) (JoinResult, error) {
	reply := make(chan JoinResult, 1)
	err := g.post(ctx, func() {
		role := g.clientJoin(userUID, username, clientID, sub)
		g.touch()

		// Deferred so the joiner's reply is written first. Both fan-outs
		// ride one deferral: subscribers must see UserJoin before Init.
		initNow := g.seat1User != nil && g.seat2User != nil && !g.inited
		g.later(func() {
			g.fanout(Event{
				GameID: g.id,
				Join:   &UserChange{UserUID: userUID, Name: username, Role: role},
			}, clientID)
			if initNow {
				g.initGame()
			}
		})

		reply <- JoinResult{
			GameName:  g.name,
			Role:      role,
			Seat1Name: g.seatName(g.seat1User, g.seat1Name),
			Seat2Name: g.seatName(g.seat2User, g.seat2Name),
			Moves:     append([]rules.Action(nil), g.moves...),
		}
	})
	if err != nil {
		return JoinResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-g.done:
		return JoinResult{}, ErrStopped
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	}
}

// Act routes one action request. The reply is Ok or Illegal; server-side
// failures surface as the returned error instead.
func (g *Game) Act(ctx context.Context, userUID uuid.UUID, action rules.Action) (ActionResult, error) {
	reply := make(chan ActionResult, 1)
	err := g.post(ctx, func() {
		reply <- g.applyAction(userUID, action)
	})
	if err != nil {
		return ActionResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-g.done:
		return ActionResult{}, ErrStopped
	case <-ctx.Done():
		return ActionResult{}, ctx.Err()
	}
}

// Disconnect removes a client from the room. Fire-and-forget from the
// lobby goroutine, so it must never block: if the mailbox is saturated the
// stale subscriber is pruned on the next failed fan-out instead.
func (g *Game) Disconnect(clientID uuid.UUID) {
	select {
	case g.mailbox <- func() { g.clientQuit(clientID) }:
	case <-g.done:
	default:
		g.log.Warn("Dropped a disconnect for game %s, mailbox saturated", g.name)
	}
}

// ---------------- room-goroutine internals ----------------------

func (g *Game) clientJoin(userUID uuid.UUID, username string, clientID uuid.UUID, sub Subscriber) rules.UserRole {
	role := g.chooseSeat(userUID)
	g.log.Info("Client joined game %s as %s", g.name, role)
	switch role {
	case rules.Seat1:
		g.seat1User = &userUID
		g.seat1Name = username
	case rules.Seat2:
		g.seat2User = &userUID
		g.seat2Name = username
	}
	set, ok := g.users[userUID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		g.users[userUID] = set
	}
	set[clientID] = struct{}{}
	g.subscribers[clientID] = sub
	return role
}

// chooseSeat is idempotent per user: a returning user recovers the seat it
// already holds.
func (g *Game) chooseSeat(userUID uuid.UUID) rules.UserRole {
	if g.seat1User != nil && *g.seat1User == userUID {
		return rules.Seat1
	}
	if g.seat2User != nil && *g.seat2User == userUID {
		return rules.Seat2
	}
	var empty []rules.UserRole
	if g.seat1User == nil {
		empty = append(empty, rules.Seat1)
	}
	if g.seat2User == nil {
		empty = append(empty, rules.Seat2)
	}
	if len(empty) == 0 {
		return rules.Observer
	}
	return empty[g.pickSeat(len(empty))]
}

func (g *Game) userRole(userUID uuid.UUID) rules.UserRole {
	if g.seat1User != nil && *g.seat1User == userUID {
		return rules.Seat1
	}
	if g.seat2User != nil && *g.seat2User == userUID {
		return rules.Seat2
	}
	return rules.Observer
}

func (g *Game) applyAction(userUID uuid.UUID, action rules.Action) ActionResult {
	if g.finished {
		return ActionResult{Reason: protocol.CodeGameError}
	}
	role := g.userRole(userUID)
	if err := g.validate(g.moves, action, role); err != nil {
		g.log.Warn("Rejected %s by %s in game %s: %v", action, role, g.name, err)
		return ActionResult{Reason: protocol.CodeIllegalMove}
	}
	g.moves = append(g.moves, action)
	g.touch()
	if action == rules.Finished {
		g.finished = true
		g.notifier.GameStatusChanged(g.CurrentInfo())
	}
	act := action
	g.fanout(Event{GameID: g.id, Action: &act}, uuid.Nil)
	return ActionResult{OK: true}
}

func (g *Game) initGame() {
	if g.inited {
		return
	}
	action := rules.Init
	g.moves = append(g.moves, action)
	g.inited = true
	g.touch()
	g.fanout(Event{GameID: g.id, Action: &action}, uuid.Nil)
	g.notifier.GameStatusChanged(g.CurrentInfo())
}

// clientQuit scrubs a client. When it was the user's last client, the other
// subscribers learn the user is gone. Seats are not vacated; rejoining
// recovers them.
func (g *Game) clientQuit(clientID uuid.UUID) {
	if _, ok := g.subscribers[clientID]; !ok {
		return
	}
	delete(g.subscribers, clientID)

	var goneUser *uuid.UUID
	for userUID, set := range g.users {
		if _, ok := set[clientID]; !ok {
			continue
		}
		delete(set, clientID)
		if len(set) == 0 {
			delete(g.users, userUID)
			u := userUID
			goneUser = &u
		}
	}
	if goneUser == nil {
		return
	}
	g.fanout(Event{
		GameID: g.id,
		Quit:   &UserChange{UserUID: *goneUser, Role: g.userRole(*goneUser)},
	}, uuid.Nil)
}

// fanout delivers an event to every subscriber except the given client id.
// Sends are best-effort; failures are logged and the handle dropped.
func (g *Game) fanout(ev Event, except uuid.UUID) {
	for clientID, sub := range g.subscribers {
		if clientID == except {
			continue
		}
		if err := sub.SendGameEvent(ev); err != nil {
			g.log.Warn("Unable to send game event to client %s: %v", clientID, err)
			delete(g.subscribers, clientID)
		}
	}
}

func (g *Game) touch() {
	g.deadline = time.Now().Add(g.expiry)
}

func (g *Game) seatName(user *uuid.UUID, name string) *string {
	if user == nil {
		return nil
	}
	n := name
	return &n
}
