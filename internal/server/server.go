package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/presence"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/teris-io/shortid"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultPresenceTTL   = 60 * time.Second

	ReactionsMulti  = "multi"
	ReactionsSingle = "single"
)

// connIdAlphabet is shortid's default alphabet with '-' swapped out, so a
// DM room id can always be split back into its two participants.
const connIdAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_~"

type Options struct {
	SweepInterval  time.Duration
	PresenceTTL    time.Duration
	ReactionPolicy string
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log      *log.Logger
	store    database.MessageStore
	stats    stats.StatsProvider
	validate *validator.Validate
	ids      *shortid.Shortid

	sweepInterval  time.Duration
	presenceTTL    time.Duration
	reactionPolicy string

	// mu guards presence, clients and subscriptions. A presence mutation
	// and the room_users event it causes happen under one hold of mu.
	mu       sync.Mutex
	presence *presence.Registry
	clients  map[string]*Client
	subs     map[string]map[*Client]struct{}

	stop chan stopReq
}

func NewChatServer(logger *log.Logger, store database.MessageStore, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	ids, err := shortid.New(1, connIdAlphabet, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, fmt.Errorf("shortid: %w", err)
	}

	validate := validator.New()
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, fmt.Errorf("register validation: %w", err)
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = DefaultPresenceTTL
	}
	if opts.ReactionPolicy == "" {
		opts.ReactionPolicy = ReactionsMulti
	}

	for _, name := range []string{
		stats.ActiveConnections,
		stats.MessagesSent,
		stats.ReactionsChanged,
		stats.PresenceEvictions,
	} {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:            logger,
		store:          store,
		stats:          su,
		validate:       validate,
		ids:            ids,
		sweepInterval:  opts.SweepInterval,
		presenceTTL:    opts.PresenceTTL,
		reactionPolicy: opts.ReactionPolicy,
		presence:       presence.NewRegistry(),
		clients:        make(map[string]*Client),
		subs:           make(map[string]map[*Client]struct{}),
		stop:           make(chan stopReq),
	}, nil
}

// Run sweeps stale presence entries until Shutdown is called.
func (cs *ChatServer) Run() {
	ticker := time.NewTicker(cs.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.reap()
		case req := <-cs.stop:
			cs.log.Println("stopping clients")
			cs.mu.Lock()
			for _, c := range cs.clients {
				c.stopClient()
			}
			cs.mu.Unlock()

			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewConnectionID returns a fresh connection identifier.
func (cs *ChatServer) NewConnectionID() (string, error) {
	return cs.ids.Generate()
}

// RegisterClient makes c live. If resumeId is set and no live connection
// holds it, c takes it over; otherwise c gets a new id. It returns the id
// assigned to c.
func (cs *ChatServer) RegisterClient(c *Client, resumeId string) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	connId := resumeId
	if _, taken := cs.clients[connId]; connId == "" || taken {
		var err error
		for {
			connId, err = cs.NewConnectionID()
			if err != nil {
				return "", fmt.Errorf("connection id: %w", err)
			}
			if _, taken := cs.clients[connId]; !taken {
				break
			}
		}
	}

	c.connId = connId
	cs.clients[connId] = c
	cs.stats.Incr(stats.ActiveConnections)
	cs.log.Printf("registered connection %q", connId)

	return connId, nil
}

// IsLive reports whether a connection with connId is registered.
func (cs *ChatServer) IsLive(connId string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	_, ok := cs.clients[connId]
	return ok
}

// Disconnect ends the session of c: its presence entry leaves the current
// room, the room's roster is re-sent and c stops receiving room events.
func (cs *ChatServer) Disconnect(c *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.clients[c.connId] != c {
		return
	}

	delete(cs.clients, c.connId)
	for room := range c.rooms {
		cs.unsubscribeLocked(room, c)
	}

	if c.joined {
		cs.presence.Leave(c.room, c.connId)
		cs.emitRoomUsersLocked(c.room)
	}

	cs.stats.Decr(stats.ActiveConnections)
	cs.log.Printf("removed connection %q", c.connId)
}

func (cs *ChatServer) subscribeLocked(room string, c *Client) {
	clients, ok := cs.subs[room]
	if !ok {
		clients = make(map[*Client]struct{})
		cs.subs[room] = clients
	}
	clients[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (cs *ChatServer) unsubscribeLocked(room string, c *Client) {
	delete(c.rooms, room)
	clients, ok := cs.subs[room]
	if !ok {
		return
	}

	delete(clients, c)
	if len(clients) == 0 {
		delete(cs.subs, room)
	}
}

// emitToRoom delivers one event to every client subscribed to room except
// skip, which may be nil.
func (cs *ChatServer) emitToRoom(room, event string, data any, skip *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.emitToRoomLocked(room, event, data, skip)
}

func (cs *ChatServer) emitToRoomLocked(room, event string, data any, skip *Client) {
	msg := Event(event, data)
	for c := range cs.subs[room] {
		if c == skip {
			continue
		}

		c.queueMessage(msg)
	}
}

func (cs *ChatServer) emitRoomUsersLocked(room string) {
	cs.emitToRoomLocked(room, EventRoomUsers, presence.Dedupe(cs.presence.Snapshot(room)), nil)
}

// reap evicts presence entries that have been idle for longer than the
// presence TTL and re-sends the roster of every room that lost one.
func (cs *ChatServer) reap() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for room, n := range cs.presence.Sweep(cs.presenceTTL) {
		cs.log.Printf("evicted %d idle connection(s) from room %q", n, room)
		cs.stats.Add(stats.PresenceEvictions, n)
		cs.emitRoomUsersLocked(room)
	}
}

func (cs *ChatServer) validateRequest(req any) error {
	if err := cs.validate.Struct(req); err != nil {
		return invalidInput(err)
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func defaultRoom(room, current string) string {
	if room != "" {
		return room
	}
	return orDefault(current, types.DefaultRoom)
}
