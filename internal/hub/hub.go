package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/pkg/protocol"
)

// DefaultRoom is used when a connection does not name a room.
const DefaultRoom = "default"

type Msg interface{ isHubMsg() }

// Join assigns a connection to a room, creating the room if absent. The
// connection is removed from any prior room first.
type Join struct {
	Conn *Conn
	Room string
}

// Inbound carries one raw frame from a connection's read pump.
type Inbound struct {
	Conn *Conn
	Data []byte
}

// Leave removes a connection; emptied rooms are deleted, cache included.
type Leave struct{ Conn *Conn }

// Shutdown notifies every member of every room and closes all outboxes.
type Shutdown struct{ Done chan struct{} }

// GetStats reflects room populations without data races; used by the HTTP
// stats endpoint and tests.
type GetStats struct{ Reply chan []RoomStats }

func (Join) isHubMsg()     {}
func (Inbound) isHubMsg()  {}
func (Leave) isHubMsg()    {}
func (Shutdown) isHubMsg() {}
func (GetStats) isHubMsg() {}

type RoomStats struct {
	Room         string `json:"room"`
	Members      int    `json:"members"`
	HasSnapshot  bool   `json:"hasSnapshot"`
	CapturedAtMs int64  `json:"capturedAtMs,omitempty"`
}

type cachedSnapshot struct {
	payload      []byte
	capturedAtMs int64
}

// room exists iff at least one connection is a member. The cache holds the
// latest accepted snapshot, last-writer-wins; it dies with the room.
type room struct {
	members map[*Conn]struct{}
	cache   *cachedSnapshot
}

// Hub owns every room and all membership state. All mutation happens on the
// single loop goroutine consuming the inbox, so no locks are needed.
type Hub struct {
	inbox  chan Msg
	rooms  map[string]*room
	roomOf map[*Conn]string
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]*room),
		roomOf: make(map[*Conn]string),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				h.join(msg.Conn, msg.Room)

			case Inbound:
				h.dispatch(msg.Conn, msg.Data)

			case Leave:
				h.drop(msg.Conn)

			case GetStats:
				stats := make([]RoomStats, 0, len(h.rooms))
				for name, r := range h.rooms {
					s := RoomStats{Room: name, Members: len(r.members)}
					if r.cache != nil {
						s.HasSnapshot = true
						s.CapturedAtMs = r.cache.capturedAtMs
					}
					stats = append(stats, s)
				}
				msg.Reply <- stats

			case Shutdown:
				h.shutdown()
				close(msg.Done)
				return
			}
		}
	}
}

func (h *Hub) join(c *Conn, name string) {
	if name == "" {
		name = DefaultRoom
	}
	// Guard against duplicate membership on re-join.
	h.removeFromRoom(c)

	r := h.rooms[name]
	if r == nil {
		r = &room{members: make(map[*Conn]struct{})}
		h.rooms[name] = r
		h.log.Info("room created", zap.String("room", name))
	}
	r.members[c] = struct{}{}
	h.roomOf[c] = name
	h.sendEnvelope(c, protocol.Welcome(name))
	h.log.Info("client joined",
		zap.String("room", name),
		zap.String("conn", c.ID),
		zap.Int("members", len(r.members)))
}

// dispatch handles one parsed frame on the loop. Malformed frames are logged
// and dropped; the connection stays open.
func (h *Hub) dispatch(c *Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		h.log.Warn("dropping malformed frame", zap.String("conn", c.ID), zap.Error(err))
		return
	}
	name, ok := h.roomOf[c]
	if !ok {
		h.log.Warn("frame from connection without a room", zap.String("conn", c.ID))
		return
	}
	r := h.rooms[name]

	switch env.Type {
	case protocol.KindSnapshot:
		if len(env.Data) == 0 {
			h.log.Debug("dropping empty snapshot", zap.String("room", name))
			return
		}
		// Cache before broadcasting so a full-state request racing the relay
		// never observes a stale entry.
		r.cache = &cachedSnapshot{payload: env.Data, capturedAtMs: time.Now().UnixMilli()}
		h.broadcast(r, c, data)

	case protocol.KindRequestFullState:
		if r.cache == nil {
			h.sendEnvelope(c, protocol.EmptyStateResponse(name))
			return
		}
		h.sendEnvelope(c, protocol.FullStateResponse(name, r.cache.payload, r.cache.capturedAtMs))

	case protocol.KindPing:
		h.sendEnvelope(c, protocol.Pong())

	default:
		h.log.Debug("ignoring frame", zap.String("type", string(env.Type)), zap.String("conn", c.ID))
	}
}

// broadcast relays the raw frame to every other open member. A member whose
// outbox is full is considered dead and pruned immediately rather than
// retried; the remaining members still receive the frame.
func (h *Hub) broadcast(r *room, sender *Conn, data []byte) {
	var dead []*Conn
	for member := range r.members {
		if member == sender {
			continue
		}
		if !member.trySend(data) {
			dead = append(dead, member)
		}
	}
	for _, member := range dead {
		h.log.Warn("pruning unresponsive client", zap.String("conn", member.ID))
		h.drop(member)
	}
}

func (h *Hub) sendEnvelope(c *Conn, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		h.log.Error("failed to encode envelope", zap.Error(err))
		return
	}
	if !c.trySend(data) {
		h.log.Warn("pruning unresponsive client", zap.String("conn", c.ID))
		h.drop(c)
	}
}

// drop removes the connection from its room and closes its outbox. Deleting
// the room when its last member leaves also discards the cached snapshot:
// presence state does not outlive the people present.
func (h *Hub) drop(c *Conn) {
	if _, ok := h.roomOf[c]; !ok {
		return
	}
	h.removeFromRoom(c)
	c.closeOutbox()
}

func (h *Hub) removeFromRoom(c *Conn) {
	name, ok := h.roomOf[c]
	if !ok {
		return
	}
	delete(h.roomOf, c)
	r := h.rooms[name]
	if r == nil {
		return
	}
	delete(r.members, c)
	h.log.Info("client left",
		zap.String("room", name),
		zap.String("conn", c.ID),
		zap.Int("members", len(r.members)))
	if len(r.members) == 0 {
		delete(h.rooms, name)
		h.log.Info("room destroyed", zap.String("room", name))
	}
}

func (h *Hub) shutdown() {
	notice, err := protocol.ServerShutdown("server shutting down").Encode()
	if err == nil {
		for _, r := range h.rooms {
			for member := range r.members {
				member.trySend(notice)
			}
		}
	}
	for _, r := range h.rooms {
		for member := range r.members {
			delete(h.roomOf, member)
			member.closeOutbox()
		}
	}
	clear(h.rooms)
	h.cancel()
}
