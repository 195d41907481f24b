package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/rendezvous/internal/core/domain"
	"github.com/Wyydra/rendezvous/internal/core/port"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

// Coordinator owns every active room and routes negotiation messages
// between their members.
//
// Each room has its own lock which serializes all changes to that room and
// to the registry entries pointing at it. The room map lock is never held
// while waiting for a room lock; a room lock may be held while taking the map
// lock to delete the room. Outbound sends happen under the room lock and rely
// on the gateway being non-blocking.
type Coordinator struct {
	mu    sync.Mutex
	rooms map[domain.SessionID]*room

	registry *Registry
	gateway  port.RealTimeGateway

	seq atomic.Uint64
}

func NewCoordinator(registry *Registry, gateway port.RealTimeGateway) *Coordinator {
	return &Coordinator{
		rooms:    make(map[domain.SessionID]*room),
		registry: registry,
		gateway:  gateway,
	}
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Connect registers a freshly accepted transport connection.
func (c *Coordinator) Connect(id domain.ConnectionID) {
	c.registry.Register(id)
}

// Join places the connection in the session's room, creating the room if
// needed. A connection that is already a member elsewhere leaves that room
// first. A creator join replaces the current broadcaster, whose membership
// is cleared and who is told the session ended.
func (c *Coordinator) Join(ctx context.Context, id domain.ConnectionID, sessionID domain.SessionID, role domain.Role) []domain.Transition {
	l := pkglog.Ctx(ctx)

	conn, ok := c.registry.Lookup(id)
	if !ok {
		l.Debug().Str(pkglog.FieldConnID, id.String()).Msg("join from unknown connection ignored")
		return nil
	}

	var transitions []domain.Transition
	if conn.InRoom() {
		transitions = append(transitions, c.depart(ctx, conn, domain.ReasonExplicit, true)...)
	}

	r := c.lockRoom(sessionID, true)
	defer r.mu.Unlock()

	if !c.registry.assign(id, sessionID, role) {
		if r.empty() {
			c.closeRoom(r)
		}
		return transitions
	}

	c.send(ctx, id, domain.NewJoined(sessionID))

	switch role {
	case domain.RoleCreator:
		if prev := r.broadcaster; prev != "" && prev != id {
			c.registry.release(prev, sessionID)
			c.send(ctx, prev, domain.NewSessionEnded(sessionID))
			l.Info().Str(pkglog.FieldSessionID, sessionID.String()).
				Str("previous", prev.String()).
				Str(pkglog.FieldConnID, id.String()).
				Msg("broadcaster replaced")
		}
		r.broadcaster = id
		c.send(ctx, id, domain.NewWaitingForViewers(sessionID))
		// Viewers that arrived before the broadcaster waited silently.
		for _, v := range r.viewerIDs() {
			c.send(ctx, id, domain.NewViewerJoined(sessionID, v))
		}
		transitions = append(transitions, domain.Transition{
			Kind:          domain.TransitionLive,
			SessionID:     sessionID,
			BroadcasterID: id,
			Seq:           c.seq.Add(1),
		})

	case domain.RoleViewer:
		r.viewers[id] = struct{}{}
		if r.broadcaster != "" {
			c.send(ctx, r.broadcaster, domain.NewViewerJoined(sessionID, id))
		}
	}

	l.Info().
		Str(pkglog.FieldConnID, id.String()).
		Str(pkglog.FieldSessionID, sessionID.String()).
		Str(pkglog.FieldRole, role.String()).
		Int("viewers", len(r.viewers)).
		Msg("joined room")

	return transitions
}

// Leave removes the connection from the session it joined. The declared
// role and session must match what was recorded at join time, otherwise the
// request is dropped. The registry entry itself is kept.
func (c *Coordinator) Leave(ctx context.Context, id domain.ConnectionID, sessionID domain.SessionID, role domain.Role) []domain.Transition {
	conn, ok := c.registry.Lookup(id)
	if !ok || !conn.InRoom() || conn.SessionID != sessionID || conn.Role != role {
		l := pkglog.Ctx(ctx)
		l.Debug().
			Str(pkglog.FieldConnID, id.String()).
			Str(pkglog.FieldSessionID, sessionID.String()).
			Msg("leave does not match recorded membership, dropped")
		return nil
	}
	return c.depart(ctx, conn, domain.ReasonExplicit, true)
}

// Disconnect applies leave semantics for the connection's recorded
// membership and then forgets the connection. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(ctx context.Context, id domain.ConnectionID) []domain.Transition {
	conn, ok := c.registry.Lookup(id)
	if !ok {
		return nil
	}

	var transitions []domain.Transition
	if conn.InRoom() {
		transitions = c.depart(ctx, conn, domain.ReasonDisconnect, false)
	}
	c.registry.Remove(id)
	return transitions
}

// Relay forwards sig to its target when the sender's recorded membership
// permits the kind: offers only from the broadcaster, answers only from a
// viewer, candidates always. It reports whether the signal was forwarded.
func (c *Coordinator) Relay(ctx context.Context, sig domain.Signal) bool {
	msg := domain.NewRelayed(sig)

	if sig.Kind == domain.SignalICECandidate {
		c.send(ctx, sig.Target, msg)
		return true
	}

	r := c.lockRoom(sig.SessionID, false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()

	switch sig.Kind {
	case domain.SignalOffer:
		if r.broadcaster != sig.From {
			return false
		}
	case domain.SignalAnswer:
		if !r.hasViewer(sig.From) {
			return false
		}
	default:
		return false
	}

	c.send(ctx, sig.Target, msg)
	return true
}

// Room returns a snapshot of one room.
func (c *Coordinator) Room(sessionID domain.SessionID) (domain.RoomSnapshot, bool) {
	r := c.lockRoom(sessionID, false)
	if r == nil {
		return domain.RoomSnapshot{}, false
	}
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// Rooms returns snapshots of every active room ordered by session id.
func (c *Coordinator) Rooms() []domain.RoomSnapshot {
	c.mu.Lock()
	rooms := make([]*room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	out := make([]domain.RoomSnapshot, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			out = append(out, r.snapshot())
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// depart removes conn from the room recorded for it. notifySelf controls
// whether a departing broadcaster is sent its own sessionEnded.
func (c *Coordinator) depart(ctx context.Context, conn domain.Connection, reason domain.EndReason, notifySelf bool) []domain.Transition {
	l := pkglog.Ctx(ctx).With().
		Str(pkglog.FieldConnID, conn.ID.String()).
		Str(pkglog.FieldSessionID, conn.SessionID.String()).
		Logger()

	r := c.lockRoom(conn.SessionID, false)
	if r == nil {
		c.registry.release(conn.ID, conn.SessionID)
		return nil
	}
	defer r.mu.Unlock()

	switch {
	case conn.Role == domain.RoleCreator && r.broadcaster == conn.ID:
		members := r.members()
		recipients := members
		if !notifySelf {
			recipients = r.viewerIDs()
		}
		c.broadcast(ctx, recipients, domain.NewSessionEnded(r.id))

		for _, m := range members {
			c.registry.release(m, r.id)
		}
		// Numbered before the room is closed: a new room for the same
		// session can only be joined after that.
		ended := domain.Transition{
			Kind:          domain.TransitionEnded,
			SessionID:     r.id,
			BroadcasterID: conn.ID,
			Reason:        reason,
			Seq:           c.seq.Add(1),
		}
		c.closeRoom(r)

		l.Info().Int("viewers", len(members)-1).Str("reason", string(reason)).Msg("session ended")
		return []domain.Transition{ended}

	case conn.Role == domain.RoleViewer && r.hasViewer(conn.ID):
		delete(r.viewers, conn.ID)
		c.registry.release(conn.ID, r.id)
		if r.broadcaster != "" {
			c.send(ctx, r.broadcaster, domain.NewViewerLeft(r.id, conn.ID))
		}
		if r.empty() {
			c.closeRoom(r)
		}
		l.Info().Int("viewers", len(r.viewers)).Msg("viewer left room")

	default:
		// The recorded room was replaced since this connection joined it.
		c.registry.release(conn.ID, conn.SessionID)
	}
	return nil
}

// lockRoom returns the room for id with its lock held, creating it when
// create is set. It returns nil if the room does not exist and create is
// false. Rooms closed while we waited for the lock are skipped.
func (c *Coordinator) lockRoom(id domain.SessionID, create bool) *room {
	for {
		c.mu.Lock()
		r, ok := c.rooms[id]
		if !ok {
			if !create {
				c.mu.Unlock()
				return nil
			}
			r = newRoom(id)
			c.rooms[id] = r
		}
		c.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
	}
}

// closeRoom must be called with r.mu held.
func (c *Coordinator) closeRoom(r *room) {
	r.closed = true
	r.broadcaster = ""
	r.viewers = make(map[domain.ConnectionID]struct{})

	c.mu.Lock()
	if c.rooms[r.id] == r {
		delete(c.rooms, r.id)
	}
	c.mu.Unlock()
}

func (c *Coordinator) send(ctx context.Context, to domain.ConnectionID, msg domain.Message) {
	if err := c.gateway.Send(ctx, to, msg); err != nil {
		l := pkglog.Ctx(ctx)
		l.Debug().Err(err).Str(pkglog.FieldTarget, to.String()).Str(pkglog.FieldEvent, string(msg.Type)).Msg("send failed")
	}
}

func (c *Coordinator) broadcast(ctx context.Context, to []domain.ConnectionID, msg domain.Message) {
	if len(to) == 0 {
		return
	}
	if err := c.gateway.Broadcast(ctx, to, msg); err != nil {
		l := pkglog.Ctx(ctx)
		l.Debug().Err(err).Str(pkglog.FieldEvent, string(msg.Type)).Msg("broadcast failed")
	}
}
