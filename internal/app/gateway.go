package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/core"
	"github.com/cb3tech/moshcast/internal/domain"
	"github.com/cb3tech/moshcast/internal/metrics"
	"github.com/cb3tech/moshcast/internal/protocol"
)

type role int

const (
	roleNone role = iota
	roleHost
	roleListener
)

// connTag is the per-connection state the gateway maintains so the
// disconnect sweep is a single lookup instead of a registry scan. A
// connection is host of at most one session or listener of at most one
// session at a time.
type connTag struct {
	conn     core.Conn
	role     role
	identity domain.Identity
	name     string
	subject  domain.Identity
}

// Gateway is the single authoritative entry point for all actions. One
// mutex serializes every action and the disconnect sweep against the
// registry and presence tracker, so two actions for the same identity
// never interleave. Outbound delivery goes through TrySend and never
// blocks the serialization point.
type Gateway struct {
	mu       sync.Mutex
	registry *Registry
	presence *Presence
	rooms    *Rooms
	conns    map[core.ConnID]*connTag
}

func NewGateway(registry *Registry, presence *Presence, rooms *Rooms) *Gateway {
	return &Gateway{
		registry: registry,
		presence: presence,
		rooms:    rooms,
		conns:    make(map[core.ConnID]*connTag),
	}
}

// Attach registers a freshly connected transport. subject is the verified
// identity pinned to the connection when authentication is enabled, empty
// otherwise.
func (g *Gateway) Attach(conn core.Conn, subject domain.Identity) {
	g.mu.Lock()
	g.conns[conn.ID()] = &connTag{conn: conn, subject: subject}
	g.mu.Unlock()
	log.Info().Str("module", "app.gateway").Str("conn", string(conn.ID())).Msg("connection attached")
}

// HostStart installs (or takes over) the session for the identity and tags
// the sender as its host.
func (g *Gateway) HostStart(cid core.ConnID, p protocol.HostStart) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tag, ok := g.conns[cid]
	if !ok {
		return
	}
	id := domain.NormalizeIdentity(p.Identity)
	if tag.subject != "" && tag.subject != id {
		g.sendError(tag.conn, protocol.CodeNotHost, "identity does not match credential")
		return
	}

	// A connection switching roles relinquishes the old one first.
	if tag.role == roleListener {
		g.dropListenerLocked(tag, cid)
	}
	if tag.role == roleHost && tag.identity != id {
		if g.registry.RemoveIfHost(tag.identity, cid) {
			g.finishSessionLocked(tag.identity, cid)
		}
		tag.role, tag.identity = roleNone, ""
	}

	playing := false
	if p.IsPlaying != nil {
		playing = *p.IsPlaying
	}
	position := 0.0
	if p.Position != nil {
		position = *p.Position
	}

	g.registry.CreateOrReplace(id, cid, p.Track, playing, position)
	g.rooms.Join(id, tag.conn)
	tag.role, tag.identity = roleHost, id

	metrics.ActiveSessions.Set(float64(g.registry.Count()))
	g.send(tag.conn, protocol.HostStarted{Type: protocol.EventHostStarted, Identity: string(id)})
}

// HostUpdate applies a host mutation and fans the new state out to the
// room. On any error the session is left untouched and only the sender
// hears about it.
func (g *Gateway) HostUpdate(cid core.ConnID, p protocol.HostUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tag, ok := g.conns[cid]
	if !ok {
		return
	}
	id := domain.NormalizeIdentity(p.Identity)

	s, err := g.registry.Mutate(id, cid, domain.SessionUpdate{
		Track:     p.Track,
		IsPlaying: p.IsPlaying,
		Position:  p.Position,
	})
	switch err {
	case nil:
	case ErrNotFound:
		g.sendError(tag.conn, protocol.CodeNotFound, "no live session for identity")
		return
	case ErrNotHost:
		g.sendError(tag.conn, protocol.CodeNotHost, "not the session host")
		return
	default:
		return
	}

	g.broadcastLocked(id, protocol.EventStreamUpdate, protocol.StreamUpdate{
		Type:      protocol.EventStreamUpdate,
		Track:     s.Track,
		IsPlaying: s.IsPlaying,
		Position:  s.PositionAt(time.Now()),
	}, cid)
}

// HostEnd removes the session if the sender still owns it; otherwise the
// action is silently ignored.
func (g *Gateway) HostEnd(cid core.ConnID, p protocol.HostEnd) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tag, ok := g.conns[cid]
	if !ok {
		return
	}
	id := domain.NormalizeIdentity(p.Identity)
	if !g.registry.RemoveIfHost(id, cid) {
		return
	}
	g.finishSessionLocked(id, cid)
	tag.role, tag.identity = roleNone, ""
}

// ListenerJoin subscribes the sender to a live session: state snapshot to
// the joiner, updated count and a system notice to the room.
func (g *Gateway) ListenerJoin(cid core.ConnID, p protocol.ListenerJoin) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tag, ok := g.conns[cid]
	if !ok {
		return
	}
	id := domain.NormalizeIdentity(p.Identity)

	s, ok := g.registry.Get(id)
	if !ok {
		g.sendError(tag.conn, protocol.CodeNotFound, "no live session for identity")
		return
	}

	name := p.DisplayName
	if name == "" {
		name = "guest"
	}

	// The host connection is already in the room and never counts as a
	// listener of its own session.
	if cid == s.HostConn {
		g.send(tag.conn, g.stateEvent(s, g.presence.Count(id)))
		return
	}

	if tag.role == roleListener {
		g.dropListenerLocked(tag, cid)
	}
	if tag.role == roleHost {
		if g.registry.RemoveIfHost(tag.identity, cid) {
			g.finishSessionLocked(tag.identity, cid)
		}
		tag.role, tag.identity = roleNone, ""
	}

	g.presence.Join(id, cid, name)
	g.rooms.Join(id, tag.conn)
	tag.role, tag.identity, tag.name = roleListener, id, name

	count := g.presence.Count(id)
	metrics.ActiveListeners.Set(float64(g.presence.TotalListeners()))

	g.send(tag.conn, g.stateEvent(s, count))
	g.broadcastLocked(id, protocol.EventStreamListeners, protocol.StreamListeners{
		Type:  protocol.EventStreamListeners,
		Count: count,
	}, cid)
	g.systemChatLocked(id, name+" joined the stream", cid)
}

// ChatSend relays a user message to the room, sender included. An unknown
// room drops the message silently.
func (g *Gateway) ChatSend(cid core.ConnID, p protocol.ChatSend) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tag, ok := g.conns[cid]
	if !ok {
		return
	}
	id := domain.NormalizeIdentity(p.Identity)

	name := p.SenderName
	if name == "" {
		name = tag.name
	}
	if name == "" {
		name = "guest"
	}

	g.broadcastLocked(id, protocol.EventChatMessage, protocol.ChatMessage{
		Type:        protocol.EventChatMessage,
		MessageType: protocol.ChatUser,
		Username:    name,
		Text:        p.Message,
		Timestamp:   time.Now().UnixMilli(),
		SenderID:    string(cid),
	}, "")
	metrics.ChatMessages.Inc()
}

// Disconnect is the transport-close sweep. It is idempotent: a second
// sweep for the same connection is a no-op.
func (g *Gateway) Disconnect(cid core.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tag, ok := g.conns[cid]
	if !ok {
		return
	}
	delete(g.conns, cid)

	switch tag.role {
	case roleHost:
		if g.registry.RemoveIfHost(tag.identity, cid) {
			g.finishSessionLocked(tag.identity, cid)
		} else {
			// Orphaned by a take-over: the session now belongs to a newer
			// connection, only the room subscription goes away.
			g.rooms.Leave(tag.identity, cid)
		}
	case roleListener:
		g.dropListenerLocked(tag, cid)
	}
	log.Info().Str("module", "app.gateway").Str("conn", string(cid)).Msg("connection swept")
}

// Stats reports live session and listener counts.
func (g *Gateway) Stats() (sessions, listeners int) {
	return g.registry.Count(), g.presence.TotalListeners()
}

// Shutdown ends every live session with a terminal notice and clears the
// registry. Called once at process exit before the transport stops.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range g.registry.Identities() {
		g.registry.Remove(id)
		g.finishSessionLocked(id, "")
	}
	for cid, tag := range g.conns {
		tag.conn.Close()
		delete(g.conns, cid)
	}
	log.Info().Str("module", "app.gateway").Msg("gateway shut down")
}

// finishSessionLocked delivers the terminal events for an already-removed
// session, clears the listener tags, and closes the room.
func (g *Gateway) finishSessionLocked(id domain.Identity, exclude core.ConnID) {
	g.broadcastLocked(id, protocol.EventStreamEnded, protocol.StreamEnded{
		Type:    protocol.EventStreamEnded,
		Message: "stream ended",
	}, exclude)
	g.systemChatLocked(id, "stream ended", exclude)

	for _, cid := range g.presence.Reset(id) {
		if t, ok := g.conns[cid]; ok && t.role == roleListener {
			t.role, t.identity, t.name = roleNone, "", ""
		}
	}
	g.rooms.Close(id)

	metrics.ActiveSessions.Set(float64(g.registry.Count()))
	metrics.ActiveListeners.Set(float64(g.presence.TotalListeners()))
}

// dropListenerLocked removes a tagged listener from its session and tells
// the remaining room about the new count and the departure.
func (g *Gateway) dropListenerLocked(tag *connTag, cid core.ConnID) {
	id, name := tag.identity, tag.name
	tag.role, tag.identity, tag.name = roleNone, "", ""

	if !g.presence.Leave(id, cid) {
		return
	}
	g.rooms.Leave(id, cid)
	metrics.ActiveListeners.Set(float64(g.presence.TotalListeners()))

	g.broadcastLocked(id, protocol.EventStreamListeners, protocol.StreamListeners{
		Type:  protocol.EventStreamListeners,
		Count: g.presence.Count(id),
	}, cid)
	if name == "" {
		name = "guest"
	}
	g.systemChatLocked(id, name+" left the stream", cid)
}

func (g *Gateway) systemChatLocked(id domain.Identity, text string, exclude core.ConnID) {
	g.broadcastLocked(id, protocol.EventChatMessage, protocol.ChatMessage{
		Type:        protocol.EventChatMessage,
		MessageType: protocol.ChatSystem,
		Text:        text,
		Timestamp:   time.Now().UnixMilli(),
	}, exclude)
}

func (g *Gateway) stateEvent(s *domain.Session, count int) protocol.StreamState {
	return protocol.StreamState{
		Type:          protocol.EventStreamState,
		Track:         s.Track,
		IsPlaying:     s.IsPlaying,
		Position:      s.PositionAt(time.Now()),
		ListenerCount: count,
	}
}

func (g *Gateway) broadcastLocked(id domain.Identity, event string, v any, exclude core.ConnID) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Msg("broadcast marshal")
		return
	}
	res := g.rooms.Broadcast(id, b, exclude)
	metrics.EventsBroadcast.WithLabelValues(event).Add(float64(res.Sent))
	if res.Dropped > 0 {
		metrics.FramesDropped.Add(float64(res.Dropped))
	}
}

func (g *Gateway) send(c core.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		metrics.FramesDropped.Inc()
	}
}

func (g *Gateway) sendError(c core.Conn, code, msg string) {
	metrics.ActionErrors.WithLabelValues(code).Inc()
	g.send(c, protocol.NewStreamError(code, msg))
}
