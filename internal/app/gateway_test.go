package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cb3tech/moshcast/internal/core"
	"github.com/cb3tech/moshcast/internal/domain"
	"github.com/cb3tech/moshcast/internal/protocol"
)

func newTestGateway() (*Gateway, *Registry, *Presence) {
	reg := NewRegistry()
	pres := NewPresence()
	g := NewGateway(reg, pres, NewRooms())
	return g, reg, pres
}

func attach(g *Gateway, id core.ConnID) *fakeConn {
	c := newFakeConn(id)
	g.Attach(c, "")
	return c
}

func startedSession(g *Gateway, identity string, host *fakeConn, playing bool, position float64) {
	g.HostStart(host.ID(), protocol.HostStart{
		Identity:  identity,
		Track:     &domain.Track{Title: "X"},
		IsPlaying: &playing,
		Position:  &position,
	})
}

func TestJoinWithoutSessionYieldsNotFound(t *testing.T) {
	g, _, _ := newTestGateway()
	bob := attach(g, "bob")

	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice", DisplayName: "bob"})

	ev := bob.lastEvent(t)
	assert.Equal(t, protocol.EventStreamError, ev["type"])
	assert.Equal(t, protocol.CodeNotFound, ev["code"])
}

func TestHostStartConfirmsToSender(t *testing.T) {
	g, reg, _ := newTestGateway()
	host := attach(g, "host")

	startedSession(g, "Alice", host, false, 0)

	ev := host.lastEvent(t)
	assert.Equal(t, protocol.EventHostStarted, ev["type"])
	assert.Equal(t, "alice", ev["identity"])

	_, ok := reg.Get(domain.NormalizeIdentity("ALICE"))
	assert.True(t, ok)
}

func TestUpdateFromNonHostYieldsNotHostAndLeavesState(t *testing.T) {
	g, reg, _ := newTestGateway()
	host := attach(g, "host")
	intruder := attach(g, "intruder")
	startedSession(g, "alice", host, true, 12)

	playing := false
	g.HostUpdate("intruder", protocol.HostUpdate{
		Identity:  "alice",
		Track:     &domain.Track{Title: "Y"},
		IsPlaying: &playing,
	})

	ev := intruder.lastEvent(t)
	assert.Equal(t, protocol.EventStreamError, ev["type"])
	assert.Equal(t, protocol.CodeNotHost, ev["code"])

	s, ok := reg.Get(domain.NormalizeIdentity("alice"))
	require.True(t, ok)
	assert.Equal(t, "X", s.Track.Title)
	assert.True(t, s.IsPlaying)
	assert.Equal(t, 12.0, s.Position)
}

func TestJoinPausedSessionReportsBaselineExactly(t *testing.T) {
	g, _, _ := newTestGateway()
	host := attach(g, "host")
	bob := attach(g, "bob")
	startedSession(g, "alice", host, false, 37.5)

	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice", DisplayName: "bob"})

	var state map[string]any
	for _, ev := range bob.events(t) {
		if ev["type"] == protocol.EventStreamState {
			state = ev
		}
	}
	require.NotNil(t, state)
	assert.Equal(t, 37.5, state["position"])
	assert.Equal(t, false, state["isPlaying"])
	assert.Equal(t, 1.0, state["listenerCount"])
}

func TestJoinPlayingSessionExtrapolates(t *testing.T) {
	g, _, _ := newTestGateway()
	host := attach(g, "host")
	bob := attach(g, "bob")
	startedSession(g, "alice", host, true, 0)

	time.Sleep(150 * time.Millisecond)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice"})

	var state map[string]any
	for _, ev := range bob.events(t) {
		if ev["type"] == protocol.EventStreamState {
			state = ev
		}
	}
	require.NotNil(t, state)
	assert.InDelta(t, 0.15, state["position"].(float64), 0.05)
}

func TestJoinNotifiesRoom(t *testing.T) {
	g, _, _ := newTestGateway()
	host := attach(g, "host")
	_ = attach(g, "bob")
	startedSession(g, "alice", host, false, 0)

	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice", DisplayName: "bob"})

	types := host.eventTypes(t)
	assert.Contains(t, types, protocol.EventStreamListeners)
	assert.Contains(t, types, protocol.EventChatMessage)

	for _, ev := range host.events(t) {
		switch ev["type"] {
		case protocol.EventStreamListeners:
			assert.Equal(t, 1.0, ev["count"])
		case protocol.EventChatMessage:
			assert.Equal(t, protocol.ChatSystem, ev["messageType"])
			assert.Contains(t, ev["text"], "bob")
		}
	}
}

func TestUpdateFansOutExcludingHost(t *testing.T) {
	g, _, _ := newTestGateway()
	host := attach(g, "host")
	bob := attach(g, "bob")
	startedSession(g, "alice", host, true, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice"})

	hostFrames := host.frameCount()
	pos := 5.0
	playing := true
	g.HostUpdate("host", protocol.HostUpdate{Identity: "alice", Position: &pos, IsPlaying: &playing})

	ev := bob.lastEvent(t)
	assert.Equal(t, protocol.EventStreamUpdate, ev["type"])
	assert.InDelta(t, 5.0, ev["position"].(float64), 0.05)
	// The sender does not hear its own update.
	assert.Equal(t, hostFrames, host.frameCount())
}

func TestSeekResetsBaseline(t *testing.T) {
	g, _, _ := newTestGateway()
	host := attach(g, "host")
	carol := attach(g, "carol")
	startedSession(g, "alice", host, true, 0)

	// Host seeks to 5; a listener joining right after sees ~5, not the
	// time elapsed since start.
	pos := 5.0
	playing := true
	g.HostUpdate("host", protocol.HostUpdate{Identity: "alice", Position: &pos, IsPlaying: &playing})

	g.ListenerJoin("carol", protocol.ListenerJoin{Identity: "alice"})
	var state map[string]any
	for _, ev := range carol.events(t) {
		if ev["type"] == protocol.EventStreamState {
			state = ev
		}
	}
	require.NotNil(t, state)
	assert.InDelta(t, 5.0, state["position"].(float64), 0.05)
}

func TestChatReachesRoomIncludingSender(t *testing.T) {
	g, _, _ := newTestGateway()
	host := attach(g, "host")
	bob := attach(g, "bob")
	startedSession(g, "alice", host, false, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice", DisplayName: "bob"})

	g.ChatSend("bob", protocol.ChatSend{Identity: "alice", Message: "hi all", SenderName: "bob"})

	for _, c := range []*fakeConn{host, bob} {
		ev := c.lastEvent(t)
		assert.Equal(t, protocol.EventChatMessage, ev["type"])
		assert.Equal(t, protocol.ChatUser, ev["messageType"])
		assert.Equal(t, "hi all", ev["text"])
		assert.Equal(t, "bob", ev["username"])
		assert.Equal(t, "bob", ev["senderId"])
		assert.NotZero(t, ev["timestamp"])
	}
}

func TestHostEndByNonHostSilentlyIgnored(t *testing.T) {
	g, reg, _ := newTestGateway()
	host := attach(g, "host")
	intruder := attach(g, "intruder")
	startedSession(g, "alice", host, false, 0)

	before := intruder.frameCount()
	g.HostEnd("intruder", protocol.HostEnd{Identity: "alice"})

	assert.Equal(t, before, intruder.frameCount())
	_, ok := reg.Get(domain.NormalizeIdentity("alice"))
	assert.True(t, ok)
}

func TestHostEndDeliversEndedAndRemoves(t *testing.T) {
	g, reg, _ := newTestGateway()
	host := attach(g, "host")
	bob := attach(g, "bob")
	startedSession(g, "alice", host, false, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice"})

	g.HostEnd("host", protocol.HostEnd{Identity: "alice"})

	assert.Contains(t, bob.eventTypes(t), protocol.EventStreamEnded)
	_, ok := reg.Get(domain.NormalizeIdentity("alice"))
	assert.False(t, ok)

	// Once removed, joins observe NOT_FOUND with no race window.
	carol := attach(g, "carol")
	g.ListenerJoin("carol", protocol.ListenerJoin{Identity: "alice"})
	assert.Equal(t, protocol.CodeNotFound, carol.lastEvent(t)["code"])
}

func TestHostDisconnectEndsSession(t *testing.T) {
	g, reg, _ := newTestGateway()
	host := attach(g, "host")
	bob := attach(g, "bob")
	carol := attach(g, "carol")
	startedSession(g, "alice", host, true, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice"})
	g.ListenerJoin("carol", protocol.ListenerJoin{Identity: "alice"})

	g.Disconnect("host")

	for _, c := range []*fakeConn{bob, carol} {
		assert.Contains(t, c.eventTypes(t), protocol.EventStreamEnded)
	}
	_, ok := reg.Get(domain.NormalizeIdentity("alice"))
	assert.False(t, ok)

	dave := attach(g, "dave")
	g.ListenerJoin("dave", protocol.ListenerJoin{Identity: "alice"})
	assert.Equal(t, protocol.CodeNotFound, dave.lastEvent(t)["code"])
}

func TestListenerDisconnectDecrementsOnce(t *testing.T) {
	g, _, pres := newTestGateway()
	host := attach(g, "host")
	_ = attach(g, "bob")
	_ = attach(g, "carol")
	startedSession(g, "alice", host, false, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice", DisplayName: "bob"})
	g.ListenerJoin("carol", protocol.ListenerJoin{Identity: "alice", DisplayName: "carol"})

	id := domain.NormalizeIdentity("alice")
	require.Equal(t, 2, pres.Count(id))

	g.Disconnect("bob")
	assert.Equal(t, 1, pres.Count(id))

	hostFrames := host.frameCount()
	// The sweep is idempotent: a duplicate disconnect changes nothing and
	// broadcasts nothing.
	g.Disconnect("bob")
	assert.Equal(t, 1, pres.Count(id))
	assert.Equal(t, hostFrames, host.frameCount())

	// The room saw the departure exactly once.
	departures := 0
	for _, ev := range host.events(t) {
		if ev["type"] == protocol.EventChatMessage && ev["messageType"] == protocol.ChatSystem {
			if text, _ := ev["text"].(string); text == "bob left the stream" {
				departures++
			}
		}
	}
	assert.Equal(t, 1, departures)
}

func TestTakeOverReplacesSession(t *testing.T) {
	g, _, _ := newTestGateway()
	first := attach(g, "first")
	second := attach(g, "second")
	startedSession(g, "alice", first, true, 10)
	startedSession(g, "alice", second, true, 0)

	// The original host lost authority for update and end.
	pos := 99.0
	g.HostUpdate("first", protocol.HostUpdate{Identity: "alice", Position: &pos})
	assert.Equal(t, protocol.CodeNotHost, first.lastEvent(t)["code"])

	g.HostEnd("first", protocol.HostEnd{Identity: "alice"})
	s, ok := g.registry.Get(domain.NormalizeIdentity("alice"))
	require.True(t, ok)
	assert.Equal(t, core.ConnID("second"), s.HostConn)

	// And its disconnect no longer tears the session down.
	g.Disconnect("first")
	_, ok = g.registry.Get(domain.NormalizeIdentity("alice"))
	assert.True(t, ok)
}

func TestListenersSurviveTakeOver(t *testing.T) {
	g, _, pres := newTestGateway()
	first := attach(g, "first")
	bob := attach(g, "bob")
	startedSession(g, "alice", first, true, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice", DisplayName: "bob"})

	second := attach(g, "second")
	startedSession(g, "alice", second, true, 42)

	assert.Equal(t, 1, pres.Count(domain.NormalizeIdentity("alice")))

	pos := 50.0
	playing := true
	g.HostUpdate("second", protocol.HostUpdate{Identity: "alice", Position: &pos, IsPlaying: &playing})
	ev := bob.lastEvent(t)
	assert.Equal(t, protocol.EventStreamUpdate, ev["type"])
}

func TestShutdownEndsEverySession(t *testing.T) {
	g, reg, _ := newTestGateway()
	h1 := attach(g, "h1")
	h2 := attach(g, "h2")
	bob := attach(g, "bob")
	startedSession(g, "alice", h1, true, 0)
	startedSession(g, "dave", h2, false, 0)
	g.ListenerJoin("bob", protocol.ListenerJoin{Identity: "alice"})

	g.Shutdown()

	assert.Equal(t, 0, reg.Count())
	assert.Contains(t, bob.eventTypes(t), protocol.EventStreamEnded)
	assert.True(t, bob.closed)
}
