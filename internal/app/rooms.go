package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/core"
	"github.com/cb3tech/moshcast/internal/domain"
)

// BroadcastResult reports fan-out delivery counts. Dropped subscribers had
// a full send buffer; there is no retry and no acknowledgment.
type BroadcastResult struct {
	Sent    int
	Dropped int
}

// Rooms is the per-session publish/subscribe fan-out: a subscriber set per
// identity with an iterate-and-send broadcast. Delivery is FIFO per sender
// because the gateway serializes senders and each connection buffers in
// arrival order.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.Identity]map[core.ConnID]core.Conn
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.Identity]map[core.ConnID]core.Conn)}
}

func (r *Rooms) Join(id domain.Identity, conn core.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		room = make(map[core.ConnID]core.Conn)
		r.rooms[id] = room
	}
	room[conn.ID()] = conn
	log.Debug().Str("module", "app.rooms").Str("identity", string(id)).Str("conn", string(conn.ID())).Int("members", len(room)).Msg("subscribed")
}

func (r *Rooms) Leave(id domain.Identity, conn core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(r.rooms, id)
	}
}

// Broadcast sends the frame to every subscriber of the room except the
// excluded connection. A subscriber not in the room at broadcast time never
// receives the frame.
func (r *Rooms) Broadcast(id domain.Identity, frame core.Frame, exclude core.ConnID) BroadcastResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := BroadcastResult{}
	for cid, conn := range r.rooms[id] {
		if cid == exclude {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			res.Dropped++
			continue
		}
		res.Sent++
	}
	log.Debug().Str("module", "app.rooms").Str("identity", string(id)).Int("sent", res.Sent).Int("dropped", res.Dropped).Msg("broadcast")
	return res
}

// Close drops the room and its subscriber set.
func (r *Rooms) Close(id domain.Identity) {
	r.mu.Lock()
	delete(r.rooms, id)
	r.mu.Unlock()
	log.Info().Str("module", "app.rooms").Str("identity", string(id)).Msg("room closed")
}

func (r *Rooms) Count(id domain.Identity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[id])
}
