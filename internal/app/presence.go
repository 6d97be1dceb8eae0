package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/core"
	"github.com/cb3tech/moshcast/internal/domain"
)

// Presence tracks the listener set per session plus a display-name side
// table keyed by connection, used for departure notices. It performs no
// I/O; the gateway broadcasts count changes.
type Presence struct {
	mu    sync.RWMutex
	sets  map[domain.Identity]map[core.ConnID]struct{}
	names map[core.ConnID]string
}

func NewPresence() *Presence {
	return &Presence{
		sets:  make(map[domain.Identity]map[core.ConnID]struct{}),
		names: make(map[core.ConnID]string),
	}
}

func (p *Presence) Join(id domain.Identity, conn core.ConnID, displayName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sets[id]
	if !ok {
		set = make(map[core.ConnID]struct{})
		p.sets[id] = set
	}
	set[conn] = struct{}{}
	p.names[conn] = displayName
	log.Info().Str("module", "app.presence").Str("identity", string(id)).Str("conn", string(conn)).Int("count", len(set)).Msg("listener joined")
}

// Leave is idempotent: a second leave for the same connection reports false
// and changes nothing.
func (p *Presence) Leave(id domain.Identity, conn core.ConnID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sets[id]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	delete(p.names, conn)
	if len(set) == 0 {
		delete(p.sets, id)
	}
	log.Info().Str("module", "app.presence").Str("identity", string(id)).Str("conn", string(conn)).Int("count", len(set)).Msg("listener left")
	return true
}

func (p *Presence) Count(id domain.Identity) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sets[id])
}

func (p *Presence) Name(conn core.ConnID) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.names[conn]
}

// Reset drops the whole listener set for a session and returns the removed
// connections, so the gateway can clear their tags when the session ends.
func (p *Presence) Reset(id domain.Identity) []core.ConnID {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sets[id]
	if !ok {
		return nil
	}
	out := make([]core.ConnID, 0, len(set))
	for conn := range set {
		out = append(out, conn)
		delete(p.names, conn)
	}
	delete(p.sets, id)
	log.Info().Str("module", "app.presence").Str("identity", string(id)).Int("dropped", len(out)).Msg("presence reset")
	return out
}

// TotalListeners sums listener counts across all sessions.
func (p *Presence) TotalListeners() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, set := range p.sets {
		total += len(set)
	}
	return total
}
