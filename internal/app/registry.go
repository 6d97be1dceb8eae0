package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/core"
	"github.com/cb3tech/moshcast/internal/domain"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrNotHost  = errors.New("connection is not the session host")
)

// Registry is the in-memory table of live sessions keyed by broadcaster
// identity. Absence of an entry means "not live".
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.Identity]*domain.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.Identity]*domain.Session)}
}

// CreateOrReplace unconditionally installs a new session for the identity.
// A duplicate host:start is a deliberate take-over (reconnect-resume): the
// prior session is discarded and its host connection orphaned, so its later
// mutate calls fail the authority check.
func (r *Registry) CreateOrReplace(id domain.Identity, host core.ConnID, track *domain.Track, playing bool, position float64) *domain.Session {
	now := time.Now()
	s := &domain.Session{
		Identity:  id,
		HostConn:  host,
		Track:     track,
		IsPlaying: playing,
		Position:  position,
		UpdatedAt: now,
		CreatedAt: now,
	}
	r.mu.Lock()
	_, replaced := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Str("host", string(host)).Bool("replaced", replaced).Msg("session installed")
	return s
}

func (r *Registry) Get(id domain.Identity) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Mutate applies the provided fields under host authority. UpdatedAt is
// reset only when track, playing state, or position actually change, so a
// no-op update does not shift the extrapolation baseline.
func (r *Registry) Mutate(id domain.Identity, requester core.ConnID, upd domain.SessionUpdate) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.HostConn != requester {
		return nil, ErrNotHost
	}

	changed := false
	if upd.Track != nil {
		s.Track = upd.Track
		changed = true
	}
	if upd.Position != nil {
		s.Position = *upd.Position
		changed = true
	}
	if upd.IsPlaying != nil && *upd.IsPlaying != s.IsPlaying {
		// A pause or resume freezes/unfreezes the clock from the current
		// extrapolated point unless the host also supplied a position.
		if upd.Position == nil {
			s.Position = s.PositionAt(time.Now())
		}
		s.IsPlaying = *upd.IsPlaying
		changed = true
	}
	if changed {
		s.UpdatedAt = time.Now()
	}
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Bool("changed", changed).Msg("session mutated")
	return s, nil
}

func (r *Registry) Remove(id domain.Identity) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Msg("session removed")
}

// RemoveIfHost removes the session only when the connection still owns it.
// Disconnect handling uses this so a session taken over by a new host is
// not destroyed by the old host's closing socket.
func (r *Registry) RemoveIfHost(id domain.Identity, conn core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.HostConn != conn {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("identity", string(id)).Str("host", string(conn)).Msg("session removed by host")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Identities snapshots the live session keys, used by the shutdown drain.
func (r *Registry) Identities() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Identity, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
