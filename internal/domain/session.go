// Package domain contains entity types without behavior beyond
// normalization and the playback clock.
package domain

import (
	"strings"
	"time"

	"github.com/cb3tech/moshcast/internal/core"
)

// Identity is the normalized broadcaster key. One live Session per Identity.
type Identity string

func NormalizeIdentity(raw string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(raw)))
}

// Track is an opaque descriptor carried through the engine untouched.
type Track struct {
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Session is the live-broadcast state owned by one host under one identity.
// Position is a baseline, not a running counter: the engine records the
// value the host last reported together with UpdatedAt and extrapolates
// on read.
type Session struct {
	Identity  Identity
	HostConn  core.ConnID
	Track     *Track
	IsPlaying bool
	Position  float64
	UpdatedAt time.Time
	CreatedAt time.Time
}

// SessionUpdate carries the fields of a host mutation. Nil means
// "leave unchanged".
type SessionUpdate struct {
	Track     *Track
	IsPlaying *bool
	Position  *float64
}
