// Package core contains the transport-facing contracts shared by the
// engine and its adapters.
package core

import "errors"

var ErrBackpressure = errors.New("backpressure")

type ConnID string

type Frame = []byte

// Conn is one attached subscriber connection. TrySend must never block:
// implementations buffer or drop, and surface a full buffer as
// ErrBackpressure so the caller can keep processing.
type Conn interface {
	ID() ConnID
	TrySend(Frame) error
	Close()
}
