// Package protocol defines the tagged message variants exchanged over the
// stream socket. Every inbound frame is an envelope {"type": ...} whose
// payload is decoded and validated here before it reaches the gateway.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cb3tech/moshcast/internal/domain"
)

// Inbound action kinds.
const (
	ActionHostStart    = "host:start"
	ActionHostUpdate   = "host:update"
	ActionHostEnd      = "host:end"
	ActionListenerJoin = "listener:join"
	ActionChatSend     = "chat:send"
	ActionPing         = "ping"
)

var validate = validator.New()

type Envelope struct {
	Type string `json:"type"`
}

type HostStart struct {
	Identity  string        `json:"identity" validate:"required"`
	Track     *domain.Track `json:"track,omitempty"`
	TrackID   string        `json:"trackId,omitempty"`
	IsPlaying *bool         `json:"isPlaying,omitempty"`
	Position  *float64      `json:"position,omitempty"`
}

type HostUpdate struct {
	Identity  string        `json:"identity" validate:"required"`
	Track     *domain.Track `json:"track,omitempty"`
	TrackID   string        `json:"trackId,omitempty"`
	IsPlaying *bool         `json:"isPlaying,omitempty"`
	Position  *float64      `json:"position,omitempty"`
}

type HostEnd struct {
	Identity string `json:"identity" validate:"required"`
}

type ListenerJoin struct {
	Identity    string `json:"identity" validate:"required"`
	DisplayName string `json:"displayName,omitempty" validate:"omitempty,max=64"`
}

type ChatSend struct {
	Identity   string `json:"identity" validate:"required"`
	Message    string `json:"message" validate:"required,max=2048"`
	SenderName string `json:"senderName,omitempty" validate:"omitempty,max=64"`
}

// Decode unmarshals a raw frame into the given payload and applies its
// validation tags. The returned error is suitable for an INVALID_PAYLOAD
// response.
func Decode(data []byte, payload any) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
