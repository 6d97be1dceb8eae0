package protocol

import "github.com/cb3tech/moshcast/internal/domain"

// Outbound event kinds.
const (
	EventHostStarted     = "host:started"
	EventStreamUpdate    = "stream:update"
	EventStreamEnded     = "stream:ended"
	EventStreamState     = "stream:state"
	EventStreamListeners = "stream:listeners"
	EventStreamError     = "stream:error"
	EventChatMessage     = "chat:message"
	EventPong            = "pong"
)

// Error codes carried by stream:error.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeNotHost        = "NOT_HOST"
	CodeInvalidPayload = "INVALID_PAYLOAD"
)

// Chat message discriminators.
const (
	ChatUser   = "user"
	ChatSystem = "system"
)

type HostStarted struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type StreamUpdate struct {
	Type      string        `json:"type"`
	Track     *domain.Track `json:"track"`
	IsPlaying bool          `json:"isPlaying"`
	Position  float64       `json:"position"`
}

type StreamEnded struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type StreamState struct {
	Type          string        `json:"type"`
	Track         *domain.Track `json:"track"`
	IsPlaying     bool          `json:"isPlaying"`
	Position      float64       `json:"position"`
	ListenerCount int           `json:"listenerCount"`
}

type StreamListeners struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type StreamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ChatMessage is both the user-authored and the system-generated shape;
// MessageType discriminates ("user" or "system"). SenderID and Username
// are empty on system notices.
type ChatMessage struct {
	Type        string `json:"type"`
	MessageType string `json:"messageType"`
	Username    string `json:"username,omitempty"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
	SenderID    string `json:"senderId,omitempty"`
}

type Pong struct {
	Type string `json:"type"`
}

func NewStreamError(code, msg string) StreamError {
	return StreamError{Type: EventStreamError, Error: msg, Code: code}
}
