package domain

import (
	"context"
	"time"
)

// Transport is the external capability that opens raw connections to the
// messaging network. The core consumes it; it never implements the wire
// protocol itself.
type Transport interface {
	// Open starts a connection attempt for the session. credential is the
	// opaque blob from the CredentialStore, or nil to begin a fresh pairing.
	// Each call returns a fresh handle with its own event stream; the
	// previous handle's stream must be fully drained or closed before the
	// next attempt so listeners never accumulate.
	Open(ctx context.Context, sessionID string, credential []byte) (TransportHandle, error)
}

// TransportHandle is one live connection. Events delivers lifecycle and
// message events in arrival order and is closed when the connection dies.
type TransportHandle interface {
	Events() <-chan TransportEvent
	Send(ctx context.Context, target, content string) error
	MarkRead(ctx context.Context, target, messageID string) error
	// Close tears the connection down and closes the event channel.
	// Safe to call more than once.
	Close() error
}

// TransportEvent is the closed set of events a handle can emit.
type TransportEvent interface{ transportEvent() }

// EventQR carries a fresh pairing code. The raw code is encoded into a
// renderable image by the lifecycle layer.
type EventQR struct {
	Code string
}

// EventOpened signals a successful connection (pairing or resume).
// PhoneNumber is the network identity the session is bound to, when known.
type EventOpened struct {
	PhoneNumber string
}

// EventClosed signals the connection died. Terminal reasons stop the
// supervision loop; anything else triggers the reconnect policy.
type EventClosed struct {
	Reason CloseReason
	Err    error
}

// EventMessage is one inbound message.
type EventMessage struct {
	ID        string
	From      string
	Body      string
	FromSelf  bool
	Timestamp time.Time
}

// EventCredentials carries an updated credential blob to persist.
type EventCredentials struct {
	Credential []byte
}

func (EventQR) transportEvent()          {}
func (EventOpened) transportEvent()      {}
func (EventClosed) transportEvent()      {}
func (EventMessage) transportEvent()     {}
func (EventCredentials) transportEvent() {}

// QREncoder renders a raw pairing code as a data URL image.
type QREncoder func(code string) (string, error)
