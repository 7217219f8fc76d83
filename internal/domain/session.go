package domain

import (
	"context"
	"time"
)

// SessionStatus is the in-memory lifecycle state of a session.
type SessionStatus string

const (
	StatusIdle         SessionStatus = "idle"
	StatusPairing      SessionStatus = "pairing"
	StatusConnected    SessionStatus = "connected"
	StatusReconnecting SessionStatus = "reconnecting"
	StatusClosed       SessionStatus = "closed"
)

// CloseReason records why a session left the Connected/Pairing states.
type CloseReason string

const (
	CloseNone               CloseReason = ""
	CloseRequested          CloseReason = "requested"
	CloseLoggedOut          CloseReason = "logged_out"
	CloseConnectionError    CloseReason = "connection_error"
	CloseQRExpired          CloseReason = "qr_expired"
	CloseReconnectExhausted CloseReason = "reconnect_exhausted"
)

// Terminal reports whether the reason ends the session's supervision loop.
func (r CloseReason) Terminal() bool {
	switch r {
	case CloseLoggedOut, CloseQRExpired, CloseReconnectExhausted, CloseRequested:
		return true
	}
	return false
}

// SessionStats counts pipeline activity for one session.
type SessionStats struct {
	Received int64 `json:"received"`
	Sent     int64 `json:"sent"`
	Errors   int64 `json:"errors"`
}

// SessionRecord is the persisted shape of a session, one entry per session id.
// Status uses the persisted vocabulary (connected/disconnected/pairing/closed),
// not the richer in-memory SessionStatus.
type SessionRecord struct {
	ID            string       `json:"id"`
	PhoneNumber   string       `json:"phoneNumber"`
	Name          string       `json:"name"`
	Status        string       `json:"status"`
	Stats         SessionStats `json:"stats"`
	LastActive    time.Time    `json:"lastActive"`
	AutoReconnect bool         `json:"autoReconnect"`
}

// PersistedStatus maps an in-memory status onto the persisted vocabulary.
func PersistedStatus(s SessionStatus) string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusPairing:
		return "pairing"
	case StatusClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// SessionInfo is the read-only snapshot returned by session listings.
// It never exposes live connection handles.
type SessionInfo struct {
	ID           string        `json:"id"`
	PhoneNumber  string        `json:"phoneNumber"`
	Name         string        `json:"name"`
	Status       SessionStatus `json:"status"`
	CloseReason  CloseReason   `json:"closeReason,omitempty"`
	Stats        SessionStats  `json:"stats"`
	LastActiveAt time.Time     `json:"lastActiveAt"`
}

// SessionStore persists session records keyed by id.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context) ([]SessionRecord, error)
	SaveSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
}

// CredentialStore persists opaque pairing credentials per session.
// The core never inspects the blob.
type CredentialStore interface {
	// Load returns the stored credential, or ErrCredentialMissing.
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Save(ctx context.Context, sessionID string, credential []byte) error
	Invalidate(ctx context.Context, sessionID string) error
}
