package domain

import "errors"

var (
	ErrAlreadyConnected  = errors.New("session is already connected")
	ErrNotConnected      = errors.New("session is not connected")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSettingsNotFound  = errors.New("settings not found")
	ErrCredentialMissing = errors.New("credential not found")
)

// PersistenceError wraps a store failure that survived the retry policy.
// It is surfaced to the caller of the mutating operation; in-memory state
// is left untouched.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persistence: " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports an invalid settings patch or request payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }
