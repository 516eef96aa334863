package store

import "errors"

// Sentinel errors returned by repository implementations. Callers use
// errors.Is to classify failures per the error-handling design (validation,
// not-found, conflict, transient).
var (
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicateMessage  = errors.New("store: duplicate message_id or (channel_id, pts)")
	ErrDuplicateUsername = errors.New("store: username already taken")
	ErrDuplicateEmail    = errors.New("store: email already registered")
	ErrDuplicateJTI      = errors.New("store: token jti already logged")
)
