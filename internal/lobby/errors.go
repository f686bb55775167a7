// internal/lobby/errors.go
package lobby

import "errors"

// Registry error taxonomy. HTTP and WebSocket layers map these onto
// status codes / error replies; comparisons use errors.Is.
var (
	// ErrNotFound means the lobby code is unknown.
	ErrNotFound = errors.New("lobby not found")

	// ErrCodeTaken means a create collided with an existing lobby code.
	ErrCodeTaken = errors.New("lobby code already in use")

	// ErrExhausted means code generation gave up after the bounded retry count.
	ErrExhausted = errors.New("could not generate a unique lobby code")

	// ErrLobbyFull means the guest slot is occupied by a different player.
	ErrLobbyFull = errors.New("lobby is full")

	// ErrInvalidState means the operation is not legal for the lobby's
	// current status (e.g. joining a battle already in progress).
	ErrInvalidState = errors.New("operation not allowed in current lobby state")

	// ErrInvalidTransition means the requested status change violates the
	// lifecycle table.
	ErrInvalidTransition = errors.New("invalid lobby status transition")

	// ErrUnauthorized means the caller may not perform the mutation
	// (non-host settings change, setting another player's ready flag).
	ErrUnauthorized = errors.New("player not authorized for this action")

	// ErrValidation means a required field was missing or malformed.
	ErrValidation = errors.New("invalid request payload")

	// ErrStaleWrite means an update carried a version that no longer matches
	// the stored row. The registry retries internally; seeing it escape means
	// a concurrent writer bypassed the per-code lock.
	ErrStaleWrite = errors.New("stale lobby write rejected")
)
