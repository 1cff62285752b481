package model

import "errors"

// Common errors used across the application. Each is a stable, matchable
// value; callers distinguish causes with errors.Is rather than by
// parsing message text.
var (
	// Validation errors (rejected before any store access)
	ErrCodeInvalid = errors.New("join code is malformed")
	ErrBadReaction = errors.New("unknown reaction type")
	ErrNotInRoom   = errors.New("client is not in a room")

	// Authorization errors
	ErrNotHost = errors.New("caller is not the room host")

	// Precondition errors (state machine guards)
	ErrTooFewPlayers = errors.New("not enough players to start")
	ErrNotAllReady   = errors.New("not all players are ready")
	ErrRoomFull      = errors.New("room is full")

	// Not-found errors
	ErrCodeNotFound = errors.New("join code not found")
	ErrRoomNotFound = errors.New("room not found")

	// Resource exhaustion
	ErrAllocateCode = errors.New("join code allocation retries exhausted")

	// Access denied by the underlying store
	ErrPermissionDenied = errors.New("store rejected the write")
	ErrCodeWrite        = errors.New("join code reservation write forbidden")
)
