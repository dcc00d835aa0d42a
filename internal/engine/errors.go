package engine

import "errors"

var (
	// ErrNotInPool is returned when an operation targets a user who has no
	// entry in the waiting pool.
	ErrNotInPool = errors.New("engine: user not in waiting pool")

	// ErrMatchResolved is returned when an accept or reject targets a match
	// that does not exist or has already been confirmed or dissolved.
	ErrMatchResolved = errors.New("engine: match not found or already resolved")

	// ErrNoInterests is returned when a pairing request arrives for a user
	// whose profile has no usable interest tags.
	ErrNoInterests = errors.New("engine: profile has no interests")

	// ErrNotLive is returned when a pairing request carries no connection
	// binding. Pool entries must always be reachable.
	ErrNotLive = errors.New("engine: user has no live connection")

	// ErrPendingMatch is returned when a pairing request arrives for a user
	// who is already part of a proposed match awaiting acceptance.
	ErrPendingMatch = errors.New("engine: user already has a pending match")
)
