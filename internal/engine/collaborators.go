package engine

import "context"

// Persistence stores confirmed matches. Failures are logged by the engine
// and never roll back a confirmation.
type Persistence interface {
	SaveFinalizedMatch(ctx context.Context, m FinalizedMatch) error
}

// Transport delivers events to a user's current connection. Delivery is
// fire-and-forget; a user with no live connection is silently skipped.
type Transport interface {
	Notify(userID, event string, payload interface{})
	// JoinSharedChannel subscribes the user's connection to the private
	// channel created for a confirmed match.
	JoinSharedChannel(userID, channelID string)
}

// Identity resolves the current matching profile for a user. A nil profile
// with a nil error means the user has no profile stored.
type Identity interface {
	CurrentProfile(ctx context.Context, userID string) (*Profile, error)
}
