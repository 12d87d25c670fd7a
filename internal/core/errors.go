package core

import "errors"

var (
	// ErrHubStopped is returned by queries after Run has returned.
	ErrHubStopped = errors.New("hub stopped")
	// ErrUnknownClient means the identity is not registered.
	ErrUnknownClient = errors.New("unknown client")
	// ErrNotParticipant means a call report came from outside the call.
	ErrNotParticipant = errors.New("sender is not a call participant")
)
