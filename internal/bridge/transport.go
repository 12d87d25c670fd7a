package bridge

import "context"

// Frame is one discrete message read from a transport.
type Frame struct {
	// Binary is false for text frames, which carry no envelopes.
	Binary bool
	Data   []byte
}

// Transport is an accepted, already secured, message-oriented stream.
// ReadFrame and WriteFrame are each called from a single goroutine.
type Transport interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, data []byte) error
}
