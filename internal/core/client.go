package core

import "github.com/vovakirdan/wirechat-rendezvous/internal/proto"

// Inbound is one item on the hub's inbound channel. Outbound is set only
// on the registration Hello and carries the sending half of the client's
// delivery queue.
//
// Origin is the queue of the registration that forwarded the envelope.
// When set, the hub drops the envelope if the sender's record is held by
// another queue, so a rejected connection cannot act on an identity that
// belongs to someone else.
type Inbound struct {
	Envelope proto.Envelope
	Outbound chan proto.Envelope
	Origin   chan proto.Envelope
}

// entry is the hub-private state of one registered client.
type entry struct {
	client proto.Client
	out    chan proto.Envelope
	// closing is set once a Closed has been requeued for this client, so
	// further failed sends do not queue more.
	closing bool
}

// NewOutbound creates a client delivery queue of the given capacity.
func NewOutbound(capacity int) chan proto.Envelope {
	if capacity <= 0 {
		capacity = DefaultOutboundBuffer
	}
	return make(chan proto.Envelope, capacity)
}
