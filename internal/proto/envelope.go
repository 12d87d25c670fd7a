package proto

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityKind tells whether an EntityRef points at the hub or at a client.
type EntityKind uint8

const (
	// EntityInvalid is the zero value and never appears on the wire.
	EntityInvalid EntityKind = iota
	// EntityServer addresses the hub itself.
	EntityServer
	// EntityClient addresses one registered client.
	EntityClient
)

func (k EntityKind) String() string {
	switch k {
	case EntityServer:
		return "server"
	case EntityClient:
		return "client"
	default:
		return fmt.Sprintf("entity(%d)", uint8(k))
	}
}

// EntityRef is an address inside an Envelope. Server refs carry the zero ID.
type EntityRef struct {
	Kind EntityKind `cbor:"1,keyasint"`
	ID   uuid.UUID  `cbor:"2,keyasint"`
}

// Server returns the reference to the hub.
func Server() EntityRef {
	return EntityRef{Kind: EntityServer}
}

// ClientRef returns a reference to the client with the given identity.
func ClientRef(id uuid.UUID) EntityRef {
	return EntityRef{Kind: EntityClient, ID: id}
}

// IsServer reports whether the reference addresses the hub.
func (r EntityRef) IsServer() bool {
	return r.Kind == EntityServer
}

// IsClient reports whether the reference addresses a specific client.
func (r EntityRef) IsClient() bool {
	return r.Kind == EntityClient
}

func (r EntityRef) String() string {
	if r.IsClient() {
		return r.ID.String()
	}
	return r.Kind.String()
}

func (r EntityRef) validate() error {
	switch r.Kind {
	case EntityServer:
		if r.ID != uuid.Nil {
			return fmt.Errorf("server reference carries id %s", r.ID)
		}
	case EntityClient:
		if r.ID == uuid.Nil {
			return fmt.Errorf("client reference without id")
		}
	default:
		return fmt.Errorf("unknown entity kind %d", r.Kind)
	}
	return nil
}

// Envelope is the addressed unit exchanged between clients and the hub.
// Envelopes are values; derive new ones instead of mutating.
type Envelope struct {
	Sender       EntityRef
	Intermediary *EntityRef
	Receiver     EntityRef
	Command      Command
}

// NewEnvelope builds a direct envelope without an intermediary.
func NewEnvelope(sender, receiver EntityRef, cmd Command) Envelope {
	return Envelope{Sender: sender, Receiver: receiver, Command: cmd}
}

// FromServer builds an envelope the hub sends to a client.
func FromServer(to uuid.UUID, cmd Command) Envelope {
	return NewEnvelope(Server(), ClientRef(to), cmd)
}

// ToServer builds an envelope a client addresses to the hub.
func ToServer(from uuid.UUID, cmd Command) Envelope {
	return NewEnvelope(ClientRef(from), Server(), cmd)
}

// Relay builds an envelope that the hub forwards from one client to another.
func Relay(from, to uuid.UUID, cmd Command) Envelope {
	server := Server()
	return Envelope{
		Sender:       ClientRef(from),
		Intermediary: &server,
		Receiver:     ClientRef(to),
		Command:      cmd,
	}
}

// Reversed returns a copy with sender and receiver swapped.
func (e Envelope) Reversed() Envelope {
	out := e
	out.Sender, out.Receiver = e.Receiver, e.Sender
	if e.Intermediary != nil {
		via := *e.Intermediary
		out.Intermediary = &via
	}
	return out
}

// IsRelay reports whether the hub should forward the envelope unmodified.
func (e Envelope) IsRelay() bool {
	return e.Intermediary != nil && e.Intermediary.IsServer() && e.Receiver.IsClient()
}

// Kind returns the command kind, or CommandInvalid when no command is set.
func (e Envelope) Kind() CommandKind {
	if e.Command == nil {
		return CommandInvalid
	}
	return e.Command.Kind()
}
