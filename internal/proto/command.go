package proto

import (
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion changes whenever the command set changes. Adding or
// removing a command breaks the wire format.
const ProtocolVersion = 1

// CommandKind identifies a command on the wire.
type CommandKind uint8

const (
	CommandInvalid CommandKind = iota
	CommandHello
	CommandClientInfo
	CommandBroadcastRequest
	CommandOnlineClients
	CommandOffer
	CommandAnswer
	CommandCandidate
	CommandCallStarted
	CommandCallEnded
	CommandReadyForPartner
	CommandClosed
	CommandClosedAck
	CommandPing
	CommandPong
	CommandError
)

var commandNames = [...]string{
	CommandInvalid:          "invalid",
	CommandHello:            "hello",
	CommandClientInfo:       "client_info",
	CommandBroadcastRequest: "broadcast_request",
	CommandOnlineClients:    "online_clients",
	CommandOffer:            "offer",
	CommandAnswer:           "answer",
	CommandCandidate:        "candidate",
	CommandCallStarted:      "call_started",
	CommandCallEnded:        "call_ended",
	CommandReadyForPartner:  "ready_for_partner",
	CommandClosed:           "closed",
	CommandClosedAck:        "closed_ack",
	CommandPing:             "ping",
	CommandPong:             "pong",
	CommandError:            "error",
}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) {
		return commandNames[k]
	}
	return fmt.Sprintf("command(%d)", uint8(k))
}

// Command is one of the closed set of message kinds below. The unexported
// method keeps other packages from adding variants.
type Command interface {
	Kind() CommandKind
	command()
}

// Hello announces a connection. From the hub to a client it tells the
// client its identity; from a bridge to the hub it registers the client.
type Hello struct {
	Identity uuid.UUID `cbor:"1,keyasint"`
	PeerAddr string    `cbor:"2,keyasint,omitempty"`
}

// ClientInfo carries a presence record. Clients send it to update their
// profile; the hub sends it to confirm registration.
type ClientInfo struct {
	Client Client `cbor:"1,keyasint"`
}

// BroadcastRequest asks the hub to push a fresh roster to every client.
type BroadcastRequest struct{}

// OnlineClients is a roster snapshot taken at a heartbeat round.
type OnlineClients struct {
	Clients []Client `cbor:"1,keyasint"`
	Round   uint64   `cbor:"2,keyasint"`
}

// Offer is an opaque session-description offer relayed between clients.
type Offer struct {
	Payload string `cbor:"1,keyasint"`
}

// Answer is an opaque session-description answer relayed between clients.
type Answer struct {
	Payload string `cbor:"1,keyasint"`
}

// Candidate is an opaque connectivity candidate relayed between clients.
type Candidate struct {
	Payload string `cbor:"1,keyasint"`
}

// CallStarted reports that A and B established their peer channel.
type CallStarted struct {
	A uuid.UUID `cbor:"1,keyasint"`
	B uuid.UUID `cbor:"2,keyasint"`
}

// CallEnded reports that the call between A and B is over.
type CallEnded struct {
	A uuid.UUID `cbor:"1,keyasint"`
	B uuid.UUID `cbor:"2,keyasint"`
}

// ReadyForPartner asks the hub for the current roster.
type ReadyForPartner struct{}

// Closed reports that the connection of Identity went away.
type Closed struct {
	Identity uuid.UUID `cbor:"1,keyasint"`
}

// ClosedAck confirms removal of Identity.
type ClosedAck struct {
	Identity uuid.UUID `cbor:"1,keyasint"`
}

// Ping is a heartbeat probe sent by the hub.
type Ping struct {
	Identity uuid.UUID `cbor:"1,keyasint"`
	Round    uint64    `cbor:"2,keyasint"`
}

// Pong answers a Ping with the same round.
type Pong struct {
	Identity uuid.UUID `cbor:"1,keyasint"`
	Round    uint64    `cbor:"2,keyasint"`
}

// Error is advisory text; it never drives control flow.
type Error struct {
	Message string `cbor:"1,keyasint"`
}

func (Hello) Kind() CommandKind            { return CommandHello }
func (ClientInfo) Kind() CommandKind       { return CommandClientInfo }
func (BroadcastRequest) Kind() CommandKind { return CommandBroadcastRequest }
func (OnlineClients) Kind() CommandKind    { return CommandOnlineClients }
func (Offer) Kind() CommandKind            { return CommandOffer }
func (Answer) Kind() CommandKind           { return CommandAnswer }
func (Candidate) Kind() CommandKind        { return CommandCandidate }
func (CallStarted) Kind() CommandKind      { return CommandCallStarted }
func (CallEnded) Kind() CommandKind        { return CommandCallEnded }
func (ReadyForPartner) Kind() CommandKind  { return CommandReadyForPartner }
func (Closed) Kind() CommandKind           { return CommandClosed }
func (ClosedAck) Kind() CommandKind        { return CommandClosedAck }
func (Ping) Kind() CommandKind             { return CommandPing }
func (Pong) Kind() CommandKind             { return CommandPong }
func (Error) Kind() CommandKind            { return CommandError }

func (Hello) command()            {}
func (ClientInfo) command()       {}
func (BroadcastRequest) command() {}
func (OnlineClients) command()    {}
func (Offer) command()            {}
func (Answer) command()           {}
func (Candidate) command()        {}
func (CallStarted) command()      {}
func (CallEnded) command()        {}
func (ReadyForPartner) command()  {}
func (Closed) command()           {}
func (ClosedAck) command()        {}
func (Ping) command()             {}
func (Pong) command()             {}
func (Error) command()            {}

// Identity returns the client identity named by identity-bearing commands.
func Identity(cmd Command) (uuid.UUID, bool) {
	switch c := cmd.(type) {
	case Hello:
		return c.Identity, true
	case ClientInfo:
		return c.Client.ID, true
	case Closed:
		return c.Identity, true
	case ClosedAck:
		return c.Identity, true
	case Ping:
		return c.Identity, true
	case Pong:
		return c.Identity, true
	default:
		return uuid.Nil, false
	}
}
