package proto

import (
	"fmt"

	"github.com/google/uuid"
)

// StatusKind is the presence status of a client.
type StatusKind uint8

const (
	StatusWaitingForPartner StatusKind = iota
	StatusInCall
	StatusAnsweringFollowup
)

func (s StatusKind) String() string {
	switch s {
	case StatusWaitingForPartner:
		return "waiting_for_partner"
	case StatusInCall:
		return "in_call"
	case StatusAnsweringFollowup:
		return "answering_followup"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Status is a presence status. PeerA and PeerB are set only while in a call.
type Status struct {
	State StatusKind `json:"state"`
	PeerA uuid.UUID  `json:"peer_a"`
	PeerB uuid.UUID  `json:"peer_b"`
}

// Waiting returns the status of a client looking for a partner.
func Waiting() Status {
	return Status{State: StatusWaitingForPartner}
}

// InCall returns the status of a client in a call between a and b.
func InCall(a, b uuid.UUID) Status {
	return Status{State: StatusInCall, PeerA: a, PeerB: b}
}

// AnsweringFollowup returns the status of a client that just left a call.
func AnsweringFollowup() Status {
	return Status{State: StatusAnsweringFollowup}
}

// LivenessKind is the heartbeat state of a client.
type LivenessKind uint8

const (
	LivenessNeverPinged LivenessKind = iota
	LivenessPinged
	LivenessPonged
)

func (l LivenessKind) String() string {
	switch l {
	case LivenessNeverPinged:
		return "never_pinged"
	case LivenessPinged:
		return "pinged"
	case LivenessPonged:
		return "ponged"
	default:
		return fmt.Sprintf("liveness(%d)", uint8(l))
	}
}

// Liveness is a heartbeat state together with the round it refers to.
type Liveness struct {
	State LivenessKind `json:"state"`
	Round uint64       `json:"round,omitempty"`
}

// NeverPinged is the liveness of a client that has not been pinged yet.
func NeverPinged() Liveness {
	return Liveness{State: LivenessNeverPinged}
}

// Pinged is the liveness of a client pinged in round and not yet answered.
func Pinged(round uint64) Liveness {
	return Liveness{State: LivenessPinged, Round: round}
}

// Ponged is the liveness of a client that answered the ping of round.
func Ponged(round uint64) Liveness {
	return Liveness{State: LivenessPonged, Round: round}
}

// Client is the presence record of one connected client. It is shared with
// clients inside ClientInfo and OnlineClients, and served as JSON by the
// HTTP API, so it carries json tags only.
type Client struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name,omitempty"`
	Contact  string    `json:"contact,omitempty"`
	PeerAddr string    `json:"peer_addr,omitempty"`
	Status   Status    `json:"status"`
	Liveness Liveness  `json:"liveness"`
}

// NewClient returns a fresh record for a just-registered connection.
func NewClient(id uuid.UUID, peerAddr string) Client {
	return Client{
		ID:       id,
		PeerAddr: peerAddr,
		Status:   Waiting(),
		Liveness: NeverPinged(),
	}
}

// MergeProfile copies the non-empty profile fields of update into c.
// The identity never changes; a mismatching update is rejected.
func (c *Client) MergeProfile(update Client) error {
	if update.ID != uuid.Nil && update.ID != c.ID {
		return fmt.Errorf("client info for %s does not match %s", update.ID, c.ID)
	}
	if update.Name != "" {
		c.Name = update.Name
	}
	if update.Contact != "" {
		c.Contact = update.Contact
	}
	if update.PeerAddr != "" {
		c.PeerAddr = update.PeerAddr
	}
	return nil
}
