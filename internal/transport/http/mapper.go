package http

import (
	"time"

	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
)

// ClientResponse is a presence record as served by the API.
type ClientResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Contact   string `json:"contact,omitempty"`
	PeerAddr  string `json:"peer_addr,omitempty"`
	Status    string `json:"status"`
	CallPeerA string `json:"call_peer_a,omitempty"`
	CallPeerB string `json:"call_peer_b,omitempty"`
	Liveness  string `json:"liveness"`
	LiveRound uint64 `json:"liveness_round,omitempty"`
}

// RosterResponse is the body of GET /api/clients.
type RosterResponse struct {
	Round   uint64           `json:"round"`
	Clients []ClientResponse `json:"clients"`
}

// SessionResponse is one row of GET /api/sessions.
type SessionResponse struct {
	ClientID string     `json:"client_id"`
	PeerAddr string     `json:"peer_addr,omitempty"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// CallResponse is one row of GET /api/calls.
type CallResponse struct {
	ClientA   string     `json:"client_a"`
	ClientB   string     `json:"client_b"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func rosterResponse(roster proto.OnlineClients) RosterResponse {
	out := RosterResponse{Round: roster.Round, Clients: make([]ClientResponse, 0, len(roster.Clients))}
	for _, c := range roster.Clients {
		out.Clients = append(out.Clients, clientResponse(c))
	}
	return out
}

func clientResponse(c proto.Client) ClientResponse {
	resp := ClientResponse{
		ID:        c.ID.String(),
		Name:      c.Name,
		Contact:   c.Contact,
		PeerAddr:  c.PeerAddr,
		Status:    c.Status.State.String(),
		Liveness:  c.Liveness.State.String(),
		LiveRound: c.Liveness.Round,
	}
	if c.Status.State == proto.StatusInCall {
		resp.CallPeerA = c.Status.PeerA.String()
		resp.CallPeerB = c.Status.PeerB.String()
	}
	return resp
}

func sessionResponses(sessions []*store.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ClientID: s.ClientID.String(),
			PeerAddr: s.PeerAddr,
			OpenedAt: s.OpenedAt,
			ClosedAt: s.ClosedAt,
		})
	}
	return out
}

func callResponses(calls []*store.Call) []CallResponse {
	out := make([]CallResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, CallResponse{
			ClientA:   c.ClientA.String(),
			ClientB:   c.ClientB.String(),
			StartedAt: c.StartedAt,
			EndedAt:   c.EndedAt,
		})
	}
	return out
}
