package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

func mustEnvelope(t *testing.T, ch <-chan proto.Envelope, kind proto.CommandKind) proto.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while waiting for %s", kind)
			}
			if env.Kind() == kind {
				return env
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected envelope kind %s not received", kind)
	return proto.Envelope{}
}

// mustRoster waits for a roster holding exactly want, skipping older ones.
func mustRoster(t *testing.T, ch <-chan proto.Envelope, want ...uuid.UUID) proto.OnlineClients {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	var last []proto.Client
	for time.Now().Before(deadline) {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while waiting for roster %v", want)
			}
			roster, isRoster := env.Command.(proto.OnlineClients)
			if !isRoster {
				continue
			}
			last = roster.Clients
			if sameClients(roster.Clients, want) {
				return roster
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected roster %v, last seen %+v", want, last)
	return proto.OnlineClients{}
}

func sameClients(clients []proto.Client, want []uuid.UUID) bool {
	if len(clients) != len(want) {
		return false
	}
	for _, id := range want {
		if _, ok := findClient(clients, id); !ok {
			return false
		}
	}
	return true
}

func mustClosed(t *testing.T, ch <-chan proto.Envelope) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("channel was not closed")
		}
	}
}

func assertQuiet(t *testing.T, ch <-chan proto.Envelope) {
	t.Helper()

	time.Sleep(50 * time.Millisecond)
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope %s: %+v", env.Kind(), env)
	default:
	}
}

func findClient(clients []proto.Client, id uuid.UUID) (proto.Client, bool) {
	for _, c := range clients {
		if c.ID == id {
			return c, true
		}
	}
	return proto.Client{}, false
}

type testHub struct {
	*Hub
	rounds chan uint64
}

func startHub(t *testing.T, opts Options) *testHub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(opts, nil, nil)
	rounds := make(chan uint64)
	go hub.Run(ctx, rounds)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return &testHub{Hub: hub, rounds: rounds}
}

// register performs what a bridge does on accept and consumes the
// registration reply.
func (h *testHub) register(t *testing.T, capacity int) (uuid.UUID, chan proto.Envelope) {
	t.Helper()

	id := h.NewIdentity()
	out := NewOutbound(capacity)
	h.Inbound() <- Inbound{
		Envelope: proto.NewEnvelope(proto.Server(), proto.Server(), proto.Hello{Identity: id, PeerAddr: "127.0.0.1:1"}),
		Outbound: out,
	}
	info := mustEnvelope(t, out, proto.CommandClientInfo)
	if got := info.Command.(proto.ClientInfo).Client.ID; got != id {
		t.Fatalf("registration reply for %s, want %s", got, id)
	}
	return id, out
}

func (h *testHub) submit(env proto.Envelope) {
	h.Inbound() <- Inbound{Envelope: env}
}

// sync sends a ReadyForPartner from id and waits for its reply, so every
// envelope id submitted earlier has been processed.
func (h *testHub) sync(t *testing.T, id uuid.UUID, out <-chan proto.Envelope) proto.OnlineClients {
	t.Helper()

	h.submit(proto.ToServer(id, proto.ReadyForPartner{}))
	env := mustEnvelope(t, out, proto.CommandOnlineClients)
	return env.Command.(proto.OnlineClients)
}

func (h *testHub) client(t *testing.T, id uuid.UUID) proto.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	roster, err := h.Roster(ctx)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	c, ok := findClient(roster.Clients, id)
	if !ok {
		t.Fatalf("client %s not in roster %+v", id, roster.Clients)
	}
	return c
}
