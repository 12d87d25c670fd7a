package core

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

// benchHub registers n clients, drains all but the first two in the
// background and flushes registration traffic for those two.
func benchHub(b *testing.B, n int) (*Hub, []uuid.UUID, []chan proto.Envelope, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(Options{InboundBuffer: 256}, nil, nil)
	go hub.Run(ctx, nil)

	ids := make([]uuid.UUID, 0, n)
	outs := make([]chan proto.Envelope, 0, n)
	for range n {
		id := hub.NewIdentity()
		out := NewOutbound(n + 16)
		hub.Inbound() <- Inbound{
			Envelope: proto.NewEnvelope(proto.Server(), proto.Server(), proto.Hello{Identity: id}),
			Outbound: out,
		}
		ids = append(ids, id)
		outs = append(outs, out)
	}

	// Drain events for everyone but the first two to avoid channel backpressure.
	for _, out := range outs[2:] {
		go func(ch chan proto.Envelope) {
			for range ch {
			}
		}(out)
	}
	// Client i sees its ClientInfo plus one roster per later registration.
	for i, out := range outs[:2] {
		for range n - i + 1 {
			<-out
		}
	}
	return hub, ids, outs, cancel
}

func benchmarkRelay(b *testing.B, clients int) {
	hub, ids, outs, cancel := benchHub(b, clients)
	defer cancel()

	env := proto.Relay(ids[0], ids[1], proto.Candidate{Payload: "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host"})

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Inbound() <- Inbound{Envelope: env}
		<-outs[1]
	}
}

func benchmarkRosterBroadcast(b *testing.B, clients int) {
	hub, ids, outs, cancel := benchHub(b, clients)
	defer cancel()

	req := proto.ToServer(ids[0], proto.BroadcastRequest{})

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Inbound() <- Inbound{Envelope: req}
		<-outs[1]
		<-outs[0]
	}
}

func BenchmarkRelay_10(b *testing.B)   { benchmarkRelay(b, 10) }
func BenchmarkRelay_100(b *testing.B)  { benchmarkRelay(b, 100) }
func BenchmarkRelay_500(b *testing.B)  { benchmarkRelay(b, 500) }
func BenchmarkRoster_10(b *testing.B)  { benchmarkRosterBroadcast(b, 10) }
func BenchmarkRoster_100(b *testing.B) { benchmarkRosterBroadcast(b, 100) }
