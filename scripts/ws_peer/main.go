// ws_peer negotiates a WebRTC data channel with another client through the
// rendezvous hub. Start one instance without -offer, copy its identity, then
// start a second one with -offer <identity>.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/wirechat-rendezvous/internal/client"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

const channelLabel = "rendezvous"

func main() {
	if err := run(); err != nil {
		log.Printf("ws_peer: %v", err)
		os.Exit(1)
	}
}

type peer struct {
	conn    *client.Conn
	pc      *webrtc.PeerConnection
	offerer bool
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	remote uuid.UUID
}

func (p *peer) setRemote(id uuid.UUID) {
	p.mu.Lock()
	p.remote = id
	p.mu.Unlock()
}

func (p *peer) remotePeer() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *peer) finish() {
	p.once.Do(func() { close(p.done) })
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "join token, if the hub requires one")
	offerTo := flag.String("offer", "", "identity of the client to call; empty waits for an offer")
	stun := flag.String("stun", "stun:stun.l.google.com:19302", "STUN server, empty for host candidates only")
	timeout := flag.Duration("timeout", 2*time.Minute, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := client.Dial(ctx, *addr, &client.Options{Token: *token, AutoPong: true})
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	log.Printf("identity: %s", conn.Identity())

	var iceServers []webrtc.ICEServer
	if *stun != "" {
		iceServers = []webrtc.ICEServer{{URLs: []string{*stun}}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	defer pc.Close()

	p := &peer{conn: conn, pc: pc, done: make(chan struct{})}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.remotePeer() == uuid.Nil {
			return
		}
		p.relayJSON(ctx, func(payload string) proto.Command { return proto.Candidate{Payload: payload} }, c.ToJSON())
	})

	if *offerTo != "" {
		remote, err := uuid.Parse(*offerTo)
		if err != nil {
			return fmt.Errorf("parse -offer: %w", err)
		}
		if err := p.offer(ctx, remote); err != nil {
			return err
		}
	} else {
		pc.OnDataChannel(p.answerChannel)
		log.Printf("waiting for an offer, run: ws_peer -offer %s", conn.Identity())
	}

	recvErr := make(chan error, 1)
	go func() { recvErr <- p.serve(ctx) }()

	select {
	case <-p.done:
		return nil
	case err := <-recvErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) offer(ctx context.Context, remote uuid.UUID) error {
	p.setRemote(remote)
	p.offerer = true

	dc, err := p.pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		log.Printf("data channel open with %s", remote)
		if err := p.conn.Control(ctx, proto.CallStarted{A: p.conn.Identity(), B: remote}); err != nil {
			log.Printf("report call start: %v", err)
		}
		_ = dc.SendText("hello from " + p.conn.Identity().String())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		log.Printf("echo: %s", msg.Data)
		if err := p.conn.Control(ctx, proto.CallEnded{A: p.conn.Identity(), B: remote}); err != nil {
			log.Printf("report call end: %v", err)
		}
		p.finish()
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	p.relayJSON(ctx, func(payload string) proto.Command { return proto.Offer{Payload: payload} }, offer)
	return nil
}

func (p *peer) answerChannel(dc *webrtc.DataChannel) {
	if dc.Label() != channelLabel {
		return
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		log.Printf("received: %s", msg.Data)
		_ = dc.SendText("echo: " + string(msg.Data))
		// Give the echo a moment to leave before tearing down.
		time.AfterFunc(500*time.Millisecond, p.finish)
	})
}

// serve applies negotiation envelopes from the hub until ctx ends.
func (p *peer) serve(ctx context.Context) error {
	for {
		env, err := p.conn.Recv(ctx)
		if err != nil {
			return err
		}

		switch cmd := env.Command.(type) {
		case proto.Offer:
			if p.offerer {
				log.Printf("ignoring offer from %s, already calling %s", env.Sender, p.remotePeer())
				continue
			}
			p.setRemote(env.Sender.ID)
			if err := p.answer(ctx, cmd.Payload); err != nil {
				return err
			}
		case proto.Answer:
			var sdp webrtc.SessionDescription
			if err := json.Unmarshal([]byte(cmd.Payload), &sdp); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			if err := p.pc.SetRemoteDescription(sdp); err != nil {
				return fmt.Errorf("set remote answer: %w", err)
			}
		case proto.Candidate:
			var c webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(cmd.Payload), &c); err != nil {
				log.Printf("bad candidate from %s: %v", env.Sender, err)
				continue
			}
			if err := p.pc.AddICECandidate(c); err != nil {
				log.Printf("add candidate: %v", err)
			}
		case proto.OnlineClients:
			log.Printf("%d clients online (round %d)", len(cmd.Clients), cmd.Round)
		case proto.Error:
			log.Printf("hub error: %s", cmd.Message)
		case proto.ClosedAck:
			return errors.New("hub closed the session")
		}
	}
}

func (p *peer) answer(ctx context.Context, payload string) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	p.relayJSON(ctx, func(payload string) proto.Command { return proto.Answer{Payload: payload} }, answer)
	return nil
}

// relayJSON sends v, JSON encoded, to the remote peer as the command built
// by wrap.
func (p *peer) relayJSON(ctx context.Context, wrap func(string) proto.Command, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("encode payload: %v", err)
		return
	}
	remote := p.remotePeer()
	if err := p.conn.Relay(ctx, remote, wrap(string(data))); err != nil {
		log.Printf("relay to %s: %v", remote, err)
	}
}
