package core

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
)

const (
	DefaultInboundBuffer     = 10
	DefaultOutboundBuffer    = 10
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultRepingRounds      = 2

	historyTimeout = 2 * time.Second
)

// Options tunes the hub. Zero values fall back to defaults.
type Options struct {
	// InboundBuffer is the capacity of the shared inbound channel.
	InboundBuffer int
	// RepingRounds is how many rounds a ponged client may stay quiet
	// before it is pinged again.
	RepingRounds uint64
	// EvictAfterRounds removes a client whose ping has gone unanswered for
	// this many rounds. Zero keeps unresponsive clients and only logs them.
	EvictAfterRounds uint64
	// NewID mints client identities. Defaults to random UUIDs.
	NewID func() uuid.UUID
}

type rosterQuery struct {
	reply chan proto.OnlineClients
}

// Hub is the presence registry and router. One goroutine (Run) owns the
// client map; everything else talks to it over channels.
type Hub struct {
	inbound chan Inbound
	queries chan rosterQuery
	done    chan struct{}

	clients  map[uuid.UUID]*entry
	requeued []proto.Envelope
	round    uint64

	opts    Options
	history store.History
	log     *zerolog.Logger
}

// NewHub creates a hub. history and logger may be nil.
func NewHub(opts Options, history store.History, logger *zerolog.Logger) *Hub {
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = DefaultInboundBuffer
	}
	if opts.RepingRounds == 0 {
		opts.RepingRounds = DefaultRepingRounds
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Hub{
		inbound: make(chan Inbound, opts.InboundBuffer),
		queries: make(chan rosterQuery),
		done:    make(chan struct{}),
		clients: make(map[uuid.UUID]*entry),
		opts:    opts,
		history: history,
		log:     logger,
	}
}

// Inbound returns the sending half of the hub's inbound channel. Bridges
// get it at spawn time.
func (h *Hub) Inbound() chan<- Inbound {
	return h.inbound
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// NewIdentity mints a fresh client identity.
func (h *Hub) NewIdentity() uuid.UUID {
	return h.opts.NewID()
}

// Roster asks the hub for a copy of all records and the current round.
func (h *Hub) Roster(ctx context.Context) (proto.OnlineClients, error) {
	q := rosterQuery{reply: make(chan proto.OnlineClients, 1)}
	select {
	case h.queries <- q:
	case <-h.done:
		return proto.OnlineClients{}, ErrHubStopped
	case <-ctx.Done():
		return proto.OnlineClients{}, ctx.Err()
	}

	select {
	case snapshot := <-q.reply:
		return snapshot, nil
	case <-h.done:
		return proto.OnlineClients{}, ErrHubStopped
	case <-ctx.Done():
		return proto.OnlineClients{}, ctx.Err()
	}
}

// Run processes inbound envelopes and heartbeat rounds until ctx is done.
// Closed envelopes requeued by the hub itself are handled before the next
// channel event.
func (h *Hub) Run(ctx context.Context, rounds <-chan uint64) {
	defer h.shutdown()

	for {
		if len(h.requeued) > 0 {
			env := h.requeued[0]
			h.requeued = h.requeued[1:]
			h.route(ctx, Inbound{Envelope: env})
			continue
		}

		select {
		case <-ctx.Done():
			return
		case in := <-h.inbound:
			h.route(ctx, in)
		case round, ok := <-rounds:
			if !ok {
				h.log.Warn().Msg("heartbeat stopped, liveness checks disabled")
				rounds = nil
				continue
			}
			h.heartbeat(round)
		case q := <-h.queries:
			q.reply <- h.snapshot()
		}
	}
}

func (h *Hub) shutdown() {
	for id, e := range h.clients {
		close(e.out)
		delete(h.clients, id)
	}
	close(h.done)
	h.log.Info().Msg("hub stopped")
}

func (h *Hub) route(ctx context.Context, in Inbound) {
	env := in.Envelope

	if in.Outbound != nil {
		if _, ok := env.Command.(proto.Hello); !ok || !env.Receiver.IsServer() {
			h.log.Warn().Stringer("kind", env.Kind()).Msg("outbound channel attached to a non-registration envelope")
			close(in.Outbound)
			return
		}
	}

	if in.Origin != nil && h.heldElsewhere(env.Sender, in.Origin) {
		h.log.Warn().
			Stringer("sender", env.Sender).
			Stringer("kind", env.Kind()).
			Msg("envelope from a connection that does not hold the sender identity, dropped")
		return
	}

	switch {
	case env.Receiver.IsServer():
		h.control(ctx, env, in.Outbound)
	case env.IsRelay():
		h.relay(env)
	default:
		h.log.Warn().
			Stringer("sender", env.Sender).
			Stringer("receiver", env.Receiver).
			Stringer("kind", env.Kind()).
			Msg("misrouted envelope dropped")
	}
}

func (h *Hub) control(ctx context.Context, env proto.Envelope, out chan proto.Envelope) {
	switch cmd := env.Command.(type) {
	case proto.Hello:
		h.register(ctx, cmd, out)
	case proto.ClientInfo:
		h.updateProfile(env.Sender, cmd)
	case proto.BroadcastRequest:
		h.broadcastRoster()
	case proto.ReadyForPartner:
		h.readyForPartner(env.Sender)
	case proto.Pong:
		h.pong(cmd)
	case proto.Closed:
		h.remove(ctx, cmd.Identity)
	case proto.CallStarted:
		h.callStarted(ctx, env.Sender, cmd)
	case proto.CallEnded:
		h.callEnded(ctx, env.Sender, cmd)
	case proto.Error:
		h.log.Warn().Stringer("sender", env.Sender).Str("message", cmd.Message).Msg("client reported error")
	case proto.Offer, proto.Answer, proto.Candidate:
		h.log.Warn().Stringer("sender", env.Sender).Stringer("kind", env.Kind()).Msg("negotiation payload addressed to the server, dropped")
	case proto.OnlineClients, proto.ClosedAck, proto.Ping:
		h.log.Debug().Stringer("sender", env.Sender).Stringer("kind", env.Kind()).Msg("server-only command received, ignored")
	default:
		h.log.Warn().Stringer("sender", env.Sender).Stringer("kind", env.Kind()).Msg("unhandled command")
	}
}

func (h *Hub) register(ctx context.Context, hello proto.Hello, out chan proto.Envelope) {
	if out == nil {
		h.log.Warn().Stringer("client_id", hello.Identity).Msg("hello without outbound channel rejected")
		return
	}
	if hello.Identity == uuid.Nil {
		h.log.Warn().Msg("hello with empty identity rejected")
		close(out)
		return
	}
	if _, exists := h.clients[hello.Identity]; exists {
		h.log.Warn().Stringer("client_id", hello.Identity).Msg("identity collision, registration rejected")
		select {
		case out <- proto.FromServer(hello.Identity, proto.Error{Message: "identity already registered"}):
		default:
		}
		close(out)
		return
	}

	record := proto.NewClient(hello.Identity, hello.PeerAddr)
	h.clients[record.ID] = &entry{client: record, out: out}
	h.send(record.ID, proto.FromServer(record.ID, proto.ClientInfo{Client: record}))

	h.log.Info().
		Stringer("client_id", record.ID).
		Str("peer_addr", record.PeerAddr).
		Int("online", len(h.clients)).
		Msg("client registered")

	h.recordHistory(ctx, "open session", func(ctx context.Context) error {
		return h.history.OpenSession(ctx, record.ID, record.PeerAddr, time.Now())
	})

	h.broadcastRoster()
}

func (h *Hub) updateProfile(sender proto.EntityRef, info proto.ClientInfo) {
	e := h.lookup(sender, "client info")
	if e == nil {
		return
	}
	if err := e.client.MergeProfile(info.Client); err != nil {
		h.log.Warn().Err(err).Stringer("client_id", sender.ID).Msg("client info rejected")
		h.send(sender.ID, proto.FromServer(sender.ID, proto.Error{Message: err.Error()}))
		return
	}
	h.broadcastRoster()
}

func (h *Hub) readyForPartner(sender proto.EntityRef) {
	e := h.lookup(sender, "ready for partner")
	if e == nil {
		return
	}
	// A call is left through CallEnded, which moves both participants.
	if e.client.Status.State != proto.StatusInCall {
		e.client.Status = proto.Waiting()
	}
	h.send(sender.ID, proto.FromServer(sender.ID, proto.OnlineClients{Clients: h.records(), Round: h.round}))
}

func (h *Hub) pong(p proto.Pong) {
	e, ok := h.clients[p.Identity]
	if !ok {
		h.log.Warn().Stringer("client_id", p.Identity).Msg("pong from a client that is no longer online")
		return
	}
	switch e.client.Liveness.State {
	case proto.LivenessPinged, proto.LivenessPonged:
		e.client.Liveness = proto.Ponged(p.Round)
	default:
		h.log.Debug().Stringer("client_id", p.Identity).Msg("pong before any ping, ignored")
	}
}

func (h *Hub) remove(ctx context.Context, id uuid.UUID) {
	e, ok := h.clients[id]
	if !ok {
		h.log.Debug().Stringer("client_id", id).Msg("close for unknown client, nothing to do")
		return
	}
	delete(h.clients, id)

	// The peer may already be gone; the ack is best effort.
	select {
	case e.out <- proto.FromServer(id, proto.ClosedAck{Identity: id}):
	default:
	}
	close(e.out)

	h.log.Info().Stringer("client_id", id).Int("online", len(h.clients)).Msg("client removed")

	h.recordHistory(ctx, "close session", func(ctx context.Context) error {
		return h.history.CloseSession(ctx, id, time.Now())
	})

	h.broadcastRoster()
}

func (h *Hub) callStarted(ctx context.Context, sender proto.EntityRef, call proto.CallStarted) {
	a, b, ok := h.callParticipants(sender, call.A, call.B, true)
	if !ok {
		return
	}
	status := proto.InCall(call.A, call.B)
	a.client.Status = status
	b.client.Status = status

	h.log.Info().Stringer("client_a", call.A).Stringer("client_b", call.B).Msg("call started")
	h.recordHistory(ctx, "start call", func(ctx context.Context) error {
		return h.history.StartCall(ctx, call.A, call.B, time.Now())
	})
	h.broadcastRoster()
}

func (h *Hub) callEnded(ctx context.Context, sender proto.EntityRef, call proto.CallEnded) {
	a, b, ok := h.callParticipants(sender, call.A, call.B, false)
	if !ok {
		return
	}
	// Either side may already have disconnected.
	for _, e := range []*entry{a, b} {
		if e != nil {
			e.client.Status = proto.AnsweringFollowup()
		}
	}

	h.log.Info().Stringer("client_a", call.A).Stringer("client_b", call.B).Msg("call ended")
	h.recordHistory(ctx, "end call", func(ctx context.Context) error {
		return h.history.EndCall(ctx, call.A, call.B, time.Now())
	})
	h.broadcastRoster()
}

// callParticipants checks that sender is one of a and b. With requireBoth,
// both must be online.
func (h *Hub) callParticipants(sender proto.EntityRef, a, b uuid.UUID, requireBoth bool) (*entry, *entry, bool) {
	if h.lookup(sender, "call report") == nil {
		return nil, nil, false
	}
	reject := func(msg string) (*entry, *entry, bool) {
		h.log.Warn().Stringer("client_id", sender.ID).Str("reason", msg).Msg("call report rejected")
		h.send(sender.ID, proto.FromServer(sender.ID, proto.Error{Message: msg}))
		return nil, nil, false
	}

	if a == b {
		return reject("a call needs two different clients")
	}
	if sender.ID != a && sender.ID != b {
		return reject(ErrNotParticipant.Error())
	}
	ea, eb := h.clients[a], h.clients[b]
	if requireBoth && (ea == nil || eb == nil) {
		return reject(ErrUnknownClient.Error())
	}
	return ea, eb, true
}

// relay forwards the envelope as-is; the command is never inspected.
func (h *Hub) relay(env proto.Envelope) {
	target := env.Receiver.ID
	if _, ok := h.clients[target]; !ok {
		h.log.Warn().Stringer("sender", env.Sender).Stringer("receiver", target).Msg("relay target is not online")
		h.requeueClosed(target)
		if env.Sender.IsClient() && env.Sender.ID != target {
			if _, known := h.clients[env.Sender.ID]; known {
				h.send(env.Sender.ID, proto.FromServer(env.Sender.ID, proto.Error{Message: "receiver " + target.String() + " is not online"}))
			}
		}
		return
	}
	h.send(target, env)
}

// heartbeat pings clients that are due, evicts unresponsive ones when
// enabled and pushes the roster stamped with round.
func (h *Hub) heartbeat(round uint64) {
	h.round = round

	for id, e := range h.clients {
		if e.closing {
			continue
		}
		live := e.client.Liveness
		switch live.State {
		case proto.LivenessNeverPinged:
			h.ping(id, e, round)
		case proto.LivenessPinged:
			missed := saturatingSub(round, live.Round)
			h.log.Warn().
				Stringer("client_id", id).
				Uint64("pinged_round", live.Round).
				Uint64("missed_rounds", missed).
				Msg("client unresponsive")
			if h.opts.EvictAfterRounds > 0 && missed >= h.opts.EvictAfterRounds {
				h.log.Info().Stringer("client_id", id).Msg("evicting unresponsive client")
				h.requeueClosed(id)
			}
		case proto.LivenessPonged:
			if saturatingSub(round, live.Round) > h.opts.RepingRounds {
				h.ping(id, e, round)
			}
		}
	}

	// Every round ends with a snapshot, so clients see liveness move even
	// when nobody joins or leaves.
	h.broadcastRoster()
}

func (h *Hub) ping(id uuid.UUID, e *entry, round uint64) {
	if h.send(id, proto.FromServer(id, proto.Ping{Identity: id, Round: round})) {
		e.client.Liveness = proto.Pinged(round)
	}
}

func (h *Hub) broadcastRoster() {
	roster := h.records()
	for id := range h.clients {
		h.send(id, proto.FromServer(id, proto.OnlineClients{Clients: roster, Round: h.round}))
	}
}

// send never blocks. A full or missing queue counts as a dead client and
// requeues its Closed, so failed delivery and explicit close share cleanup.
func (h *Hub) send(id uuid.UUID, env proto.Envelope) bool {
	e, ok := h.clients[id]
	if !ok {
		h.requeueClosed(id)
		return false
	}
	if e.closing {
		return false
	}
	select {
	case e.out <- env:
		return true
	default:
		h.log.Warn().Stringer("client_id", id).Stringer("kind", env.Kind()).Msg("outbound queue full, dropping client")
		e.closing = true
		h.requeueClosed(id)
		return false
	}
}

func (h *Hub) requeueClosed(id uuid.UUID) {
	if e, ok := h.clients[id]; ok {
		e.closing = true
	}
	h.requeued = append(h.requeued, proto.NewEnvelope(proto.Server(), proto.Server(), proto.Closed{Identity: id}))
}

// heldElsewhere reports whether sender is registered with a queue other
// than origin.
func (h *Hub) heldElsewhere(sender proto.EntityRef, origin chan proto.Envelope) bool {
	if !sender.IsClient() {
		return false
	}
	e, ok := h.clients[sender.ID]
	return ok && e.out != origin
}

func (h *Hub) lookup(sender proto.EntityRef, what string) *entry {
	if !sender.IsClient() {
		h.log.Warn().Stringer("sender", sender).Msg(what + " from a non-client sender")
		return nil
	}
	e, ok := h.clients[sender.ID]
	if !ok {
		h.log.Warn().Stringer("client_id", sender.ID).Msg(what + " from an unknown client")
		return nil
	}
	return e
}

// records returns copies of all records ordered by identity.
func (h *Hub) records() []proto.Client {
	out := make([]proto.Client, 0, len(h.clients))
	for _, e := range h.clients {
		out = append(out, e.client)
	}
	slices.SortFunc(out, func(a, b proto.Client) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out
}

func (h *Hub) snapshot() proto.OnlineClients {
	return proto.OnlineClients{Clients: h.records(), Round: h.round}
}

func (h *Hub) recordHistory(ctx context.Context, what string, fn func(context.Context) error) {
	if h.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.log.Warn().Err(err).Msg("failed to " + what)
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
