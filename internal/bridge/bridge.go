package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rendezvous/internal/core"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

// DefaultRegisterTimeout bounds how long a new connection waits for the hub
// to accept its registration.
const DefaultRegisterTimeout = 5 * time.Second

var (
	// ErrRegistration aborts a connection whose Hello the hub did not take.
	ErrRegistration = errors.New("registration failed")
	// ErrEvicted means the hub dropped the client and closed its queue.
	ErrEvicted = errors.New("removed by hub")
)

// Registry is the part of the hub a bridge talks to.
type Registry interface {
	Inbound() chan<- core.Inbound
	NewIdentity() uuid.UUID
	Done() <-chan struct{}
}

// Config tunes a single bridge.
type Config struct {
	OutboundBuffer     int
	RegisterTimeout    time.Duration
	VerifySender       bool
	MaxFramesPerMinute int
	// PeerAddr is the transport-level remote address, if known.
	PeerAddr string
	// Profile, when set, is pushed as the client's first ClientInfo.
	Profile *proto.Client
}

// Bridge owns one connection: it registers it with the hub, writes the
// client's queue to the transport and forwards decoded frames to the hub.
type Bridge struct {
	hub     Registry
	conn    Transport
	cfg     Config
	log     *zerolog.Logger
	limiter *rateLimiter

	id  uuid.UUID
	out chan proto.Envelope
}

// New prepares a bridge and mints the connection's identity. Nothing is
// sent until Run.
func New(hub Registry, conn Transport, cfg Config, logger *zerolog.Logger) *Bridge {
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	id := hub.NewIdentity()
	l := logger.With().Stringer("client_id", id).Logger()

	return &Bridge{
		hub:     hub,
		conn:    conn,
		cfg:     cfg,
		log:     &l,
		limiter: newRateLimiter(cfg.MaxFramesPerMinute),
		id:      id,
		out:     core.NewOutbound(cfg.OutboundBuffer),
	}
}

// Identity is the identity minted for this connection.
func (b *Bridge) Identity() uuid.UUID {
	return b.id
}

// Run serves the connection until the transport fails, the hub removes the
// client or ctx is cancelled. Once registered, the hub is told about the
// disconnect with a Closed envelope unless it already dropped the client.
func (b *Bridge) Run(ctx context.Context) (err error) {
	if err := b.register(ctx); err != nil {
		return err
	}
	defer func() {
		if !errors.Is(err, ErrEvicted) {
			b.announceClosed()
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.write(ctx, proto.FromServer(b.id, proto.Hello{Identity: b.id})); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	if p := b.cfg.Profile; p != nil {
		profile := *p
		profile.ID = b.id
		if err := b.forward(ctx, proto.ToServer(b.id, proto.ClientInfo{Client: profile})); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- b.readLoop(ctx)
	}()
	go func() {
		errCh <- b.writeLoop(ctx)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	if second := <-errCh; errors.Is(second, ErrEvicted) {
		err = second
	}

	return err
}

func (b *Bridge) register(ctx context.Context) error {
	hello := core.Inbound{
		Envelope: proto.NewEnvelope(proto.Server(), proto.Server(), proto.Hello{Identity: b.id, PeerAddr: b.cfg.PeerAddr}),
		Outbound: b.out,
	}

	timer := time.NewTimer(b.cfg.RegisterTimeout)
	defer timer.Stop()

	select {
	case b.hub.Inbound() <- hello:
		return nil
	case <-b.hub.Done():
		return fmt.Errorf("%w: %w", ErrRegistration, core.ErrHubStopped)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRegistration, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: hub did not accept hello within %s", ErrRegistration, b.cfg.RegisterTimeout)
	}
}

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		frame, err := b.conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if !frame.Binary {
			b.log.Debug().Int("bytes", len(frame.Data)).Msg("non-binary frame ignored")
			continue
		}
		if !b.limiter.allow() {
			b.log.Warn().Int("limit", b.cfg.MaxFramesPerMinute).Msg("frame rate limit exceeded, frame dropped")
			continue
		}

		env, err := proto.Decode(frame.Data)
		if err != nil {
			b.log.Warn().Err(err).Int("bytes", len(frame.Data)).Msg("malformed frame dropped")
			continue
		}
		if b.cfg.VerifySender {
			if reason := b.authorize(env); reason != "" {
				b.log.Warn().
					Stringer("sender", env.Sender).
					Stringer("kind", env.Kind()).
					Str("reason", reason).
					Msg("envelope rejected")
				continue
			}
		}

		if err := b.forward(ctx, env); err != nil {
			return err
		}
	}
}

func (b *Bridge) writeLoop(ctx context.Context) error {
	for {
		select {
		case env, ok := <-b.out:
			if !ok {
				return ErrEvicted
			}
			if err := b.write(ctx, env); err != nil {
				b.log.Warn().Err(err).Stringer("kind", env.Kind()).Msg("write envelope")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// authorize returns a non-empty reason when env claims another identity.
func (b *Bridge) authorize(env proto.Envelope) string {
	if env.Sender != proto.ClientRef(b.id) {
		return "sender does not match connection identity"
	}
	if id, ok := proto.Identity(env.Command); ok && id != uuid.Nil && id != b.id {
		return "command names another client"
	}
	return ""
}

func (b *Bridge) forward(ctx context.Context, env proto.Envelope) error {
	in := core.Inbound{Envelope: env}
	if b.cfg.VerifySender {
		in.Origin = b.out
	}
	select {
	case b.hub.Inbound() <- in:
		return nil
	case <-b.hub.Done():
		return core.ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) write(ctx context.Context, env proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Kind(), err)
	}
	return b.conn.WriteFrame(ctx, data)
}

// announceClosed tells the hub the connection is gone. It is a no-op on the
// hub side if the client was already removed.
func (b *Bridge) announceClosed() {
	closed := core.Inbound{Envelope: proto.ToServer(b.id, proto.Closed{Identity: b.id}), Origin: b.out}

	timer := time.NewTimer(b.cfg.RegisterTimeout)
	defer timer.Stop()

	select {
	case b.hub.Inbound() <- closed:
		b.log.Debug().Msg("disconnect reported")
	case <-b.hub.Done():
	case <-timer.C:
		b.log.Warn().Msg("hub did not accept closed, record may linger until eviction")
	}
}
