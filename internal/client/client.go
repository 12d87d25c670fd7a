// Package client is a small signaling client for the rendezvous hub. It is
// used by the command line tools and by end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

const defaultReadLimit = 1 << 20

var (
	// ErrUnauthorized is returned by Dial when the hub rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnexpectedGreeting means the first frame was not the server Hello.
	ErrUnexpectedGreeting = errors.New("unexpected greeting")
)

// Options configures Dial.
type Options struct {
	// Token is sent as a bearer token when set.
	Token string
	// AutoPong answers heartbeat pings inside Recv.
	AutoPong bool
	// ReadLimit caps the size of one frame. Defaults to 1 MiB.
	ReadLimit int64
}

// Conn is one registered connection to the hub.
type Conn struct {
	ws   *websocket.Conn
	id   uuid.UUID
	opts Options
}

// Dial connects to url and waits for the hub to announce the identity it
// minted for this connection.
func Dial(ctx context.Context, url string, opts *Options) (*Conn, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}

	header := http.Header{}
	if o.Token != "" {
		header.Set("Authorization", "Bearer "+o.Token)
	}

	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", url, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(o.ReadLimit)

	c := &Conn{ws: ws, opts: o}
	hello, err := c.read(ctx)
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "no greeting")
		return nil, err
	}
	cmd, ok := hello.Command.(proto.Hello)
	if !ok || !hello.Sender.IsServer() || cmd.Identity == uuid.Nil {
		ws.Close(websocket.StatusProtocolError, "bad greeting")
		return nil, fmt.Errorf("%w: %s from %s", ErrUnexpectedGreeting, hello.Kind(), hello.Sender)
	}
	c.id = cmd.Identity
	return c, nil
}

// Identity is the identity the hub assigned to this connection.
func (c *Conn) Identity() uuid.UUID {
	return c.id
}

// Send encodes env as one binary frame.
func (c *Conn) Send(ctx context.Context, env proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageBinary, data)
}

// Control sends cmd to the hub itself.
func (c *Conn) Control(ctx context.Context, cmd proto.Command) error {
	return c.Send(ctx, proto.ToServer(c.id, cmd))
}

// Relay sends cmd to another client through the hub.
func (c *Conn) Relay(ctx context.Context, to uuid.UUID, cmd proto.Command) error {
	return c.Send(ctx, proto.Relay(c.id, to, cmd))
}

// SetProfile publishes name and contact for this connection.
func (c *Conn) SetProfile(ctx context.Context, name, contact string) error {
	return c.Control(ctx, proto.ClientInfo{Client: proto.Client{ID: c.id, Name: name, Contact: contact}})
}

// Recv returns the next envelope. With AutoPong, pings are answered and
// not returned.
func (c *Conn) Recv(ctx context.Context) (proto.Envelope, error) {
	for {
		env, err := c.read(ctx)
		if err != nil {
			return proto.Envelope{}, err
		}
		if ping, ok := env.Command.(proto.Ping); ok && c.opts.AutoPong {
			if err := c.Control(ctx, proto.Pong{Identity: c.id, Round: ping.Round}); err != nil {
				return proto.Envelope{}, fmt.Errorf("pong: %w", err)
			}
			continue
		}
		return env, nil
	}
}

// Expect reads until an envelope of kind arrives, discarding others.
func (c *Conn) Expect(ctx context.Context, kind proto.CommandKind) (proto.Envelope, error) {
	for {
		env, err := c.Recv(ctx)
		if err != nil {
			return proto.Envelope{}, fmt.Errorf("waiting for %s: %w", kind, err)
		}
		if env.Kind() == kind {
			return env, nil
		}
	}
}

// Close reports the disconnect to the hub and closes the socket. The hub
// may end the socket first, so only the report's error is returned.
func (c *Conn) Close(ctx context.Context) error {
	err := c.Control(ctx, proto.Closed{Identity: c.id})
	_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	return err
}

// Abort drops the socket without telling the hub.
func (c *Conn) Abort() error {
	return c.ws.CloseNow()
}

func (c *Conn) read(ctx context.Context) (proto.Envelope, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return proto.Envelope{}, err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		return proto.Decode(data)
	}
}
