package bridge

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-rendezvous/internal/core"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

// fakeConn is an in-memory Transport. Closing in ends the read side with
// io.EOF, like a peer hanging up.
type fakeConn struct {
	in  chan Frame
	out chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:  make(chan Frame, 16),
		out: make(chan []byte, 64),
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) send(t *testing.T, env proto.Envelope) {
	t.Helper()
	data, err := proto.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- Frame{Binary: true, Data: data}
}

// expect waits for an envelope of the given kind, skipping others.
func (c *fakeConn) expect(t *testing.T, kind proto.CommandKind) proto.Envelope {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.out:
			env, err := proto.Decode(data)
			if err != nil {
				t.Fatalf("bridge wrote an undecodable frame: %v", err)
			}
			if env.Kind() == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

// expectRoster waits for a roster listing exactly n clients.
func (c *fakeConn) expectRoster(t *testing.T, n int) proto.OnlineClients {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for roster of %d", n)
		default:
		}
		roster := c.expect(t, proto.CommandOnlineClients).Command.(proto.OnlineClients)
		if len(roster.Clients) == n {
			return roster
		}
	}
}

// assertNo fails if a frame of kind arrives within a short window.
func (c *fakeConn) assertNo(t *testing.T, kind proto.CommandKind) {
	t.Helper()

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case data := <-c.out:
			env, err := proto.Decode(data)
			if err == nil && env.Kind() == kind {
				t.Fatalf("unexpected %s: %+v", kind, env)
			}
		case <-deadline:
			return
		}
	}
}

func startHub(t *testing.T) *core.Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := core.NewHub(core.Options{}, nil, nil)
	go hub.Run(ctx, nil)
	return hub
}

type peer struct {
	id    uuid.UUID
	conn  *fakeConn
	errCh chan error
}

// connect runs a bridge for a fresh fake connection and consumes the
// greeting.
func connect(t *testing.T, hub Registry, cfg Config) *peer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn := newFakeConn()
	b := New(hub, conn, cfg, nil)
	p := &peer{id: b.Identity(), conn: conn, errCh: make(chan error, 1)}
	go func() {
		p.errCh <- b.Run(ctx)
	}()

	hello := conn.expect(t, proto.CommandHello)
	if got := hello.Command.(proto.Hello).Identity; got != p.id {
		t.Fatalf("greeting carries %s, want %s", got, p.id)
	}
	return p
}

func (p *peer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}
