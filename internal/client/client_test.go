package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
)

// fakeHub accepts one socket and runs script against it.
func fakeHub(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		script(r.Context(), conn)
	}))
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http", "ws", 1)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageBinary, data)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDialLearnsIdentityAndAnswersPings(t *testing.T) {
	id := uuid.New()
	pongs := make(chan proto.Pong, 1)

	url := fakeHub(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte("ignored"))
		_ = writeEnvelope(ctx, conn, proto.FromServer(id, proto.Hello{Identity: id}))
		_ = writeEnvelope(ctx, conn, proto.FromServer(id, proto.Ping{Identity: id, Round: 7}))

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if env, err := proto.Decode(data); err == nil {
			if p, ok := env.Command.(proto.Pong); ok {
				pongs <- p
			}
		}
		_ = writeEnvelope(ctx, conn, proto.FromServer(id, proto.OnlineClients{Round: 7}))
		_, _, _ = conn.Read(ctx)
	})

	ctx := testContext(t)
	conn, err := Dial(ctx, url, &Options{AutoPong: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Abort()

	if conn.Identity() != id {
		t.Fatalf("identity = %s, want %s", conn.Identity(), id)
	}
	env, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Kind() != proto.CommandOnlineClients {
		t.Fatalf("ping must be consumed, got %s", env.Kind())
	}

	select {
	case p := <-pongs:
		if p.Identity != id || p.Round != 7 {
			t.Fatalf("unexpected pong: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no pong received")
	}
}

func TestDialRejectsUnexpectedGreeting(t *testing.T) {
	url := fakeHub(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = writeEnvelope(ctx, conn, proto.FromServer(uuid.New(), proto.Error{Message: "nope"}))
		_, _, _ = conn.Read(ctx)
	})

	_, err := Dial(testContext(t), url, nil)
	if !errors.Is(err, ErrUnexpectedGreeting) {
		t.Fatalf("expected ErrUnexpectedGreeting, got %v", err)
	}
}

func TestDialReportsUnauthorized(t *testing.T) {
	url := fakeHub(t, func(context.Context, *websocket.Conn) {})

	_, err := Dial(testContext(t), url, &Options{Token: "bad"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
