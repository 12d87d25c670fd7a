package http

import (
	"context"
	"database/sql"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rendezvous/internal/auth"
	"github.com/vovakirdan/wirechat-rendezvous/internal/client"
	"github.com/vovakirdan/wirechat-rendezvous/internal/config"
	"github.com/vovakirdan/wirechat-rendezvous/internal/core"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store/sqlite"
)

type serverOptions struct {
	jwt     *auth.JWTConfig
	history bool
	rounds  chan uint64
	mutate  func(*config.Config)
}

type testServer struct {
	*httptest.Server
	hub     *core.Hub
	history store.History
}

func startTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	var history store.History
	if opts.history {
		history = createTestHistory(t)
	}

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}

	hub := core.NewHub(core.Options{}, history, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, opts.rounds)

	disabledLogger := zerolog.Nop()
	server := NewServer(hub, history, opts.jwt, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(cancel)

	return &testServer{Server: ts, hub: hub, history: history}
}

// createTestHistory creates an in-memory SQLite history with schema applied.
func createTestHistory(t *testing.T) store.History {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(sqlite.Schema)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.URL, "http", "ws", 1) + "/ws"
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dial(t *testing.T, s *testServer, opts *client.Options) *client.Conn {
	t.Helper()

	conn, err := client.Dial(testContext(t), s.wsURL(), opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Abort() })
	return conn
}

// expectRoster reads until a roster of n clients arrives.
func expectRoster(t *testing.T, conn *client.Conn, n int) proto.OnlineClients {
	t.Helper()

	ctx := testContext(t)
	for {
		env, err := conn.Expect(ctx, proto.CommandOnlineClients)
		if err != nil {
			t.Fatalf("client %s: %v", conn.Identity(), err)
		}
		if roster := env.Command.(proto.OnlineClients); len(roster.Clients) == n {
			return roster
		}
	}
}

// getJSON fetches path and decodes the body into out, returning the status.
func getJSON(t *testing.T, s *testServer, path, token string, out any) int {
	t.Helper()

	req, err := stdhttp.NewRequestWithContext(testContext(t), stdhttp.MethodGet, s.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == stdhttp.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
