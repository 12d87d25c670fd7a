package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vovakirdan/wirechat-rendezvous/internal/auth"
	"github.com/vovakirdan/wirechat-rendezvous/internal/config"
	"github.com/vovakirdan/wirechat-rendezvous/internal/core"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-rendezvous/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	challenge       *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	heartbeat       *core.Heartbeat
	history         store.History
	tls             config.TLSConfig
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	var history store.History
	if cfg.HistoryPath != "" {
		st, err := sqlite.New(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("init history: %w", err)
		}
		history = st
		logger.Info().Str("history_path", cfg.HistoryPath).Msg("history store initialized")
	}

	var jwtConfig *auth.JWTConfig
	if cfg.JWTSecret != "" {
		jwtConfig = &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}
		logger.Info().Msg("join tokens required on /ws")
	}

	hub := core.NewHub(core.Options{
		InboundBuffer:    cfg.InboundBuffer,
		RepingRounds:     cfg.RepingRounds,
		EvictAfterRounds: cfg.EvictAfterRounds,
	}, history, logger)

	a := &App{
		server:          transporthttp.NewServer(hub, history, jwtConfig, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		heartbeat:       core.NewHeartbeat(cfg.HeartbeatInterval, logger),
		history:         history,
		tls:             cfg.TLS,
		log:             logger,
	}
	if err := a.configureTLS(); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

// configureTLS installs an autocert manager when ACME domains are set.
// Static certificates are passed to ListenAndServeTLS instead.
func (a *App) configureTLS() error {
	if len(a.tls.AutocertDomains) == 0 {
		return nil
	}
	if a.tls.CertFile != "" || a.tls.KeyFile != "" {
		return errors.New("tls: set either cert_file/key_file or autocert_domains, not both")
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(a.tls.AutocertDomains...),
		Cache:      autocert.DirCache(a.tls.AutocertCacheDir),
	}
	a.server.TLSConfig = &tls.Config{
		GetCertificate: manager.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion:     tls.VersionTLS12,
	}
	// HTTP-01 challenges and redirects to https.
	a.challenge = &stdhttp.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: a.server.ReadHeaderTimeout,
	}
	a.log.Info().Strs("domains", a.tls.AutocertDomains).Msg("acme autocert enabled")
	return nil
}

// Run starts the hub, the heartbeat and the HTTP server and blocks until
// context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	// The hub outlives ctx: it keeps routing while the HTTP server drains
	// and is stopped explicitly afterwards.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	go a.heartbeat.Run(hubCtx)
	go a.hub.Run(hubCtx, a.heartbeat.Rounds())

	if a.challenge != nil {
		go func() {
			if err := a.challenge.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				a.log.Warn().Err(err).Msg("acme challenge listener stopped")
			}
		}()
	}

	go func() {
		var err error
		switch {
		case a.server.TLSConfig != nil:
			err = a.server.ListenAndServeTLS("", "")
		case a.tls.CertFile != "" && a.tls.KeyFile != "":
			err = a.server.ListenAndServeTLS(a.tls.CertFile, a.tls.KeyFile)
		default:
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	a.log.Info().Str("addr", a.server.Addr).Bool("tls", a.tls.Enabled()).Msg("rendezvous hub listening")

	select {
	case err := <-serverErr:
		stopHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		if a.challenge != nil {
			_ = a.challenge.Shutdown(shutdownCtx)
		}

		// WebSocket connections are hijacked, so Shutdown does not wait for
		// them. Stopping the hub closes every client queue, which ends the
		// bridges.
		stopHub()
		select {
		case <-a.hub.Done():
		case <-shutdownCtx.Done():
			a.log.Warn().Msg("hub did not stop before shutdown timeout")
		}

		a.cleanup()
		if err != nil {
			return err
		}
		return <-serverErr
	}
}

// cleanup closes the history store.
func (a *App) cleanup() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close history store")
		} else {
			a.log.Info().Msg("history store closed")
		}
	}
}
