package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-rendezvous/internal/app"
	"github.com/vovakirdan/wirechat-rendezvous/internal/config"
	"github.com/vovakirdan/wirechat-rendezvous/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
		noVerify   bool
	)

	serve := func(cmd *cobra.Command, _ []string) error {
		bootLogger := log.New("info", "console")

		cfg, path, err := config.Load(bootLogger, configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.UpdateFrom(overrides)
		if noVerify {
			cfg.VerifySender = false
		}

		logger := log.New(cfg.LogLevel, cfg.LogFormat)
		logger.Info().Str("config", path).Str("version", version).Msg("configuration loaded")

		application, err := app.New(&cfg, logger)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := application.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("server exited with error")
			return err
		}
		logger.Info().Msg("server stopped")
		return nil
	}

	root := &cobra.Command{
		Use:           "rendezvous",
		Short:         "Signaling hub that introduces peers and relays their negotiation",
		SilenceUsage: true,
		RunE:         serve,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub (default)",
		RunE:  serve,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to config.yaml (created with defaults if missing)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&overrides.LogFormat, "log-format", "", "console or json")
	flags.DurationVar(&overrides.HeartbeatInterval, "heartbeat-interval", 0, "interval between heartbeat rounds")
	flags.Uint64Var(&overrides.EvictAfterRounds, "evict-after-rounds", 0, "remove clients silent for this many rounds (0 keeps them)")
	flags.IntVar(&overrides.MaxFramesPerMinute, "max-frames-per-minute", 0, "per-connection inbound frame limit (0 is unlimited)")
	flags.StringVar(&overrides.HistoryPath, "history", "", "SQLite file for session history")
	flags.StringVar(&overrides.JWTSecret, "jwt-secret", "", "require HS256 join tokens signed with this secret")
	flags.StringSliceVar(&overrides.TLS.AutocertDomains, "autocert", nil, "serve TLS for these domains via ACME")
	flags.BoolVar(&noVerify, "no-verify-sender", false, "trust the sender declared in envelopes")

	root.AddCommand(serveCmd, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}
