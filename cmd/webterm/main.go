package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/websoft9/webterm/internal/config"
	"github.com/websoft9/webterm/internal/credential"
	"github.com/websoft9/webterm/internal/profiles"
	"github.com/websoft9/webterm/internal/render"
	"github.com/websoft9/webterm/internal/termview"
	"github.com/websoft9/webterm/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "webterm",
		Short:        "Interactive terminal sessions through a webterm gateway",
		Version:      cfg.Version,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.GatewayURL, "gateway", cfg.GatewayURL, "gateway base URL (WEBTERM_GATEWAY_URL)")
	flags.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "file holding the auth token, re-read on every connect (WEBTERM_TOKEN_FILE)")
	flags.StringVar(&cfg.EscapeKey, "escape", cfg.EscapeKey, "escape key for local commands, or none (WEBTERM_ESCAPE_KEY)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (LOG_LEVEL)")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to this file instead of stderr (WEBTERM_LOG_FILE)")

	root.AddCommand(newConnectCmd(cfg))
	return root
}

func newConnectCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <profile-id>",
		Short: "Open a terminal on an SSH profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return connect(ctx, cfg, logger, args[0])
		},
	}
}

func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, profileID string) error {
	escape, err := render.ParseEscapeKey(cfg.EscapeKey)
	if err != nil {
		return err
	}

	var (
		creds     credential.Chain
		tokenFile *credential.File
	)
	if cfg.TokenFile != "" {
		tokenFile = credential.NewFile(cfg.TokenFile)
		creds = append(creds, tokenFile)
	}
	creds = append(creds, credential.Static(cfg.Token))

	dialer, err := transport.NewDialer(transport.Config{
		GatewayURL:       cfg.GatewayURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	console := render.New(os.Stdin, os.Stdout, escape)
	view, err := termview.Open(ctx, termview.Config{
		Profiles:    profiles.NewClient(profiles.Config{URL: cfg.GatewayURL}, creds),
		Credentials: creds,
		Opener:      dialer,
		Console:     console,
		EscapeKey:   escape,
		Logger:      logger,
	}, profileID)
	if err != nil {
		return explainOpenError(err, tokenFile)
	}

	logger.Info().Str("profile", profileID).Str("gateway", cfg.GatewayURL).Msg("terminal opened")
	err = view.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if st := view.State(); st.LastError != "" {
		logger.Info().Str("lastError", st.LastError).Msg("terminal closed")
	}
	return err
}

// setupLogger writes to the log file when one is configured. Without one,
// logs go to stderr at warn level or above so they do not interleave with
// the remote screen.
func setupLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	} else if level < zerolog.WarnLevel {
		level = zerolog.WarnLevel
	}

	if cfg.LogFormat == "pretty" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.LogFile != ""}
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closeFn, nil
}

// explainOpenError adds a hint to a missing-credential failure, naming the
// token file problem when one was configured.
func explainOpenError(err error, tokenFile *credential.File) error {
	if !errors.Is(err, termview.ErrUnauthenticated) {
		return err
	}
	if tokenFile != nil {
		if ferr := tokenFile.Err(); ferr != nil {
			return fmt.Errorf("%w: token file: %v", err, ferr)
		}
		return fmt.Errorf("%w: token file %s is empty", err, tokenFile.Path)
	}
	return fmt.Errorf("%w: set WEBTERM_TOKEN or WEBTERM_TOKEN_FILE", err)
}
