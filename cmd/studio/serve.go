package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/api"
	"github.com/heimdex/heimdex-studio/internal/db"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/mux"
	"github.com/heimdex/heimdex-studio/internal/session"
)

type serveOptions struct {
	host  string
	port  int
	token string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the render session server",
		Long: `Run the HTTP server that accepts render sessions, stores uploaded
packets and muxes finished sessions into AVI files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port; defaults to HEIMDEX_PORT")
	cmd.Flags().StringVar(&opts.token, "token", "", "auth token to require; generated and stored when empty")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *serveOptions, cmd *cobra.Command) error {
	startTime := time.Now()

	cfg, logger, err := setup(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	port := cfg.Port()
	if opts.port > 0 {
		port = opts.port
	}
	logger.Info("starting render server", "version", api.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger, db.WithBusyTimeout(cfg.DBBusyTimeout()))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := session.NewRepository(database.Conn())
	svc := session.NewService(repo, cfg.SessionsDir(), cfg.MaxAppendBytes(), logger)

	authToken, err := svc.EnsureAuthToken(ctx, opts.token)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintf(cmd.OutOrStdout(), "║                HEIMDEX RENDER SERVER v%-19s ║\n", api.Version)
	fmt.Fprintln(cmd.OutOrStdout(), "╠═══════════════════════════════════════════════════════════╣")
	fmt.Fprintf(cmd.OutOrStdout(), "║  API URL:    http://%-37s ║\n", fmt.Sprintf("%s:%d", opts.host, port))
	fmt.Fprintf(cmd.OutOrStdout(), "║  Auth Token: %-45s ║\n", authToken)
	if n := database.Interrupted(); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "║  Failed:     %-45s ║\n", fmt.Sprintf("%d session(s) interrupted by restart", n))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(cmd.OutOrStdout())

	var doctor *media.CachedDoctor
	if _, tools := opener(cfg, logger); tools != nil {
		doctor = media.NewCachedDoctor(tools, logger)
		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("media capabilities detected", "can_decode", caps.CanDecode)
		}
		initCancel()
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := session.NewRunner(svc, repo, mux.New(logger), cfg.PollInterval(), logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Host:       opts.host,
		Port:       port,
		Service:    svc,
		Repository: repo,
		Runner:     runner,
		Doctor:     doctor,
		Logger:     logger,
		StartTime:  startTime,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete", "token", logging.SanitizeToken(authToken))
	return nil
}
