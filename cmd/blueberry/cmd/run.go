package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/blueberry"
	"github.com/GoCodeAlone/blueberry/internal/admin"
	"github.com/GoCodeAlone/blueberry/internal/apps"
	"github.com/GoCodeAlone/blueberry/internal/logging"
	"github.com/GoCodeAlone/blueberry/metrics"
	"github.com/GoCodeAlone/blueberry/tracing"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// NewRunCommand starts the framework and runs the default application on
// the main thread until it exits or the process is interrupted.
func NewRunCommand() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "run [flags] [-- application args...]",
		Short: "Start the framework and run the default application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, cfg, args)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newLogger(cfg *blueberry.Config) (*logging.Logger, error) {
	if cfg.Debug {
		return logging.New(logging.DevelopmentConfig())
	}
	return logging.New(logging.DefaultConfig())
}

func run(ctx context.Context, cmd *cobra.Command, cfg *blueberry.Config, args []string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("create tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	m := metrics.New()
	opts := append(apps.Options(cmd.OutOrStdout()), blueberry.WithContainerOptions(
		blueberry.WithMetrics(m),
		blueberry.WithTracer(tp.Tracer()),
	))
	fw, err := blueberry.NewFramework(cfg, logger.Named("blueberry"), opts...)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		fw.MainThread().SetArguments(args)
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.AdminAddr != "" {
		srv = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.New(fw.Container(), m.Registry(), logger.Named("admin")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Admin API stopped", "addr", cfg.AdminAddr, "error", err)
			}
		}()
		logger.Info("Admin API listening", "addr", cfg.AdminAddr)
	}

	value, runErr := fw.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(sctx)
	}
	if err := fw.Stop(sctx); err != nil {
		logger.Warn("Framework stopped with errors", "error", err)
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		return nil
	case runErr != nil:
		return runErr
	case value != nil:
		fmt.Fprintf(cmd.OutOrStdout(), "exit value: %v\n", value)
	}
	return nil
}
