package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"liveclass/internal/app"
	"liveclass/internal/config"
)

var version = "dev" // set via ldflags at build time

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions are shared by every subcommand
type rootOptions struct {
	configPath string
}

// load reads configuration with precedence file > env > .env > defaults;
// validation is left to the command, since client commands need no secret
func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("LIVECLASS_CONFIG_FILE")
	}
	return config.Load(path)
}

// ARCHITECTURAL DISCOVERY: Command tree built per call, no package globals,
// so tests run commands in isolation
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "liveclass",
		Short:         "Live-session directory, presence gateway and participant client",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML or JSON config file (env LIVECLASS_CONFIG_FILE)")

	root.AddCommand(
		newServeCmd(opts),
		newTokenCmd(opts),
		newJoinCmd(opts),
		newParticipantsCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST directory and the session socket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve runs the application until ctx is cancelled or the server fails
func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Log.NewLogger(os.Stderr)

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-application.Errors():
		if ok {
			runErr = err
		}
	}

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}
