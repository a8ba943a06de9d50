// Package cmd defines and implements the CLI commands for the notepipe executable.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/app"
	"github.com/SF-300/vigilant-disco/internal/config"
	"github.com/SF-300/vigilant-disco/internal/logging"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
	"github.com/SF-300/vigilant-disco/internal/progress/sinks"
	"github.com/SF-300/vigilant-disco/internal/store"
)

// interactive marks commands that own the terminal; their logs go to a file.
const interactive = "interactive"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application container.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Pipeline() *pipeline.Pipeline
	Sources() []pipeline.Source
	Activity() store.ActivityRepository
	Recent() *sinks.RecentSink
	Close(ctx context.Context)
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "notepipe",
		Short: "Turns screenshots into reviewed flashcards",
		Long: `notepipe extracts study material from images, turns confirmed extractions
into protonotes, and exports the confirmed protonotes to Anki or another
target. Each step waits for a human to confirm its results.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Annotations[interactive] == "true" && len(cfg.Logging.Output) == 0 {
				cfg.Logging.Output = []string{filepath.Join(os.TempDir(), "notepipe.log")}
			}
			logger, err := logging.Build(cfg.Logging)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return errors.Wrap(err, "initialize application services")
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd(), newReviewCmd(), newExtractCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for run and closes it when run returns, whether
// or not run failed.
func withApp(run func(cmd *cobra.Command, appInstance App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close(context.WithoutCancel(cmd.Context()))
		return run(cmd, appInstance, args)
	}
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
