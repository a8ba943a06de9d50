package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/api"
	"github.com/SF-300/vigilant-disco/internal/policy/ratelimit"
	"github.com/SF-300/vigilant-disco/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the pipeline behind the HTTP API",
		Long: `Starts the three pipeline stages and any configured image sources, and
serves the HTTP API used to upload images, review results and confirm them.
The listen port is server.port, or PORT when set.`,
		Args: cobra.NoArgs,
		RunE: withApp(runServe),
	}
}

func runServe(cmd *cobra.Command, appInstance App, _ []string) error {
	ctx := cmd.Context()
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	handle := appInstance.Pipeline().Run(ctx, appInstance.Sources()...)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	server := api.NewServer(
		appInstance.Pipeline(),
		api.NewActivityHandler(appInstance.Activity(), appInstance.Recent(), logger),
		api.Options{
			APIKey:         apiKey,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Ready:          pipelineReady(handle),
			UploadLimiter:  ratelimit.New(cfg.Server.UploadLimit),
			Logger:         logger,
		},
	)

	port := cfg.Server.Port
	if env := os.Getenv("PORT"); env != "" {
		var err error
		if port, err = strconv.Atoi(env); err != nil {
			return errors.Wrapf(err, "parse PORT %q", env)
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case <-handle.Done():
		logger.Error("pipeline stopped; shutting down")
	case err := <-serveErr:
		runErr = errors.Wrap(err, "http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runErr = errors.CombineErrors(runErr, handle.Close())
	logger.Info("shutdown complete")
	return runErr
}

func pipelineReady(handle *supervisor.Handle) func(context.Context) error {
	return func(context.Context) error {
		select {
		case <-handle.Done():
			return errors.New("pipeline stopped")
		default:
			return nil
		}
	}
}
