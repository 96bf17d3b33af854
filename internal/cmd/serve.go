package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/viant/gatekeeper"
	"github.com/viant/gatekeeper/metrics"
	"github.com/viant/gatekeeper/service/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the expiry sweeper and criteria poller",
	Long: `Run the background jobs of a gatekeeper replica until interrupted.
Every replica may run serve; the store arbitrates concurrent transitions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "", "address of the prometheus endpoint, e.g. :9090")
	_ = viper.BindPFlag("metrics.address", serveCmd.Flags().Lookup("metrics-addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	srv, err := gatekeeper.New(ctx, gatekeeper.WithConfig(config), gatekeeper.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err = srv.Start(ctx); err != nil {
		return err
	}
	logger.Info().Str("store", config.Store.Kind).Str("version", gatekeeper.Version).Msg("gatekeeper started")

	if completions := srv.Completions(); completions != nil {
		receiver := notify.NewReceiver(completions, logCompletion(logger), notify.WithReceiverLogger(logger))
		go func() { _ = receiver.Run(ctx) }()
	}

	var server *http.Server
	if config.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server = &http.Server{Addr: config.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}

// logCompletion stands in for an orchestrator when none is attached.
func logCompletion(logger zerolog.Logger) notify.Handler {
	return func(ctx context.Context, payload *notify.Payload) error {
		logger.Info().
			Str("instance", payload.InstanceID).
			Str("nodeExecution", payload.NodeExecutionID).
			Str("status", string(payload.Status)).
			Time("completedAt", payload.CompletedAt).
			Msg("approval completed")
		return nil
	}
}
