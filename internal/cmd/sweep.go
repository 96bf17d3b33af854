package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/viant/gatekeeper"
	"github.com/viant/gatekeeper/service/notify"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue approval instances once",
	Long: `Run a single expiry sweep against the configured store and exit.
Useful from cron when no long running replica is deployed.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
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
	defer srv.Shutdown(ctx)

	var receiver *notify.Receiver
	receiveCtx, stopReceiving := context.WithCancel(ctx)
	defer stopReceiving()
	var wg sync.WaitGroup
	if completions := srv.Completions(); completions != nil {
		receiver = notify.NewReceiver(completions, logCompletion(logger), notify.WithReceiverLogger(logger))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = receiver.Run(receiveCtx)
		}()
	}

	count, err := srv.Sweeper().SweepOnce(ctx)
	stopReceiving()
	wg.Wait()
	if receiver != nil {
		if _, drainErr := receiver.Drain(ctx); drainErr != nil {
			logger.Error().Err(drainErr).Msg("failed to drain completions")
		}
	}
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d instance(s)\n", count)
	return nil
}
