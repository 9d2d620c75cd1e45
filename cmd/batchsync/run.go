package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const flagBatches = "batches"

// NewRunCmd runs batches in the foreground and prints one JSON report per batch.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run transaction batches against the configured node",
		Args:  cobra.NoArgs,
		RunE:  runBatches,
	}
	cmd.Flags().Int(flagBatches, 1, "Number of consecutive batches to run")
	return cmd
}

func runBatches(cmd *cobra.Command, _ []string) error {
	count, err := cmd.Flags().GetInt(flagBatches)
	if err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("--%s must be positive", flagBatches)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	for i := 1; i <= count; i++ {
		started := time.Now()
		res, err := a.coordinator.Run(ctx)
		if err != nil {
			return fmt.Errorf("batch %d failed after %d submissions in state %s: %w",
				i, res.Submitted, res.State, err)
		}

		id := fmt.Sprintf("run-%d-%d", started.UnixNano(), i)
		report := res.Report(id, a.coordinator.Address(), started, time.Now())
		if err := a.store.Save(ctx, report); err != nil {
			a.logger.Warn("save report failed", zap.String("id", id), zap.Error(err))
		}

		a.logger.Info("block transaction count",
			zap.Uint64("block", res.SyncHeight),
			zap.Uint64("count", res.BlockTxCount))
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return nil
}
