package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	BinaryName = "batchsync"
	flagConfig = "config"
)

// NewRootCmd creates the root command. Subcommands are attached in main.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   BinaryName,
		Short: fmt.Sprintf("%s - submit nonce-sequenced transaction batches within one block.", BinaryName),
		Long: fmt.Sprintf(`%s waits for a fresh block, submits the same contract call with
explicit consecutive nonces until a random target count or the next block boundary,
and reports how many transactions the synchronized block contains.`, BinaryName),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String(flagConfig, "", "Path to a YAML, JSON or TOML config file")
	return rootCmd
}

func main() {
	cmd := NewRootCmd()
	cmd.AddCommand(
		NewRunCmd(),
		NewServeCmd(),
		NewTriggerCmd(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", BinaryName, err)
		os.Exit(1)
	}
}
