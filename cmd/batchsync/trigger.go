package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/piotr-stec/multiple-txs-one-block/internal/hmacauth"
)

const (
	flagURL = "url"
	flagKey = "key"
)

// NewTriggerCmd asks a running server to execute one batch.
func NewTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Request a batch from a running batchsync server",
		Args:  cobra.NoArgs,
		RunE:  trigger,
	}
	cmd.Flags().String(flagURL, "", "Server base URL (default http://localhost:<service.http_port>)")
	cmd.Flags().String(flagKey, "", "Idempotency key; reusing a key replays the stored report")
	return cmd
}

func trigger(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	baseURL, _ := cmd.Flags().GetString(flagURL)
	if baseURL == "" {
		baseURL = "http://localhost:" + strconv.Itoa(cfg.Service.HTTPPort)
	}
	key, _ := cmd.Flags().GetString(flagKey)
	if key == "" {
		key = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}

	body := []byte("{}")
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, baseURL+"/api/v1/batches", bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts, sig := hmacauth.Sign(cfg.Service.HMACSecret, time.Now(), body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(hmacauth.DefaultTimestampHeader, ts)
	req.Header.Set(hmacauth.DefaultSignatureHeader, sig)
	req.Header.Set("X-Idempotency-Key", key)

	// Batches block until the boundary block is observed, so no client timeout.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_, _ = cmd.OutOrStdout().Write(out)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	return nil
}
