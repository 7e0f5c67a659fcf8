package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the model runtime once and print its health",
	Long: `Check loads the configuration, lists the runtime's models once and prints
the result as JSON. It exits 1 when the runtime is unreachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd)
	},
}

func runCheck(cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newOllamaClient(cfg, nil, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HealthCheckTimeout)
	defer cancel()

	h := client.HealthCheck(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return err
	}
	if !h.Healthy() {
		return errUnhealthy
	}
	return nil
}
