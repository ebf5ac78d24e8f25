package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flockd/flockd"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator in the foreground",
		Long: `Start the worker pool, the autoscaling loop, and the ops HTTP API,
then run until SIGINT or SIGTERM. Shutdown drains every worker
gracefully before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags.ConfigPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := flockd.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := flockd.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	orch, err := flockd.New(cfg)
	if err != nil {
		return err
	}
	defer orch.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return orch.Run(ctx)
}

func runValidate(configPath string) error {
	if _, err := flockd.LoadConfig(configPath); err != nil {
		return err
	}
	fmt.Printf("%s: configuration OK\n", configPath)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
