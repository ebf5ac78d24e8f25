package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for remote commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// StopWorkerFlags holds flags for the stop-worker command.
type StopWorkerFlags struct {
	Force bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	stopFlags := &StopWorkerFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createWorkersCommand(apiFlags),
		createScaleCommand(apiFlags),
		createStopWorkerCommand(apiFlags, stopFlags),
		createValidateCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "flockd",
		Short: "Worker pool orchestration daemon",
		Long: `Flockd supervises a pool of worker processes, scales it against
queue backlog, and routes the workers' outbound traffic through an
adaptive connection layer.

Examples:
  flockd serve --config=flockd.toml
  flockd status
  flockd scale 6
  flockd stop-worker worker-1a2b3c4d --api-url=http://remote:8440`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "flockd.toml", "path to TOML config file")
	return root
}

func createStatusCommand(apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool state and aggregate metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(apiFlags.URL, apiFlags.Timeout)
			st, err := c.GetStatus()
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createWorkersCommand(apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List worker records",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(apiFlags.URL, apiFlags.Timeout)
			ws, err := c.GetWorkers()
			if err != nil {
				return err
			}
			return printJSON(ws)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createScaleCommand(apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale <target>",
		Short: "Resize the pool to an explicit worker count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil || target < 0 {
				return fmt.Errorf("target must be a non-negative integer, got %q", args[0])
			}
			c := NewAPIClient(apiFlags.URL, apiFlags.Timeout)
			return c.Scale(target)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createStopWorkerCommand(apiFlags *APIFlags, stopFlags *StopWorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop-worker <id>",
		Short: "Stop a single worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(apiFlags.URL, apiFlags.Timeout)
			return c.StopWorker(args[0], !stopFlags.Force)
		},
	}
	cmd.Flags().BoolVar(&stopFlags.Force, "force", false, "kill immediately instead of draining")
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createValidateCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(flags.ConfigPath)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, apiFlags *APIFlags) {
	cmd.Flags().StringVar(&apiFlags.URL, "api-url", "", "daemon URL (default http://localhost:8440)")
	cmd.Flags().DurationVar(&apiFlags.Timeout, "api-timeout", 10*time.Second, "request timeout")
}
