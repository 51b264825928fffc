// minifc runs one process of the mini fulfilment centre: a sort or
// inventory arm, the conveyor belt, or the master brain that turns their
// stage events into desired shadow state.
//
// The process kind comes from device.kind in the configuration file. The
// arm, belt and brain subcommands refuse to start a configuration of a
// different kind.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/minifc/migrations"

	"github.com/nerrad567/minifc/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/minifc.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runOptions are the command line settings shared by every subcommand.
type runOptions struct {
	configPath string
	debug      bool

	// kind, when set, must match device.kind of the loaded configuration.
	kind string
}

func rootCmd() *cobra.Command {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:           "minifc",
		Short:         "Mini fulfilment centre device controller",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `minifc drives one station of the mini fulfilment centre.

Arms and the belt run a staged control loop gated by run/stop commands
from a shared shadow document. The brain hosts that document and routes
button presses and arm stage events into it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (default $MINIFC_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "force debug logging")

	root.AddCommand(
		kindCmd(opts, config.KindArm, "Run a sort or inventory arm"),
		kindCmd(opts, config.KindBelt, "Run the conveyor belt"),
		kindCmd(opts, config.KindBrain, "Run the master brain and shadow service"),
		migrateCmd(opts),
	)
	return root
}

func kindCmd(opts *runOptions, kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := *opts
			o.kind = kind
			return run(cmd.Context(), o)
		},
	}
}

func migrateCmd(opts *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and print their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

// getConfigPath returns the configuration file path: the flag, then
// MINIFC_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("MINIFC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and applies the command line
// overrides.
func loadConfig(opts runOptions) (*config.Config, error) {
	cfg, err := config.Load(getConfigPath(opts.configPath))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.kind != "" && cfg.Device.Kind != opts.kind {
		return nil, fmt.Errorf("config is for kind %q, not %q", cfg.Device.Kind, opts.kind)
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
