package main

import (
	"fmt"
	"os/signal"
	goruntime "runtime"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/fring-app/fring-core/config"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configDir string
	envMode   string
}

func (f *rootFlags) options() config.Options {
	opts := config.DefaultOptions()
	if f.configDir != "" {
		opts.BasePath = f.configDir
	}
	if f.envMode != "" {
		opts.Mode = config.ParseEnvMode(f.envMode)
	}
	return opts
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "fringd",
		Short:         "FRING! core: event bus, module menu coordinator and metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configDir, "config", "", "Config directory (defaults CONFIG_PATH or ./config)")
	root.PersistentFlags().StringVar(&flags.envMode, "env", "", "Environment mode: development|production|test (defaults "+config.EnvModeKey+")")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the event bus, coordinator, metrics and HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags.options())
		},
	}

	showConfig := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := config.Load(flags.options())
			if err != nil {
				return err
			}
			cfg := loader.Config()
			if cfg.Redis.Password != "" {
				cfg.Redis.Password = "[REDACTED]"
			}
			out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
			for _, f := range loader.Files() {
				fmt.Fprintf(cmd.ErrOrStderr(), "loaded %s\n", f)
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the fringd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fringd %s (%s %s/%s)\n", version, goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
		},
	}

	root.AddCommand(serve, showConfig, versionCmd)
	return root
}
