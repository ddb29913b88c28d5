// cmd/holdctl/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sabzar/internal/pkg/config"
	"sabzar/internal/pkg/logger"
	"sabzar/internal/service/hold"
)

// newContainer 在测试中会被替换
var newContainer = func(ctx context.Context, cfg *config.Config) (*hold.Container, error) {
	return hold.Build(ctx, cfg, nil)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "holdctl",
		Short:         "Operate checkout holds and stock counters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitWithWriter(cmd.ErrOrStderr(), "holdctl", "warn")
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/checkout-service.yaml", "path to the YAML config file")

	load := func(cmd *cobra.Command) (*hold.Container, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		config.SetCurrentConfig(cfg)
		return newContainer(cmd.Context(), cfg)
	}

	rootCmd.AddCommand(statusCmd(load))
	rootCmd.AddCommand(cancelCmd(load))
	rootCmd.AddCommand(sweepCmd(load))
	rootCmd.AddCommand(stockCmd(load))
	rootCmd.AddCommand(productCmd(load))
	rootCmd.AddCommand(migrateCmd(&configPath))
	return rootCmd
}

type loader func(cmd *cobra.Command) (*hold.Container, error)
