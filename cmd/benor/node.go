package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/BenOr-Engine/config"
	"github.com/VanDung-dev/BenOr-Engine/logging"
	"github.com/VanDung-dev/BenOr-Engine/node"
)

func nodeCmd() *cobra.Command {
	var (
		configPath string
		start      bool
	)
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one participant host.",
		Long: `Runs one participant with its transport and control API until SIGINT or SIGTERM.
Configuration is read from --config and BENOR_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return err
			}
			defer logging.Sync()
			logger := logging.MustGetLogger("cmd")

			svc, err := node.New(cfg)
			if err != nil {
				return err
			}
			if err := svc.Start(); err != nil {
				return err
			}
			defer svc.Stop()

			if start {
				svc.StartConsensus()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "participant %d listening on %s\n", cfg.Node.ID, svc.ControlAddress())

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)
			<-quit

			logger.Infow("Shutting down", "status", svc.Status())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to the configuration file.")
	flags.BoolVar(&start, "start", false, "Begin consensus immediately instead of waiting for GET /start.")
	return cmd
}
