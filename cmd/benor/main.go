package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "BenOr-Engine"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "benor",
		Short:         "Ben-Or randomized binary consensus",
		Long:          `Runs Ben-Or binary consensus participants over HTTP, ZeroMQ or gRPC, or a whole group in one process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(nodeCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
