// Package main implements enginectl, the command-line entry point for
// the workflow engine: serving the runtime, and inspecting a running
// instance's health.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flowcoreio/enginecore/pkg/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "enginectl",
	Short:        "Run and inspect the FlowCore workflow engine",
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "enginectl version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		logging.Error("cmd", err, "enginectl failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newHealthcheckCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the enginectl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("enginectl version " + rootCmd.Version)
			return nil
		},
	}
}
