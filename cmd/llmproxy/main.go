// Package main is the entry point for the llmproxy server and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"llmproxy/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "llmproxy",
		Short:         "Multi-provider LLM gateway with routing, caching and rate limiting",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: config.yaml in . or ./config)")

	root.AddCommand(
		newServeCmd(&configPath),
		newConfigCmd(&configPath),
		newVersionsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
