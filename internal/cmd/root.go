// Package cmd is the livewatch command line.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	output     string
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// so tests can run commands in parallel.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "livewatch",
		Short:         "Track when streamers go live",
		Long:          "livewatch polls streaming platforms with an adaptive schedule and notifies when a tracked account goes live.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(opts.output) {
			case "table", "json":
				opts.output = strings.ToLower(opts.output)
				return nil
			default:
				return fmt.Errorf("unsupported output format: %s", opts.output)
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config file (yaml or json)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newAccountsCmd(opts),
		newEventsCmd(opts),
	)
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
