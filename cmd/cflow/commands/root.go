package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	actorID    string
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cflow",
		Short: "contractflow - contract approval workflow engine",
		Long: `contractflow moves contracts from draft through legal and finance review,
escalation and revision, to counterparty execution.

Every command is permission checked against the role bindings, runs as a
single versioned transaction and leaves an audit entry behind.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file or directory (default ./cflow.cue when present)")
	rootCmd.PersistentFlags().StringVarP(&actorID, "actor", "a", os.Getenv("CFLOW_ACTOR"), "acting user id (default $CFLOW_ACTOR)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newContractCommand())
	for _, cmd := range newTransitionCommands() {
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}
