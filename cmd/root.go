package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the inbox-triage command tree.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "inbox-triage",
		Short:         "Cluster recent mail by sender and archive whole clusters at once",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	triageCmd, err := newTriageCommand()
	if err != nil {
		return nil, err
	}
	serveCmd, err := newServeCommand()
	if err != nil {
		return nil, err
	}

	rootCmd.AddCommand(triageCmd, serveCmd, newMboxStatsCommand())
	return rootCmd, nil
}
