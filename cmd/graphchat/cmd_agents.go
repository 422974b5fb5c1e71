package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphchat/internal/types"
)

// agentsCmd lists the available chat agents.
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available chat agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents := []struct {
			kind types.AgentKind
			desc string
		}{
			{types.AgentKindQNA, "Answers questions about the codebase"},
			{types.AgentKindDebugging, "Finds causes and fixes from logs and stacktraces"},
			{types.AgentKindCodeChanges, "Explains the blast radius of code changes"},
		}
		for _, a := range agents {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", a.kind, a.desc)
		}
		return nil
	},
}
