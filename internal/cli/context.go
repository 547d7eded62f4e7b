package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Retrieve and rank memories, then greedily pack them into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("budget", "b", retrieve.DefaultBudget, "Max tokens in output")
	cmd.Flags().IntP("limit", "l", 0, "Max memories considered (default from retrieval.limit)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	budget, _ := cmd.Flags().GetInt("budget")

	e := openEngine(cmd, nil)
	defer e.Close()

	result, err := e.Context(cmd.Context(), queryFromFlags(cmd, e.NewQuery(owner(), strings.Join(args, " "))), budget)
	if err != nil {
		exitErr("context", err)
	}
	output(cmd, result)
}
