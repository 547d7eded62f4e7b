package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "use <id>...",
		Short: "Record that memories were used in a response",
		Long:  "Reinforce memories: raise confidence, bump the access count and refresh last access. Archived memories are left alone.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runUse,
	}

	RootCmd.AddCommand(cmd)
}

type useResult struct {
	ID      string `json:"id" yaml:"id"`
	Applied bool   `json:"applied" yaml:"applied"`
}

func runUse(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	out := make([]useResult, 0, len(args))
	for _, id := range args {
		applied, err := e.Use(cmd.Context(), id)
		if err != nil {
			exitErr("use", err)
		}
		out = append(out, useResult{ID: id, Applied: applied})
	}
	output(cmd, out)
}
