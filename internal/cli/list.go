package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active memories, newest first",
		Run:   runList,
	}

	cmd.Flags().String("type", "", "Filter by type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated, all must match)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	e := openEngine(cmd, nil)
	defer e.Close()

	memories, err := e.List(cmd.Context(), owner(), store.ListFilter{
		Type:  typ,
		Tags:  splitTags(tagsStr),
		Limit: limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
		}
		return
	}
	for i := range memories {
		memories[i].Embedding = nil
	}
	output(cmd, memories)
}
