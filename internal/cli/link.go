package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <from-id> <to-id>",
		Short: "Create or remove a relation between memories",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}

	cmd.Flags().StringP("rel", "r", "related", "Relation: related, contradicts, supports, supersedes, derived_from")
	cmd.Flags().Bool("rm", false, "Remove the link")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	rel, _ := cmd.Flags().GetString("rel")
	rm, _ := cmd.Flags().GetBool("rm")

	e := openEngine(cmd, nil)
	defer e.Close()

	if rm {
		removed, err := e.Unlink(cmd.Context(), args[0], args[1], model.LinkRel(rel))
		if err != nil {
			exitErr("unlink", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"removed":%t}`+"\n", removed)
		return
	}

	link, err := e.Link(cmd.Context(), args[0], args[1], model.LinkRel(rel))
	if err != nil {
		exitErr("link", err)
	}
	output(cmd, link)
}
