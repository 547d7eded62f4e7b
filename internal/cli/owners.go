package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	ownersCmd := &cobra.Command{
		Use:   "owners",
		Short: "Owner management",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List owners with active memories",
		Run:   runOwnersList,
	}

	ownersCmd.AddCommand(listCmd)
	RootCmd.AddCommand(ownersCmd)
}

func runOwnersList(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	owners, err := e.Owners(cmd.Context())
	if err != nil {
		exitErr("list owners", err)
	}
	if owners == nil {
		owners = []string{}
	}
	output(cmd, owners)
}
