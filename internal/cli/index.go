package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Search index maintenance",
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay vector index writes that failed",
		Run:   runReconcile,
	}

	indexCmd.AddCommand(reconcileCmd)
	RootCmd.AddCommand(indexCmd)
}

func runReconcile(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	n, err := e.Reconcile(cmd.Context())
	if err != nil {
		exitErr("reconcile", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"reconciled":%d}`+"\n", n)
}
