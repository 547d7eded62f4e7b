package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	archive := &cobra.Command{
		Use:   "archive <id>...",
		Short: "Archive memories",
		Long:  "Archive memories. Archived memories are excluded from retrieval and listing but kept; see restore.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runArchive,
	}
	restore := &cobra.Command{
		Use:   "restore <id>...",
		Short: "Restore archived memories",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRestore,
	}

	RootCmd.AddCommand(archive, restore)
}

func runArchive(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	for _, id := range args {
		if err := e.Archive(cmd.Context(), id); err != nil {
			exitErr("archive", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"archived":%d}`+"\n", len(args))
}

func runRestore(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	for _, id := range args {
		if err := e.Restore(cmd.Context(), id); err != nil {
			exitErr("restore", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"restored":%d}`+"\n", len(args))
}
