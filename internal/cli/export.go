package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON or YAML",
		Long:  "Export an owner's memories, embeddings and lifecycle state included. The output can be read back by import.",
		Run:   runExport,
	}

	cmd.Flags().Bool("archived", true, "Include archived memories")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	archived, _ := cmd.Flags().GetBool("archived")

	e := openEngine(cmd, nil)
	defer e.Close()

	memories, err := e.Export(cmd.Context(), owner(), archived)
	if err != nil {
		exitErr("export", err)
	}
	if memories == nil {
		memories = []model.Entry{}
	}
	output(cmd, memories)
}
