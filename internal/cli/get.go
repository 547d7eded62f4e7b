package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("links", false, "Include links to and from the memory")
	cmd.Flags().Bool("embedding", false, "Include the stored embedding")

	RootCmd.AddCommand(cmd)
}

type getOutput struct {
	model.Entry `yaml:",inline"`
	Links []model.Link `json:"links,omitempty" yaml:"links,omitempty"`
}

func runGet(cmd *cobra.Command, args []string) {
	withLinks, _ := cmd.Flags().GetBool("links")
	withEmbedding, _ := cmd.Flags().GetBool("embedding")

	e := openEngine(cmd, nil)
	defer e.Close()

	mem, err := e.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	if !withEmbedding {
		mem.Embedding = nil
	}
	if !withLinks {
		output(cmd, mem)
		return
	}

	links, err := e.Links(cmd.Context(), mem.ID)
	if err != nil {
		exitErr("links", err)
	}
	output(cmd, getOutput{Entry: *mem, Links: links})
}
