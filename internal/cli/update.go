package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a memory",
		Long:  "Change fields of a memory. Only flags that are set are applied; a content change is re-embedded.",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("content", "", "New content")
	cmd.Flags().String("type", "", "New type")
	cmd.Flags().StringP("tags", "t", "", "Replace tags (comma-separated, empty clears)")
	cmd.Flags().Float64("importance", 0, "New importance in [0,1]")
	cmd.Flags().Float64("confidence", 0, "New confidence in [0,1]")
	cmd.Flags().String("source", "", "New source")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	var p store.UpdateParams
	fl := cmd.Flags()
	changed := 0
	for _, name := range []string{"content", "type", "tags", "importance", "confidence", "source"} {
		if fl.Changed(name) {
			changed++
		}
	}
	if fl.Changed("content") {
		s, _ := fl.GetString("content")
		p.Content = &s
	}
	if fl.Changed("type") {
		s, _ := fl.GetString("type")
		p.Type = &s
	}
	if fl.Changed("tags") {
		s, _ := fl.GetString("tags")
		tags := splitTags(s)
		p.Tags = &tags
	}
	if fl.Changed("importance") {
		f, _ := fl.GetFloat64("importance")
		p.Importance = &f
	}
	if fl.Changed("confidence") {
		f, _ := fl.GetFloat64("confidence")
		p.Confidence = &f
	}
	if fl.Changed("source") {
		s, _ := fl.GetString("source")
		p.Source = &s
	}
	if changed == 0 {
		exitErr("update", fmt.Errorf("nothing to update"))
	}

	e := openEngine(cmd, nil)
	defer e.Close()

	mem, err := e.Update(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	mem.Embedding = nil
	output(cmd, mem)
}
