package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().String("type", "fact", "Type: fact, preference, pattern, relationship, goal, correction, document, conversation")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Float64("importance", 0.5, "Importance in [0,1]")
	cmd.Flags().Float64("confidence", 1.0, "Confidence in [0,1]")
	cmd.Flags().String("source", "", "Where the memory came from")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	importance, _ := cmd.Flags().GetFloat64("importance")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")

	content := readContent(cmd, args)
	if content == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	e := openEngine(cmd, nil)
	defer e.Close()

	mem, err := e.Create(cmd.Context(), store.CreateParams{
		Owner:      owner(),
		Content:    content,
		Type:       typ,
		Tags:       splitTags(tagsStr),
		Importance: &importance,
		Confidence: &confidence,
		Source:     source,
	})
	if err != nil {
		exitErr("put", err)
	}
	mem.Embedding = nil
	output(cmd, mem)
}

// readContent joins positional args, falling back to piped stdin.
func readContent(cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " "))
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return ""
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		exitErr("read stdin", err)
	}
	return strings.TrimSpace(string(b))
}
