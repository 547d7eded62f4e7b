package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from JSON or YAML",
		Long: "Import memories (file or stdin) in the format produced by export. Existing ids are skipped; " +
			"memories without an embedding are embedded when a provider is configured.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	in, format := cmd.InOrStdin(), formatFlag
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open", err)
		}
		defer f.Close()
		in = f
		if !cmd.Flags().Changed("format") {
			format = formatFromExt(args[0])
		}
	}

	data, err := io.ReadAll(in)
	if err != nil {
		exitErr("read input", err)
	}
	memories, err := decodeEntries(data, format)
	if err != nil {
		exitErr("parse", err)
	}

	e := openEngine(cmd, nil)
	defer e.Close()

	imported, err := e.Import(cmd.Context(), memories)
	if err != nil {
		exitErr("import", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, len(memories)-imported)
}

func formatFromExt(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

func decodeEntries(data []byte, format string) ([]model.Entry, error) {
	var memories []model.Entry
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &memories); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &memories); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return memories, nil
}
