// Package cli implements the memengine CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/engine"
	"github.com/rcliao/memengine/internal/logging"
	"github.com/rcliao/memengine/internal/metrics"
)

const keyOwner = "owner"

var (
	v          = config.New()
	cfgFile    string
	formatFlag string

	cfg    *config.Config
	logger = zap.NewNop()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memengine",
	Short: "Long-term memory for assistants",
	Long: "A memory engine for assistants: hybrid vector and keyword retrieval, " +
		"reinforcement on use, decay and archive of stale memories. SQLite-backed, single binary.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := loadConfig(); err != nil {
			exitErr("config", err)
		}
	},
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "Config file (default: ~/.memengine/config.yaml)")
	pf.StringVarP(&formatFlag, "format", "f", "json", "Output format: json or yaml")
	pf.StringP("db", "d", "", "Database path (default: $MEMENGINE_DB or ~/.memengine/memory.db)")
	pf.StringP("owner", "o", "", "Owner id (default: $MEMENGINE_OWNER)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("embed-provider", "", "Embedding provider: ollama, openai or empty for keyword-only")
	pf.String("embed-model", "", "Embedding model")

	v.BindPFlag(config.KeyDBPath, pf.Lookup("db"))
	v.BindPFlag(keyOwner, pf.Lookup("owner"))
	v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	v.BindPFlag(config.KeyEmbedProvider, pf.Lookup("embed-provider"))
	v.BindPFlag(config.KeyEmbedModel, pf.Lookup("embed-model"))
}

func loadConfig() error {
	path, explicit := cfgFile, cfgFile != ""
	if !explicit {
		if env := os.Getenv(config.EnvPrefix + "_CONFIG"); env != "" {
			path, explicit = env, true
		} else if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".memengine", "config.yaml")
		}
	}
	if err := config.ReadFile(v, path, explicit); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = c
	logger = logging.New(cfg.Log)
	return nil
}

// openEngine opens the engine for one command. m may be nil.
func openEngine(cmd *cobra.Command, m *metrics.Collector) *engine.Engine {
	e, err := engine.Open(cmd.Context(), cfg, engine.WithLogger(logger), engine.WithMetrics(m))
	if err != nil {
		exitErr("open engine", err)
	}
	return e
}

func owner() string {
	o := strings.TrimSpace(v.GetString(keyOwner))
	if o == "" {
		exitErr("owner", fmt.Errorf("--owner or $%s_OWNER is required", config.EnvPrefix))
	}
	return o
}

// output writes val in the selected format.
func output(cmd *cobra.Command, val interface{}) {
	if err := encode(cmd.OutOrStdout(), formatFlag, val); err != nil {
		exitErr("write output", err)
	}
}

func encode(w io.Writer, format string, val interface{}) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(val); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	default:
		return fmt.Errorf("unknown format %q (valid: json, yaml)", format)
	}
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func exitErr(msg string, err error) {
	logger.Sync()
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
