package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/consolidate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "dupes",
		Short: "Find near-duplicate memories",
		Long:  "List pairs of recent memories with similar embeddings, most similar first. Nothing is merged or archived.",
		Run:   runDupes,
	}

	cmd.Flags().Float64("min-similarity", 0.85, "Minimum cosine similarity")
	cmd.Flags().IntP("limit", "l", 20, "Max pairs (0 for all)")
	cmd.Flags().Int("lookback-days", 90, "Only consider memories created within this many days")

	v.BindPFlag(config.KeyConsolidateMinSim, cmd.Flags().Lookup("min-similarity"))
	v.BindPFlag(config.KeyConsolidateLimit, cmd.Flags().Lookup("limit"))
	v.BindPFlag(config.KeyConsolidateLookback, cmd.Flags().Lookup("lookback-days"))

	RootCmd.AddCommand(cmd)
}

func runDupes(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	pairs, err := e.FindDuplicates(cmd.Context(), owner(), e.DuplicateDefaults())
	if err != nil {
		exitErr("dupes", err)
	}
	if pairs == nil {
		pairs = []consolidate.Pair{}
	}
	for _, p := range pairs {
		p.A.Embedding, p.B.Embedding = nil, nil
	}
	output(cmd, pairs)
}
