package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Retrieve memories relevant to a query",
		Long: "Rank memories by a blend of semantic similarity, keyword relevance, confidence, " +
			"importance and recency. Searching does not count as use; see the use command.",
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from retrieval.limit)")
	cmd.Flags().Float64("min-confidence", 0, "Confidence floor (default from retrieval.min_confidence)")
	cmd.Flags().Float64("min-score", 0, "Composite score floor (default from retrieval.min_score)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	results, err := e.Retrieve(cmd.Context(), queryFromFlags(cmd, e.NewQuery(owner(), strings.Join(args, " "))))
	if err != nil {
		exitErr("search", err)
	}
	if results == nil {
		results = []retrieve.Result{}
	}
	for _, r := range results {
		r.Entry.Embedding = nil
	}
	output(cmd, results)
}

// queryFromFlags applies the retrieval flags that were set on cmd.
func queryFromFlags(cmd *cobra.Command, q retrieve.Query) retrieve.Query {
	fl := cmd.Flags()
	if fl.Changed("limit") {
		q.Limit, _ = fl.GetInt("limit")
	}
	if fl.Changed("min-confidence") {
		q.MinConfidence, _ = fl.GetFloat64("min-confidence")
	}
	if fl.Changed("min-score") {
		q.MinScore, _ = fl.GetFloat64("min-score")
	}
	return q
}
