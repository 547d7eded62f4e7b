package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memengine/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run one decay and archive pass",
		Long: "Lower the confidence of memories not accessed recently, then archive decayed memories " +
			"below the archive threshold. Without --owner every owner is processed.",
		Run: runDecay,
	}

	cmd.Flags().Int("threshold-days", 30, "Days without access before a memory decays")
	cmd.Flags().Float64("amount", 0.05, "Confidence removed per pass")
	cmd.Flags().Float64("archive-threshold", 0.15, "Archive memories at or below this confidence")
	cmd.Flags().Int("grace-days", 7, "Never archive memories younger than this")

	v.BindPFlag(config.KeyDecayThresholdDays, cmd.Flags().Lookup("threshold-days"))
	v.BindPFlag(config.KeyDecayAmount, cmd.Flags().Lookup("amount"))
	v.BindPFlag(config.KeyDecayArchiveAt, cmd.Flags().Lookup("archive-threshold"))
	v.BindPFlag(config.KeyDecayGraceDays, cmd.Flags().Lookup("grace-days"))

	RootCmd.AddCommand(cmd)
}

func runDecay(cmd *cobra.Command, args []string) {
	e := openEngine(cmd, nil)
	defer e.Close()

	p := e.DecayDefaults()
	p.Owner = v.GetString(keyOwner)
	res, err := e.RunDecay(cmd.Context(), p)
	if err != nil {
		exitErr("decay", err)
	}
	output(cmd, res)
}
