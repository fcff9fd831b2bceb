package cli

import (
	"github.com/spf13/cobra"

	"tickwatch/internal/app"
)

var (
	baselineInstrument string
	baselineClear      bool
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Show or clear the stored alert baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BaselineOptions{
			Instrument: baselineInstrument,
			Clear:      baselineClear,
		}
		return getApp().Baseline(cmd.Context(), opts)
	},
}

func init() {
	baselineCmd.Flags().StringVar(&baselineInstrument, "instrument", "", "Instrument pair (defaults to the first configured)")
	baselineCmd.Flags().BoolVar(&baselineClear, "clear", false, "Clear the stored baseline")
}
