package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tickwatch/internal/app"
)

var (
	showInstrument string
	showLimit      int
	showAlerts     bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent ticks or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Instrument: showInstrument,
			Limit:      showLimit,
			Alerts:     showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showInstrument, "instrument", "", "Instrument pair (defaults to the first configured)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show fired alerts instead of ticks")
}
