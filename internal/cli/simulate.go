package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateInstrument string
	simulatePrice      float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one synthetic observation through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), simulateInstrument, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInstrument, "instrument", "", "Instrument pair (defaults to the first configured)")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Observed price to evaluate against the stored baseline")
}
