package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"tickwatch/internal/storage"
)

// Baseline shows or clears the stored baseline for one instrument.
func (a *App) Baseline(ctx context.Context, opts BaselineOptions) error {
	if opts.Instrument == "" {
		opts.Instrument = a.Config.Feed.Instruments[0]
	}

	backends, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer backends.close()

	state := storage.NewStateStore(backends.kv)

	if opts.Clear {
		if err := state.ClearBaseline(ctx, opts.Instrument); err != nil {
			return err
		}
		a.Logger.Info().Str("instrument", opts.Instrument).Msg("baseline cleared; next observation reinitializes it")
		return nil
	}

	baseline, err := state.LoadBaseline(ctx, opts.Instrument)
	if err != nil {
		return err
	}
	if baseline == nil {
		fmt.Fprintf(os.Stdout, "%s: no baseline stored\n", opts.Instrument)
		return nil
	}
	fmt.Fprintf(os.Stdout, "%s: baseline $%s set at %s\n",
		opts.Instrument,
		formatDecimal(baseline.Price, 2),
		baseline.SetAt.UTC().Format(time.RFC3339),
	)
	return nil
}
