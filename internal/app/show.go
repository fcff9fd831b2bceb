package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent ticks, or recent alerts with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Instrument == "" {
		opts.Instrument = a.Config.Feed.Instruments[0]
	}

	backends, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer backends.close()
	if backends.postgres == nil {
		return errors.New("tick history requires the postgres backend")
	}

	if opts.Alerts {
		return a.showAlerts(ctx, backends, opts.Limit)
	}
	return a.showTicks(ctx, backends, opts.Instrument, opts.Limit)
}

func (a *App) showTicks(ctx context.Context, backends *backends, instrument string, limit int) error {
	ticks, err := backends.postgres.ListRecentTicks(ctx, instrument, limit)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		fmt.Fprintln(os.Stdout, "no ticks found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tInstrument\tPrice")
	for _, tick := range ticks {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			tick.ObservedAt.UTC().Format(time.RFC3339),
			tick.Instrument,
			formatDecimal(tick.Price, 2),
		)
	}
	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, backends *backends, limit int) error {
	alerts, err := backends.postgres.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tInstrument\tDirection\tDelta%\tPrice\tPrior baseline")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.FiredAt.UTC().Format(time.RFC3339),
			alert.Instrument,
			alert.Direction,
			formatDecimal(alert.DeltaPct, 2),
			formatDecimal(alert.Price, 2),
			formatDecimal(alert.PriorBaseline, 2),
		)
	}
	return writer.Flush()
}
