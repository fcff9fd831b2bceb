package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"tickwatch/internal/alerting"
	"tickwatch/internal/storage"
)

// SimulateAlert runs one synthetic observation through the full decision and
// delivery path. It exercises the stored baseline and the configured
// channels exactly as the live pipeline would.
func (a *App) SimulateAlert(ctx context.Context, instrument string, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled in configuration")
	}
	if instrument == "" {
		instrument = a.Config.Feed.Instruments[0]
	}

	backends, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer backends.close()

	state := storage.NewStateStore(backends.kv)
	evaluator := alerting.NewEvaluator(state, a.evaluatorOptions(), a.Logger)

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("no alerting channel configured")
	}

	now := time.Now()
	result, err := evaluator.Evaluate(ctx, instrument, price, now)
	if err != nil {
		return err
	}

	switch result.Action {
	case alerting.ActionFired:
		note := alerting.Notification{
			Instrument:    instrument,
			Direction:     result.Direction,
			Price:         result.Price,
			PriorBaseline: result.PriorBaseline,
			DeltaPct:      result.DeltaPct,
			DeltaUSD:      result.DeltaUSD,
			At:            now,
		}
		if err := notifier.Notify(ctx, note); err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}
		fmt.Fprintf(os.Stdout, "alert fired and delivered: %s %s %s%%\n",
			instrument, result.Direction, formatDecimal(result.DeltaPct, 2))
	case alerting.ActionSuppressed:
		fmt.Fprintf(os.Stdout, "alert suppressed (%s)\n", result.Reason)
	case alerting.ActionInitialized:
		fmt.Fprintf(os.Stdout, "no baseline existed; initialized at $%s\n", formatDecimal(price, 2))
	default:
		fmt.Fprintf(os.Stdout, "no change: delta %s%% below threshold\n", formatDecimal(result.DeltaPct, 2))
	}
	return nil
}
