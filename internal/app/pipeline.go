package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/alerting"
	"tickwatch/internal/feed"
	"tickwatch/internal/storage"
	"tickwatch/internal/telemetry"
)

// pipeline turns feed observations into persisted samples, alert decisions,
// and deliveries. Decisions are made synchronously in arrival order; delivery
// is fire-and-forget so a slow channel cannot stall the stream.
type pipeline struct {
	ctx          context.Context
	evaluator    *alerting.Evaluator
	notifier     alerting.Notifier
	ticks        storage.TickSampleStore
	alerts       storage.AlertStore
	thresholdPct decimal.Decimal
	sink         *telemetry.Sink
	logger       zerolog.Logger
}

func (p *pipeline) handle(obs feed.Observation) {
	if p.ticks != nil {
		sample := storage.TickSample{
			Instrument: obs.Instrument,
			Price:      obs.Price,
			ObservedAt: obs.ObservedAt,
		}
		if err := p.ticks.InsertTick(p.ctx, sample); err != nil {
			p.logger.Warn().Err(err).Str("instrument", obs.Instrument).Msg("tick persistence failed")
		}
	}

	if p.evaluator == nil {
		return
	}

	result, err := p.evaluator.Evaluate(p.ctx, obs.Instrument, obs.Price, obs.ObservedAt)
	if err != nil {
		p.logger.Warn().Err(err).Str("instrument", obs.Instrument).Msg("evaluation failed")
		return
	}

	p.publishDecision(obs, result)

	if result.Action != alerting.ActionFired {
		return
	}

	record := storage.AlertRecord{
		Instrument:    obs.Instrument,
		Direction:     result.Direction,
		DeltaPct:      result.DeltaPct,
		ThresholdPct:  p.thresholdPct,
		Price:         result.Price,
		PriorBaseline: result.PriorBaseline,
		FiredAt:       obs.ObservedAt,
	}
	if p.alerts != nil {
		if _, err := p.alerts.InsertAlert(p.ctx, record); err != nil {
			p.logger.Warn().Err(err).Str("instrument", obs.Instrument).Msg("alert audit insert failed")
		}
	}

	if p.notifier == nil {
		return
	}
	note := alerting.Notification{
		Instrument:    obs.Instrument,
		Direction:     result.Direction,
		Price:         result.Price,
		PriorBaseline: result.PriorBaseline,
		DeltaPct:      result.DeltaPct,
		DeltaUSD:      result.DeltaUSD,
		At:            obs.ObservedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.notifier.Notify(ctx, note); err != nil {
			p.logger.Warn().Err(err).Str("instrument", note.Instrument).Msg("alert delivery failed")
		}
	}()
}

func (p *pipeline) publishDecision(obs feed.Observation, result alerting.Result) {
	message := result.Action.String()
	if result.Reason != "" {
		message = fmt.Sprintf("%s (%s)", message, result.Reason)
	}
	p.sink.Publish(telemetry.Event{
		At:         obs.ObservedAt,
		Kind:       telemetry.KindAlertDecision,
		Instrument: obs.Instrument,
		Message:    message,
	})

	event := p.logger.Debug()
	if result.Action == alerting.ActionFired {
		event = p.logger.Info()
	}
	event.Str("instrument", obs.Instrument).
		Str("action", result.Action.String()).
		Str("reason", result.Reason).
		Str("price", obs.Price.String()).
		Str("delta_pct", result.DeltaPct.StringFixed(4)).
		Msg("observation evaluated")
}
