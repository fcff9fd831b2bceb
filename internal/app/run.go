package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/alerting"
	"tickwatch/internal/feed"
	"tickwatch/internal/storage"
	"tickwatch/internal/telemetry"
)

// Run executes the long-running watcher: one feed connection per configured
// instrument, each funnelling observations into the alert pipeline.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backends, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer backends.close()

	sink := telemetry.NewSink(a.Config.Telemetry.BufferSize)
	state := storage.NewStateStore(backends.kv)

	var evaluator *alerting.Evaluator
	var notifier alerting.Notifier
	if a.Config.Alerting.Enabled {
		evaluator = alerting.NewEvaluator(state, a.evaluatorOptions(), a.Logger)
		notifier, err = a.newNotifier()
		if err != nil {
			return err
		}
		if notifier == nil {
			a.Logger.Warn().Msg("alerting enabled but no delivery channel configured")
		}
	} else {
		a.Logger.Warn().Msg("alerting disabled; observations are recorded only")
	}

	var tickStore storage.TickSampleStore
	var alertStore storage.AlertStore
	if backends.postgres != nil {
		tickStore = backends.postgres
		alertStore = backends.postgres
	}

	pipe := &pipeline{
		ctx:          ctx,
		evaluator:    evaluator,
		notifier:     notifier,
		ticks:        tickStore,
		alerts:       alertStore,
		thresholdPct: decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		sink:         sink,
		logger:       a.Logger.With().Str("component", "pipeline").Logger(),
	}

	if a.Config.Feed.Bootstrap && evaluator != nil {
		a.seedBaselines(ctx, state, evaluator, sink)
	}

	managers := make([]*feed.Manager, 0, len(a.Config.Feed.Instruments))
	for _, instrument := range a.Config.Feed.Instruments {
		mgr := feed.NewManager(a.feedOptions(instrument, pipe.handle),
			&feed.WebsocketDialer{HandshakeTimeout: a.Config.Feed.ConnectTimeout},
			clock.New(), sink, a.Logger)
		mgr.Start()
		managers = append(managers, mgr)
	}

	go watchDegradedToggle(ctx, managers, a.Logger)

	a.Logger.Info().
		Strs("instruments", a.Config.Feed.Instruments).
		Str("backend", a.Config.Storage.Backend).
		Msg("watcher running")

	<-ctx.Done()

	for _, mgr := range managers {
		mgr.Stop()
	}
	a.Logger.Info().Msg("watcher stopped")

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) feedOptions(instrument string, onTick func(feed.Observation)) feed.Options {
	cfg := a.Config.Feed
	return feed.Options{
		URL:                  cfg.URL,
		Instrument:           instrument,
		ConnectTimeout:       cfg.ConnectTimeout,
		PingInterval:         cfg.PingInterval,
		StaleCheckInterval:   cfg.StaleCheckInterval,
		StaleAfter:           cfg.StaleAfter,
		AdaptiveStale:        cfg.AdaptiveStale,
		MinBackoff:           cfg.MinBackoff,
		MaxBackoff:           cfg.MaxBackoff,
		GrowthFactor:         cfg.GrowthFactor,
		JitterFraction:       cfg.JitterFraction,
		FailureCooldown:      cfg.FailureCooldown,
		FailureCooldownAfter: cfg.FailureCooldownAfter,
		MinSendSpacing:       cfg.MinSendSpacing,
		DailyReconnectCap:    cfg.DailyReconnectCap,
		DegradedMultiplier:   cfg.DegradedMultiplier,
		OnTick:               onTick,
	}
}

// seedBaselines fetches a REST snapshot for every instrument that has no
// stored baseline yet, so alerting can start before the first streamed tick.
func (a *App) seedBaselines(ctx context.Context, state *storage.StateStore, evaluator *alerting.Evaluator, sink *telemetry.Sink) {
	bootstrapper := feed.NewBootstrapper(a.Config.Feed.RESTEndpoint, a.Config.Feed.RequestTimeout, a.Logger)

	for _, instrument := range a.Config.Feed.Instruments {
		baseline, err := state.LoadBaseline(ctx, instrument)
		if err != nil {
			a.Logger.Warn().Err(err).Str("instrument", instrument).Msg("baseline lookup failed, skipping bootstrap")
			continue
		}
		if baseline != nil {
			continue
		}

		seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		price, err := bootstrapper.Snapshot(seedCtx, instrument)
		cancel()
		if err != nil {
			a.Logger.Warn().Err(err).Str("instrument", instrument).Msg("bootstrap snapshot failed; baseline will come from the stream")
			continue
		}

		if _, err := evaluator.Evaluate(ctx, instrument, price, time.Now()); err != nil {
			a.Logger.Warn().Err(err).Str("instrument", instrument).Msg("bootstrap evaluation failed")
			continue
		}
		sink.Publish(telemetry.Event{
			At:         time.Now(),
			Kind:       telemetry.KindBootstrap,
			Instrument: instrument,
			Message:    price.String(),
		})
		a.Logger.Info().Str("instrument", instrument).Str("price", price.String()).Msg("baseline seeded from snapshot")
	}
}

// watchDegradedToggle flips degraded mode on every manager when SIGUSR1
// arrives. Operators use it to stretch reconnect pacing on constrained hosts.
func watchDegradedToggle(ctx context.Context, managers []*feed.Manager, logger zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	degraded := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			degraded = !degraded
			for _, mgr := range managers {
				mgr.SetDegraded(degraded)
			}
			logger.Info().Bool("degraded", degraded).Msg("degraded mode toggled")
		}
	}
}
