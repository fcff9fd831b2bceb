package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/alerting"
	"tickwatch/internal/config"
	"tickwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// backends bundles the state backend selected by configuration. The postgres
// member is nil unless the postgres backend is active; it is the only backend
// that can serve tick and alert history.
type backends struct {
	kv       storage.KV
	postgres *storage.PostgresStore
	closer   func()
}

func (b *backends) close() {
	if b != nil && b.closer != nil {
		b.closer()
	}
}

func (a *App) openBackends(ctx context.Context) (*backends, error) {
	switch a.Config.Storage.Backend {
	case "memory":
		return &backends{kv: storage.NewMemoryKV()}, nil

	case "redis":
		kv, err := storage.NewRedisKV(ctx, a.Config.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return &backends{kv: kv, closer: func() { kv.Close() }}, nil

	case "postgres":
		pool, err := storage.NewPool(ctx, a.Config.Storage.Database)
		if err != nil {
			return nil, err
		}
		store := storage.NewPostgresStore(pool)
		return &backends{kv: store, postgres: store, closer: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", a.Config.Storage.Backend)
	}
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	cfg := a.Config.Alerting

	var channels []alerting.Notifier
	for _, name := range cfg.Channels {
		switch name {
		case "log":
			channels = append(channels, alerting.NewLogNotifier(a.Logger))
		case "telegram":
			if !cfg.Telegram.Enabled {
				continue
			}
			channels = append(channels, alerting.NewTelegramNotifier(
				cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger))
		case "webhook":
			if !cfg.Webhook.Enabled {
				continue
			}
			channels = append(channels, alerting.NewWebhookNotifier(
				cfg.Webhook.URL, cfg.Webhook.Timeout, a.Logger))
		default:
			return nil, fmt.Errorf("unknown alerting channel %q", name)
		}
	}

	if len(channels) == 0 {
		return nil, nil
	}
	if len(channels) == 1 {
		return channels[0], nil
	}
	return alerting.NewMultiNotifier(channels...), nil
}

func (a *App) evaluatorOptions() alerting.EvaluatorOptions {
	cfg := a.Config.Alerting
	return alerting.EvaluatorOptions{
		ThresholdPct: decimal.NewFromFloat(cfg.ThresholdPct),
		DedupWindow:  cfg.DedupWindow,
		Quiet: alerting.QuietHours{
			Start:    cfg.QuietStart,
			End:      cfg.QuietEnd,
			Location: a.Config.QuietLocation(),
		},
	}
}

// ExportOptions hold parameters for exporting historical ticks.
type ExportOptions struct {
	Instrument string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Instrument string
	Limit      int
	Alerts     bool
}

// BaselineOptions configure the baseline command.
type BaselineOptions struct {
	Instrument string
	Clear      bool
}
