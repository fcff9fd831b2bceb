package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries the context of a fired alert.
type Notification struct {
	Instrument    string
	Direction     string
	Price         decimal.Decimal
	PriorBaseline decimal.Decimal
	DeltaPct      decimal.Decimal
	DeltaUSD      decimal.Decimal
	At            time.Time
}

// Notifier delivers alert notifications. Delivery is at-most-effort: callers
// log failures but do not retry, and suppression bookkeeping happens before
// delivery is attempted.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

func renderMessage(note Notification) string {
	sign := ""
	if note.DeltaUSD.Sign() >= 0 {
		sign = "+"
	}
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s %s%% (Δ %s$%s)\n",
		note.Instrument, note.Direction, note.DeltaPct.StringFixed(2), sign, note.DeltaUSD.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Price: $%s\n", note.Price.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Prior baseline: $%s\n", note.PriorBaseline.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Time: %s", note.At.UTC().Format(time.RFC3339)))
	return builder.String()
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("instrument", note.Instrument).
		Str("direction", note.Direction).
		Msg("alert delivered (telegram)")
	return nil
}

// WebhookNotifier posts the rendered message as JSON to a relay endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a generic webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify posts {"message": "..."} to the configured URL.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{"message": renderMessage(note)})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook unexpected status: %d", resp.StatusCode)
	}

	n.logger.Info().Str("instrument", note.Instrument).
		Str("direction", note.Direction).
		Msg("alert delivered (webhook)")
	return nil
}

// LogNotifier writes the alert to the structured log. It backs the default
// channel so a bare configuration still surfaces fired alerts somewhere.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify emits the alert as a structured log line.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info().
		Str("instrument", note.Instrument).
		Str("direction", note.Direction).
		Str("delta_pct", note.DeltaPct.StringFixed(2)).
		Str("price", note.Price.StringFixed(2)).
		Str("prior_baseline", note.PriorBaseline.StringFixed(2)).
		Time("at", note.At).
		Msg("alert fired")
	return nil
}

// MultiNotifier fans a notification out to several channels concurrently.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier combines notifiers into one.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify delivers to every channel and joins the failures.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(m.notifiers))

	for _, n := range m.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Notify(ctx, note); err != nil {
				errChan <- err
			}
		}(n)
	}

	wg.Wait()
	close(errChan)

	var errs []string
	for err := range errChan {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)
