package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultRESTEndpoint is the public spot ticker endpoint used to seed a
// baseline before the stream delivers its first tick.
const DefaultRESTEndpoint = "https://api.kraken.com/0/public/Ticker"

// Bootstrapper fetches a one-shot snapshot price over REST.
type Bootstrapper struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewBootstrapper constructs a snapshot fetcher. An empty endpoint selects
// the public default.
func NewBootstrapper(endpoint string, timeout time.Duration, logger zerolog.Logger) *Bootstrapper {
	if endpoint == "" {
		endpoint = DefaultRESTEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bootstrapper{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "bootstrap").Logger(),
	}
}

type tickerResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// Snapshot fetches the current price for one pair, retrying transient
// failures with exponential backoff until ctx is cancelled.
func (b *Bootstrapper) Snapshot(ctx context.Context, pair string) (decimal.Decimal, error) {
	var price decimal.Decimal

	operation := func() error {
		p, err := b.fetch(ctx, pair)
		if err != nil {
			b.logger.Warn().Err(err).Str("pair", pair).Msg("snapshot fetch failed, will retry")
			return err
		}
		price = p
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return decimal.Decimal{}, fmt.Errorf("bootstrap %s: %w", pair, err)
	}
	return price, nil
}

func (b *Bootstrapper) fetch(ctx context.Context, pair string) (decimal.Decimal, error) {
	endpoint := b.endpoint + "?pair=" + url.QueryEscape(pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, backoff.Permanent(err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return decimal.Decimal{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(payload.Error) > 0 {
		return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("api error: %s", strings.Join(payload.Error, "; ")))
	}

	// The result key is the upstream's canonical pair name, which may differ
	// from the requested one; take the first entry.
	for _, raw := range payload.Result {
		var ticker tickerPayload
		if err := json.Unmarshal(raw, &ticker); err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode ticker payload: %w", err)
		}
		price, ok := lastPrice(ticker)
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("no usable price for %s", pair)
		}
		return price, nil
	}
	return decimal.Decimal{}, backoff.Permanent(fmt.Errorf("pair %s not in response", pair))
}
