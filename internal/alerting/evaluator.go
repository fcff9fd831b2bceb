package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/storage"
)

// Action classifies the outcome of evaluating one price observation.
type Action int

const (
	// ActionInitialized: no baseline existed; one was created from the observation.
	ActionInitialized Action = iota
	// ActionNoChange: delta below threshold, baseline untouched.
	ActionNoChange
	// ActionSuppressed: threshold crossed but no notification (see Result.Reason).
	ActionSuppressed
	// ActionFired: threshold crossed, notification due, baseline rolled.
	ActionFired
)

func (a Action) String() string {
	switch a {
	case ActionInitialized:
		return "initialized"
	case ActionNoChange:
		return "no_change"
	case ActionSuppressed:
		return "suppressed"
	case ActionFired:
		return "fired"
	default:
		return "unknown"
	}
}

// Suppression reasons.
const (
	ReasonQuietHours = "quiet-hours"
	ReasonDedup      = "dedup"
)

// Directions of a threshold crossing.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Result describes the decision for one observation.
type Result struct {
	Action        Action
	Reason        string
	Direction     string
	DeltaPct      decimal.Decimal
	DeltaUSD      decimal.Decimal
	Price         decimal.Decimal
	PriorBaseline decimal.Decimal
}

// QuietHours is a local-time window during which alerts are suppressed but
// the baseline still rolls. Start == End disables the window.
type QuietHours struct {
	Start    int
	End      int
	Location *time.Location
}

// Contains reports whether t falls inside the window, handling windows that
// wrap across midnight (start > end).
func (q QuietHours) Contains(t time.Time) bool {
	if q.Start == q.End {
		return false
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	if q.Start > q.End {
		return h >= q.Start || h < q.End
	}
	return h >= q.Start && h < q.End
}

// EvaluatorOptions tune the decision policy.
type EvaluatorOptions struct {
	ThresholdPct decimal.Decimal
	DedupWindow  time.Duration
	Quiet        QuietHours
}

// Evaluator decides, per observation, whether the accumulated change against
// the stored baseline warrants a notification, and maintains the rolling
// baseline. It performs no I/O beyond the state store.
type Evaluator struct {
	state  *storage.StateStore
	opts   EvaluatorOptions
	logger zerolog.Logger
}

// NewEvaluator constructs an evaluator over a state store.
func NewEvaluator(state *storage.StateStore, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		state:  state,
		opts:   opts,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

var errNonPositivePrice = errors.New("alerting: observation price must be positive")

// Evaluate runs the baseline decision for one observation. The per-instrument
// lock serializes load-decide-store against concurrent evaluators sharing the
// same instrument.
func (e *Evaluator) Evaluate(ctx context.Context, instrument string, price decimal.Decimal, now time.Time) (Result, error) {
	if price.Sign() <= 0 {
		return Result{}, errNonPositivePrice
	}

	e.state.Lock(instrument)
	defer e.state.Unlock(instrument)

	baseline, err := e.state.LoadBaseline(ctx, instrument)
	if err != nil {
		return Result{}, err
	}
	if baseline == nil {
		// First observation, or the stored value was cleared/corrupt.
		// Nothing to compare against yet.
		if err := e.state.SaveBaseline(ctx, instrument, storage.Baseline{Price: price, SetAt: now}); err != nil {
			return Result{}, err
		}
		e.logger.Info().Str("instrument", instrument).Str("price", price.String()).Msg("baseline initialized")
		return Result{Action: ActionInitialized, Price: price}, nil
	}

	deltaUSD := price.Sub(baseline.Price)
	deltaPct := deltaUSD.Div(baseline.Price).Mul(decimal.NewFromInt(100))

	result := Result{
		DeltaPct:      deltaPct,
		DeltaUSD:      deltaUSD,
		Price:         price,
		PriorBaseline: baseline.Price,
	}

	if deltaPct.IsZero() || deltaPct.Abs().LessThan(e.opts.ThresholdPct) {
		result.Action = ActionNoChange
		return result, nil
	}

	if deltaPct.Sign() > 0 {
		result.Direction = DirectionUp
	} else {
		result.Direction = DirectionDown
	}

	if e.opts.Quiet.Contains(now) {
		// Roll anyway so quiet-hours moves don't all re-trigger the moment
		// the window ends. The dedup record is left untouched.
		if err := e.state.SaveBaseline(ctx, instrument, storage.Baseline{Price: price, SetAt: now}); err != nil {
			return Result{}, err
		}
		result.Action = ActionSuppressed
		result.Reason = ReasonQuietHours
		return result, nil
	}

	lastFired, err := e.state.LastAlertAt(ctx, instrument, result.Direction)
	if err != nil {
		return Result{}, err
	}
	if !lastFired.IsZero() && now.Sub(lastFired) < e.opts.DedupWindow {
		// Baseline is NOT rolled here: repeated small crossings in the same
		// direction inside the window must not each reset the comparison point.
		result.Action = ActionSuppressed
		result.Reason = ReasonDedup
		return result, nil
	}

	// The alert counts for dedup regardless of whether delivery later succeeds.
	if err := e.state.SetLastAlertAt(ctx, instrument, result.Direction, now); err != nil {
		return Result{}, err
	}
	if err := e.state.SaveBaseline(ctx, instrument, storage.Baseline{Price: price, SetAt: now}); err != nil {
		return Result{}, err
	}

	result.Action = ActionFired
	return result, nil
}
