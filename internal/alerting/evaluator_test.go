package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/storage"
)

func newTestEvaluator(t *testing.T, threshold string, quiet QuietHours) (*Evaluator, *storage.StateStore) {
	t.Helper()
	state := storage.NewStateStore(storage.NewMemoryKV())
	eval := NewEvaluator(state, EvaluatorOptions{
		ThresholdPct: decimal.RequireFromString(threshold),
		DedupWindow:  3 * time.Minute,
		Quiet:        quiet,
	}, zerolog.Nop())
	return eval, state
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

// daytime is well outside the default quiet window in any configuration used here.
var daytime = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func TestEvaluateInitializesBaseline(t *testing.T) {
	ctx := context.Background()
	eval, state := newTestEvaluator(t, "1.0", QuietHours{})

	res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, "50000"), daytime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionInitialized {
		t.Fatalf("expected initialized, got %s", res.Action)
	}

	baseline, err := state.LoadBaseline(ctx, "XBT/USD")
	if err != nil || baseline == nil {
		t.Fatalf("baseline not persisted: %+v err=%v", baseline, err)
	}
	if !baseline.Price.Equal(dec(t, "50000")) || !baseline.SetAt.Equal(daytime) {
		t.Fatalf("baseline mismatch: %+v", baseline)
	}

	// Same price immediately after: nothing to report.
	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "50000"), daytime.Add(time.Second))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionNoChange {
		t.Fatalf("expected no_change, got %s", res.Action)
	}
}

func TestEvaluateThresholdBoundaryInclusive(t *testing.T) {
	ctx := context.Background()

	eval, _ := newTestEvaluator(t, "1.0", QuietHours{})
	mustInit(t, eval, "XBT/USD", "100")

	res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, "101"), daytime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionFired {
		t.Fatalf("exactly +1.00%% must fire, got %s", res.Action)
	}
	if res.Direction != DirectionUp {
		t.Fatalf("expected up, got %s", res.Direction)
	}
	if !res.DeltaPct.Equal(dec(t, "1")) {
		t.Fatalf("expected delta 1%%, got %s", res.DeltaPct)
	}

	eval, _ = newTestEvaluator(t, "1.0", QuietHours{})
	mustInit(t, eval, "XBT/USD", "100")
	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "100.99"), daytime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionNoChange {
		t.Fatalf("+0.99%% must not fire, got %s", res.Action)
	}
}

func TestEvaluateZeroThresholdFiresOnAnyNonzeroDelta(t *testing.T) {
	ctx := context.Background()
	eval, _ := newTestEvaluator(t, "0", QuietHours{})
	mustInit(t, eval, "XBT/USD", "100")

	res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, "100"), daytime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionNoChange {
		t.Fatalf("zero delta cannot fire, got %s", res.Action)
	}

	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "100.01"), daytime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionFired || res.Direction != DirectionUp {
		t.Fatalf("tiny delta must fire with zero threshold, got %s/%s", res.Action, res.Direction)
	}
}

func TestEvaluateDedupSuppression(t *testing.T) {
	ctx := context.Background()
	eval, state := newTestEvaluator(t, "1.0", QuietHours{})
	mustInit(t, eval, "XBT/USD", "100")

	t0 := daytime

	res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, "102"), t0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionFired {
		t.Fatalf("first crossing must fire, got %s", res.Action)
	}

	// Crossing again in the same direction, inside the window: suppressed and
	// the baseline stays at 102.
	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "103.1"), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionSuppressed || res.Reason != ReasonDedup {
		t.Fatalf("expected suppressed/dedup, got %s/%s", res.Action, res.Reason)
	}
	baseline, _ := state.LoadBaseline(ctx, "XBT/USD")
	if !baseline.Price.Equal(dec(t, "102")) {
		t.Fatalf("dedup must not roll the baseline, got %s", baseline.Price)
	}

	// Past the window: fires again.
	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "104.2"), t0.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionFired {
		t.Fatalf("crossing after window must fire, got %s", res.Action)
	}
}

func TestEvaluateQuietHoursRollsBaseline(t *testing.T) {
	ctx := context.Background()
	quiet := QuietHours{Start: 23, End: 7, Location: time.UTC}
	eval, state := newTestEvaluator(t, "1.0", quiet)
	mustInit(t, eval, "XBT/USD", "100")

	inQuiet := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)

	res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, "102"), inQuiet)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionSuppressed || res.Reason != ReasonQuietHours {
		t.Fatalf("expected suppressed/quiet-hours, got %s/%s", res.Action, res.Reason)
	}

	baseline, _ := state.LoadBaseline(ctx, "XBT/USD")
	if !baseline.Price.Equal(dec(t, "102")) {
		t.Fatalf("quiet hours must roll the baseline, got %s", baseline.Price)
	}

	// Same price after the window: no re-trigger.
	after := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "102"), after)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionNoChange {
		t.Fatalf("expected no_change after quiet roll, got %s", res.Action)
	}

	// The dedup record was not touched during quiet hours, so a fresh
	// crossing fires immediately.
	res, err = eval.Evaluate(ctx, "XBT/USD", dec(t, "104"), after.Add(time.Minute))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionFired {
		t.Fatalf("crossing after quiet hours must fire, got %s", res.Action)
	}
}

func TestEvaluateQuietHoursWraparound(t *testing.T) {
	quiet := QuietHours{Start: 23, End: 7, Location: time.UTC}

	cases := []struct {
		hour int
		in   bool
	}{
		{22, false}, {23, true}, {0, true}, {6, true}, {7, false}, {12, false},
	}
	for _, tc := range cases {
		at := time.Date(2025, 6, 2, tc.hour, 15, 0, 0, time.UTC)
		if got := quiet.Contains(at); got != tc.in {
			t.Fatalf("hour %d: expected %v, got %v", tc.hour, tc.in, got)
		}
	}

	// Degenerate window is disabled.
	disabled := QuietHours{Start: 5, End: 5, Location: time.UTC}
	if disabled.Contains(time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)) {
		t.Fatal("start==end window must be disabled")
	}
}

func TestEvaluateBaselineClearedBetweenCalls(t *testing.T) {
	ctx := context.Background()
	eval, state := newTestEvaluator(t, "1.0", QuietHours{})
	mustInit(t, eval, "XBT/USD", "100")

	if err := state.ClearBaseline(ctx, "XBT/USD"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, "250"), daytime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Action != ActionInitialized {
		t.Fatalf("cleared baseline must reinitialize, got %s", res.Action)
	}
}

func TestEvaluateEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	eval, state := newTestEvaluator(t, "1.0", QuietHours{Start: 23, End: 7, Location: time.UTC})

	t0 := daytime

	steps := []struct {
		price  string
		at     time.Time
		action Action
		reason string
		dir    string
	}{
		{"50000", t0, ActionInitialized, "", ""},
		{"50200", t0.Add(30 * time.Second), ActionNoChange, "", ""},              // +0.4%
		{"50600", t0.Add(time.Minute), ActionFired, "", DirectionUp},             // +1.2%, rolls
		{"51210", t0.Add(2 * time.Minute), ActionSuppressed, ReasonDedup, ""},    // +1.2% again, inside window
		{"49000", t0.Add(10 * time.Minute), ActionFired, "", DirectionDown},      // -3.16% vs 50600
	}

	for i, step := range steps {
		res, err := eval.Evaluate(ctx, "XBT/USD", dec(t, step.price), step.at)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Action != step.action {
			t.Fatalf("step %d (%s): expected %s, got %s", i, step.price, step.action, res.Action)
		}
		if step.reason != "" && res.Reason != step.reason {
			t.Fatalf("step %d: expected reason %s, got %s", i, step.reason, res.Reason)
		}
		if step.dir != "" && res.Direction != step.dir {
			t.Fatalf("step %d: expected direction %s, got %s", i, step.dir, res.Direction)
		}
	}

	baseline, _ := state.LoadBaseline(ctx, "XBT/USD")
	if !baseline.Price.Equal(dec(t, "49000")) {
		t.Fatalf("final baseline should be 49000, got %s", baseline.Price)
	}
}

func TestEvaluateRejectsNonPositivePrice(t *testing.T) {
	eval, _ := newTestEvaluator(t, "1.0", QuietHours{})
	if _, err := eval.Evaluate(context.Background(), "XBT/USD", dec(t, "0"), daytime); err == nil {
		t.Fatal("zero price must be rejected")
	}
	if _, err := eval.Evaluate(context.Background(), "XBT/USD", dec(t, "-1"), daytime); err == nil {
		t.Fatal("negative price must be rejected")
	}
}

func mustInit(t *testing.T, eval *Evaluator, instrument, price string) {
	t.Helper()
	res, err := eval.Evaluate(context.Background(), instrument, decimal.RequireFromString(price), daytime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("init evaluate: %v", err)
	}
	if res.Action != ActionInitialized {
		t.Fatalf("expected initialized, got %s", res.Action)
	}
}
