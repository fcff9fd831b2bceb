package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := kv.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok || string(value) != "v1" {
		t.Fatalf("get after set: value=%q ok=%v err=%v", value, ok, err)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestStateStoreBaselineLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(NewMemoryKV())

	baseline, err := store.LoadBaseline(ctx, "XBT/USD")
	if err != nil {
		t.Fatalf("load absent baseline: %v", err)
	}
	if baseline != nil {
		t.Fatal("expected absent baseline")
	}

	setAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := Baseline{Price: decimal.RequireFromString("50000"), SetAt: setAt}
	if err := store.SaveBaseline(ctx, "XBT/USD", want); err != nil {
		t.Fatalf("save baseline: %v", err)
	}

	baseline, err = store.LoadBaseline(ctx, "XBT/USD")
	if err != nil {
		t.Fatalf("load baseline: %v", err)
	}
	if baseline == nil || !baseline.Price.Equal(want.Price) || !baseline.SetAt.Equal(setAt) {
		t.Fatalf("baseline mismatch: %+v", baseline)
	}

	if err := store.ClearBaseline(ctx, "XBT/USD"); err != nil {
		t.Fatalf("clear baseline: %v", err)
	}
	if baseline, _ = store.LoadBaseline(ctx, "XBT/USD"); baseline != nil {
		t.Fatal("baseline should be absent after clear")
	}
}

func TestStateStoreCorruptBaselineTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := NewStateStore(kv)

	cases := map[string][]byte{
		"garbage":    []byte("{not json"),
		"zero price": []byte(`{"price":"0","set_at":"2025-06-01T00:00:00Z"}`),
		"negative":   []byte(`{"price":"-5","set_at":"2025-06-01T00:00:00Z"}`),
	}
	for name, raw := range cases {
		if err := kv.Set(ctx, BaselineKey("XBT/USD"), raw); err != nil {
			t.Fatalf("%s: seed: %v", name, err)
		}
		baseline, err := store.LoadBaseline(ctx, "XBT/USD")
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if baseline != nil {
			t.Fatalf("%s: corrupt baseline should read back absent, got %+v", name, baseline)
		}
	}
}

func TestStateStoreLastAlert(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(NewMemoryKV())

	at, err := store.LastAlertAt(ctx, "XBT/USD", "up")
	if err != nil {
		t.Fatalf("load absent last alert: %v", err)
	}
	if !at.IsZero() {
		t.Fatalf("expected zero time, got %v", at)
	}

	fired := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	if err := store.SetLastAlertAt(ctx, "XBT/USD", "up", fired); err != nil {
		t.Fatalf("set last alert: %v", err)
	}

	at, err = store.LastAlertAt(ctx, "XBT/USD", "up")
	if err != nil {
		t.Fatalf("load last alert: %v", err)
	}
	if !at.Equal(fired) {
		t.Fatalf("expected %v, got %v", fired, at)
	}

	// direction is part of the key
	down, _ := store.LastAlertAt(ctx, "XBT/USD", "down")
	if !down.IsZero() {
		t.Fatal("down direction should be unset")
	}
}
