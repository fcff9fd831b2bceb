package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Baseline is the reference price percentage change is measured against.
type Baseline struct {
	Price decimal.Decimal `json:"price"`
	SetAt time.Time       `json:"set_at"`
}

// BaselineKey returns the KV key holding the baseline for an instrument.
func BaselineKey(instrument string) string {
	return "baseline:" + instrument
}

// LastAlertKey returns the KV key holding the last-fired timestamp for an
// (instrument, direction) pair.
func LastAlertKey(instrument, direction string) string {
	return fmt.Sprintf("lastAlert:%s:%s", instrument, direction)
}

// StateStore layers typed baseline and alert-suppression state over a KV
// backend. Read-modify-write of one instrument's state must be serialized by
// the caller via Lock/Unlock when several evaluators share an instrument.
type StateStore struct {
	kv KV

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStateStore wraps a KV backend.
func NewStateStore(kv KV) *StateStore {
	return &StateStore{kv: kv, locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the per-instrument mutex.
func (s *StateStore) Lock(instrument string) {
	s.instrumentLock(instrument).Lock()
}

// Unlock releases the per-instrument mutex.
func (s *StateStore) Unlock(instrument string) {
	s.instrumentLock(instrument).Unlock()
}

func (s *StateStore) instrumentLock(instrument string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[instrument]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[instrument] = lock
	}
	return lock
}

// LoadBaseline returns the stored baseline, or nil when absent. A value that
// fails to decode, or whose price is zero or negative, is treated as absent
// so the next observation reinitialises it.
func (s *StateStore) LoadBaseline(ctx context.Context, instrument string) (*Baseline, error) {
	raw, ok, err := s.kv.Get(ctx, BaselineKey(instrument))
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var baseline Baseline
	if err := json.Unmarshal(raw, &baseline); err != nil {
		return nil, nil
	}
	if baseline.Price.Sign() <= 0 {
		return nil, nil
	}
	return &baseline, nil
}

// SaveBaseline persists the baseline for an instrument.
func (s *StateStore) SaveBaseline(ctx context.Context, instrument string, baseline Baseline) error {
	raw, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := s.kv.Set(ctx, BaselineKey(instrument), raw); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

// ClearBaseline removes the stored baseline. The next observation for the
// instrument reinitialises it.
func (s *StateStore) ClearBaseline(ctx context.Context, instrument string) error {
	if err := s.kv.Delete(ctx, BaselineKey(instrument)); err != nil {
		return fmt.Errorf("clear baseline: %w", err)
	}
	return nil
}

// LastAlertAt returns when an alert last fired for the pair, or the zero time.
func (s *StateStore) LastAlertAt(ctx context.Context, instrument, direction string) (time.Time, error) {
	raw, ok, err := s.kv.Get(ctx, LastAlertKey(instrument, direction))
	if err != nil {
		return time.Time{}, fmt.Errorf("load last alert: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}

	var at time.Time
	if err := json.Unmarshal(raw, &at); err != nil {
		return time.Time{}, nil
	}
	return at, nil
}

// SetLastAlertAt records the fire timestamp for an (instrument, direction).
func (s *StateStore) SetLastAlertAt(ctx context.Context, instrument, direction string, at time.Time) error {
	raw, err := json.Marshal(at)
	if err != nil {
		return fmt.Errorf("encode last alert: %w", err)
	}
	if err := s.kv.Set(ctx, LastAlertKey(instrument, direction), raw); err != nil {
		return fmt.Errorf("save last alert: %w", err)
	}
	return nil
}
