package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickSample is a persisted price observation.
type TickSample struct {
	Instrument string
	Price      decimal.Decimal
	ObservedAt time.Time
	CreatedAt  time.Time
}

// AlertRecord captures a fired alert for auditing.
type AlertRecord struct {
	ID            int64
	Instrument    string
	Direction     string
	DeltaPct      decimal.Decimal
	ThresholdPct  decimal.Decimal
	Price         decimal.Decimal
	PriorBaseline decimal.Decimal
	FiredAt       time.Time
	CreatedAt     time.Time
}
