package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	getKVSQL = `SELECT value FROM kv_state WHERE key = $1;`

	setKVSQL = `INSERT INTO kv_state (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, updated_at = now();`

	deleteKVSQL = `DELETE FROM kv_state WHERE key = $1;`

	insertTickSQL = `INSERT INTO tick_samples (
        instrument, observed_at, price
    ) VALUES ($1, $2, $3)
    ON CONFLICT (instrument, observed_at) DO UPDATE
    SET price = EXCLUDED.price;`

	listTicksBetweenSQL = `SELECT instrument, observed_at, price, created_at
    FROM tick_samples
    WHERE instrument = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentTicksSQL = `SELECT instrument, observed_at, price, created_at
    FROM tick_samples
    WHERE instrument = $1
    ORDER BY observed_at DESC
    LIMIT $2;`

	countTicksSQL = `SELECT COUNT(*) FROM tick_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        instrument, direction, delta_pct, threshold_pct, price, prior_baseline, fired_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, instrument, direction, delta_pct, threshold_pct, price, prior_baseline, fired_at, created_at
    FROM alerts
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE fired_at < $1;`
)

// TickSampleStore defines operations for tick persistence.
type TickSampleStore interface {
	InsertTick(ctx context.Context, sample TickSample) error
	ListTicksBetween(ctx context.Context, instrument string, from, to time.Time) ([]TickSample, error)
	ListRecentTicks(ctx context.Context, instrument string, limit int) ([]TickSample, error)
	CountTicks(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// PostgresStore provides the durable backend: KV state plus tick and alert
// history used by the show/export commands.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Get returns the stored value for key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	var value []byte
	if scanErr := pool.QueryRow(ctx, getKVSQL, key).Scan(&value); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get kv %s: %w", key, scanErr)
	}
	return value, true, nil
}

// Set upserts the value for key.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setKVSQL, key, value); execErr != nil {
		return fmt.Errorf("set kv %s: %w", key, execErr)
	}
	return nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteKVSQL, key); execErr != nil {
		return fmt.Errorf("delete kv %s: %w", key, execErr)
	}
	return nil
}

// InsertTick persists or updates one observation.
func (s *PostgresStore) InsertTick(ctx context.Context, sample TickSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertTickSQL,
		sample.Instrument,
		sample.ObservedAt,
		sample.Price.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert tick: %w", execErr)
	}
	return nil
}

// ListTicksBetween lists observations within [from, to).
func (s *PostgresStore) ListTicksBetween(ctx context.Context, instrument string, from, to time.Time) ([]TickSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTicksBetweenSQL, instrument, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list ticks between: %w", queryErr)
	}
	defer rows.Close()

	return collectTicks(rows)
}

// ListRecentTicks lists the most recent observations, newest first.
func (s *PostgresStore) ListRecentTicks(ctx context.Context, instrument string, limit int) ([]TickSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTicksSQL, instrument, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent ticks: %w", queryErr)
	}
	defer rows.Close()

	return collectTicks(rows)
}

// CountTicks counts stored observations.
func (s *PostgresStore) CountTicks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countTicksSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count ticks: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *PostgresStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Instrument,
		alert.Direction,
		alert.DeltaPct.String(),
		alert.ThresholdPct.String(),
		alert.Price.String(),
		alert.PriorBaseline.String(),
		alert.FiredAt,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *PostgresStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var deltaStr, thresholdStr, priceStr, priorStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Instrument,
			&rec.Direction,
			&deltaStr,
			&thresholdStr,
			&priceStr,
			&priorStr,
			&rec.FiredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.DeltaPct, convErr = decimal.NewFromString(deltaStr); convErr != nil {
			return nil, fmt.Errorf("parse delta pct: %w", convErr)
		}
		if rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}
		if rec.Price, convErr = decimal.NewFromString(priceStr); convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		if rec.PriorBaseline, convErr = decimal.NewFromString(priorStr); convErr != nil {
			return nil, fmt.Errorf("parse prior baseline: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *PostgresStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectTicks(rows pgx.Rows) ([]TickSample, error) {
	samples := make([]TickSample, 0)
	for rows.Next() {
		var sample TickSample
		var priceStr string
		if err := rows.Scan(&sample.Instrument, &sample.ObservedAt, &priceStr, &sample.CreatedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse tick price: %w", convErr)
		}
		sample.Price = price
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

var (
	_ KV              = (*PostgresStore)(nil)
	_ TickSampleStore = (*PostgresStore)(nil)
	_ AlertStore      = (*PostgresStore)(nil)
)
