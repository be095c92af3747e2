package order

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/restrack/restrack/internal/platform/metrics"
)

type WarehouseConfig struct {
	URL          string
	MaxConns     int
	QueryTimeout time.Duration
	Table        string
}

var tablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

const orderCols = `order_id, patient_id, proc_name, order_datetime, event_datetime,
	in_progress, partial, complete, cancelled`

// Warehouse reads orders from the remote clinical warehouse over lib/pq.
type Warehouse struct {
	db      *sqlx.DB
	table   string
	timeout time.Duration
}

// Connect opens the warehouse pool and verifies it with a ping bounded by
// the query timeout.
func Connect(ctx context.Context, cfg WarehouseConfig) (*Warehouse, error) {
	if !tablePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid warehouse table %q", cfg.Table)
	}

	raw, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	raw.SetMaxOpenConns(maxConns)
	raw.SetMaxIdleConns(maxConns)
	raw.SetConnMaxLifetime(30 * time.Minute)

	w := NewWarehouse(sqlx.NewDb(raw, "postgres"), cfg.Table, cfg.QueryTimeout)
	if err := w.Ping(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return w, nil
}

// NewWarehouse wraps an existing handle. table must already be validated.
func NewWarehouse(db *sqlx.DB, table string, timeout time.Duration) *Warehouse {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Warehouse{db: db, table: table, timeout: timeout}
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.timeout)
}

// upstream records the query outcome and tags failures with ErrUpstream.
func upstream(query string, start time.Time, err error) error {
	metrics.ObserveWarehouse(query, start, err)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, query, err)
	}
	return nil
}

func (w *Warehouse) ListActiveByIDs(ctx context.Context, ids []int64) ([]*Order, error) {
	if len(ids) == 0 {
		return []*Order{}, nil
	}
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	orders := []*Order{}
	err := w.db.SelectContext(ctx, &orders,
		`SELECT `+orderCols+` FROM `+w.table+`
		WHERE order_id = ANY($1) AND cancelled IS NULL
		ORDER BY order_id`, pq.Array(ids))
	if err := upstream("orders_by_ids", start, err); err != nil {
		return nil, err
	}
	return orders, nil
}

func (w *Warehouse) PatientExists(ctx context.Context, patientID int64) (bool, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var exists bool
	err := w.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM `+w.table+` WHERE patient_id = $1)`, patientID)
	if err := upstream("patient_exists", start, err); err != nil {
		return false, err
	}
	return exists, nil
}

func (w *Warehouse) ListActiveByPatient(ctx context.Context, patientID int64) ([]*Order, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	orders := []*Order{}
	err := w.db.SelectContext(ctx, &orders,
		`SELECT `+orderCols+` FROM `+w.table+`
		WHERE patient_id = $1 AND cancelled IS NULL
		ORDER BY event_datetime DESC NULLS LAST, order_id DESC`, patientID)
	if err := upstream("orders_by_patient", start, err); err != nil {
		return nil, err
	}
	return orders, nil
}

func (w *Warehouse) CountActivePatients(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var n int
	err := w.db.GetContext(ctx, &n,
		`SELECT COUNT(DISTINCT patient_id) FROM `+w.table+`
		WHERE order_id = ANY($1) AND cancelled IS NULL`, pq.Array(ids))
	if err := upstream("active_patient_count", start, err); err != nil {
		return 0, err
	}
	return n, nil
}

func (w *Warehouse) Ping(ctx context.Context) error {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	return w.db.PingContext(ctx)
}
