// Package timescale records keeper runs to Postgres/Timescale for audit and
// dashboards. Writes are queued and dropped, never blocking the keeper.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"optionsfi-keeper/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

var schemaPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type RollRecord struct {
	Time        time.Time
	AssetID     string
	Epoch       uint64
	Outcome     string
	Reason      string
	Spot        float64
	Strike      float64
	Volatility  float64
	Divergence  float64
	Theoretical float64
	Notional    uint64
	Premium     float64
	MakerID     string
	RFQID       string
	Quotes      int
	Rejected    int
	ImpliedVol  float64
	Signature   string
	Attempts    int
	Error       string
}

type SolvencyRecord struct {
	Time      time.Time
	AssetID   string
	Recorded  uint64
	Actual    uint64
	Shortfall uint64
	Signature string
	Error     string
}

type Writer struct {
	db            *sql.DB
	log           *zap.Logger
	schema        string
	insertTimeout time.Duration
	rolls         chan RollRecord
	solvency      chan SolvencyRecord
	started       atomic.Bool
	dropRoll      atomic.Uint64
	dropSolvency  atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	if !schemaPattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid timescale schema %q", schema)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	connTimeout := cfg.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg, schema, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, schema string, log *zap.Logger) *Writer {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	insertTimeout := cfg.InsertTimeout
	if insertTimeout <= 0 {
		insertTimeout = 2 * time.Second
	}
	return &Writer{
		db:            db,
		log:           log,
		schema:        schema,
		insertTimeout: insertTimeout,
		rolls:         make(chan RollRecord, queueSize),
		solvency:      make(chan SolvencyRecord, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueRoll(rec RollRecord) {
	if w == nil {
		return
	}
	select {
	case w.rolls <- rec:
	default:
		if w.dropRoll.Add(1) == 1 {
			w.log.Warn("timescale roll queue full")
		}
	}
}

func (w *Writer) EnqueueSolvency(rec SolvencyRecord) {
	if w == nil {
		return
	}
	select {
	case w.solvency <- rec:
	default:
		if w.dropSolvency.Add(1) == 1 {
			w.log.Warn("timescale solvency queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.rolls:
			w.writeRoll(ctx, rec)
		case rec := <-w.solvency:
			w.writeSolvency(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		epoch BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		spot DOUBLE PRECISION NOT NULL DEFAULT 0,
		strike DOUBLE PRECISION NOT NULL DEFAULT 0,
		volatility DOUBLE PRECISION NOT NULL DEFAULT 0,
		divergence DOUBLE PRECISION NOT NULL DEFAULT 0,
		theoretical DOUBLE PRECISION NOT NULL DEFAULT 0,
		notional NUMERIC NOT NULL DEFAULT 0,
		premium DOUBLE PRECISION NOT NULL DEFAULT 0,
		maker TEXT NOT NULL DEFAULT '',
		rfq_id TEXT NOT NULL DEFAULT '',
		quotes INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		implied_vol DOUBLE PRECISION NOT NULL DEFAULT 0,
		signature TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("roll_runs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		recorded NUMERIC NOT NULL,
		actual NUMERIC NOT NULL,
		shortfall NUMERIC NOT NULL,
		signature TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("solvency_checks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"roll_runs", "solvency_checks"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeRoll(ctx context.Context, rec RollRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.insertTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, epoch, outcome, reason, spot, strike, volatility, divergence, theoretical,
		notional, premium, maker, rfq_id, quotes, rejected, implied_vol, signature, attempts, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
	)`, w.table("roll_runs"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.AssetID,
		int64(rec.Epoch),
		rec.Outcome,
		rec.Reason,
		rec.Spot,
		rec.Strike,
		rec.Volatility,
		finite(rec.Divergence),
		rec.Theoretical,
		fmt.Sprint(rec.Notional),
		rec.Premium,
		rec.MakerID,
		rec.RFQID,
		rec.Quotes,
		rec.Rejected,
		rec.ImpliedVol,
		rec.Signature,
		rec.Attempts,
		rec.Error,
	); err != nil {
		w.log.Warn("timescale roll insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSolvency(ctx context.Context, rec SolvencyRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.insertTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, recorded, actual, shortfall, signature, error
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("solvency_checks"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.AssetID,
		fmt.Sprint(rec.Recorded),
		fmt.Sprint(rec.Actual),
		fmt.Sprint(rec.Shortfall),
		rec.Signature,
		rec.Error,
	); err != nil {
		w.log.Warn("timescale solvency insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, w.insertTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

// finite maps an unbounded divergence to the largest storable value.
func finite(v float64) float64 {
	if v > 1e300 {
		return 1e300
	}
	return v
}
