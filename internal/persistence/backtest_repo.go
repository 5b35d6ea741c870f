// Package persistence stores backtest run summaries in PostgreSQL. The
// repository is optional: when no database URL is configured the runner
// simply skips persistence.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fredrousseau/midas-sub000/internal/backtest"
)

// BacktestRun is one persisted run summary row.
type BacktestRun struct {
	ID             string    `db:"id" json:"id"`
	Symbol         string    `db:"symbol" json:"symbol"`
	Timeframe      string    `db:"timeframe" json:"timeframe"`
	Strategy       string    `db:"strategy" json:"strategy"`
	StartTs        int64     `db:"start_ts" json:"start_ts"`
	EndTs          int64     `db:"end_ts" json:"end_ts"`
	Trades         int       `db:"trades" json:"trades"`
	WinRate        float64   `db:"win_rate" json:"win_rate"`
	TotalReturnPct float64   `db:"total_return_pct" json:"total_return_pct"`
	MaxDrawdownPct float64   `db:"max_drawdown_pct" json:"max_drawdown_pct"`
	Summary        []byte    `db:"summary" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

const backtestSchema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	timeframe        TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	start_ts         BIGINT NOT NULL,
	end_ts           BIGINT NOT NULL,
	trades           INT NOT NULL,
	win_rate         DOUBLE PRECISION NOT NULL,
	total_return_pct DOUBLE PRECISION NOT NULL,
	max_drawdown_pct DOUBLE PRECISION NOT NULL,
	summary          JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS backtest_runs_symbol_idx ON backtest_runs (symbol, created_at DESC);
`

// BacktestRepo persists backtest run summaries.
type BacktestRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string, timeout time.Duration) (*BacktestRepo, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, backtestSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure backtest schema: %w", err)
	}
	return &BacktestRepo{db: db, timeout: timeout}, nil
}

// Close releases the connection pool.
func (r *BacktestRepo) Close() error { return r.db.Close() }

// Save stores one run summary. Trades are not persisted, only the
// aggregate summary as JSONB.
func (r *BacktestRepo) Save(ctx context.Context, result *backtest.Result) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	query := `
		INSERT INTO backtest_runs
		(id, symbol, timeframe, strategy, start_ts, end_ts, trades,
		 win_rate, total_return_pct, max_drawdown_pct, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, query,
		result.ID, result.Symbol, string(result.Timeframe), result.Strategy,
		result.Start, result.End, result.Summary.Trades,
		result.Summary.WinRate, result.Summary.TotalReturnPct,
		result.Summary.MaxDrawdownPct, summaryJSON)
	if err != nil {
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

// Recent lists the latest run summaries for a symbol, newest first.
func (r *BacktestRepo) Recent(ctx context.Context, symbol string, limit int) ([]BacktestRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit < 1 {
		limit = 20
	}
	query := `
		SELECT id, symbol, timeframe, strategy, start_ts, end_ts, trades,
		       win_rate, total_return_pct, max_drawdown_pct, summary, created_at
		FROM backtest_runs
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var runs []BacktestRun
	if err := r.db.SelectContext(ctx, &runs, query, symbol, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	return runs, nil
}
