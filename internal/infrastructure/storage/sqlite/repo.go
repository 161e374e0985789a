package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_ticks (
  exchange TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  current_price TEXT NOT NULL,
  high_price TEXT NOT NULL,
  low_price TEXT NOT NULL,
  floor_price TEXT,
  ts_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS selection (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  pair TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
`)
	return err
}

func (r *Repo) ResetPair(ctx context.Context, pair string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM latest_ticks`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO selection(id, pair, ts_ms) VALUES(1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET pair=excluded.pair, ts_ms=excluded.ts_ms
	`, pair, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.PriceTick) error {
	var floor sql.NullString
	if t.Floor.Valid {
		floor = sql.NullString{String: t.Floor.Decimal.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_ticks(exchange, symbol, current_price, high_price, low_price, floor_price, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange) DO UPDATE SET
		symbol=excluded.symbol, current_price=excluded.current_price, high_price=excluded.high_price,
		low_price=excluded.low_price, floor_price=excluded.floor_price, ts_ms=excluded.ts_ms
	`, string(t.Exchange), t.Symbol, t.Current.String(), t.High.String(), t.Low.String(), floor, t.ReceivedAt.UnixMilli())
	return err
}

// Pair returns the mirrored selection ("" when idle or never set).
func (r *Repo) Pair(ctx context.Context) (string, error) {
	var pair string
	err := r.db.QueryRowContext(ctx, `SELECT pair FROM selection WHERE id = 1`).Scan(&pair)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return pair, err
}

// LatestTicks reads the mirrored snapshot back.
func (r *Repo) LatestTicks(ctx context.Context) (domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT exchange, symbol, current_price, high_price, low_price, floor_price, ts_ms FROM latest_ticks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := make(domain.Snapshot)
	for rows.Next() {
		var ex, sym, cur, high, low string
		var floor sql.NullString
		var ts int64
		if err := rows.Scan(&ex, &sym, &cur, &high, &low, &floor, &ts); err != nil {
			return nil, err
		}
		t := domain.PriceTick{
			Exchange:   domain.ExchangeID(ex),
			Symbol:     sym,
			ReceivedAt: time.UnixMilli(ts),
		}
		if t.Current, err = decimal.NewFromString(cur); err != nil {
			return nil, err
		}
		if t.High, err = decimal.NewFromString(high); err != nil {
			return nil, err
		}
		if t.Low, err = decimal.NewFromString(low); err != nil {
			return nil, err
		}
		if floor.Valid {
			d, err := decimal.NewFromString(floor.String)
			if err != nil {
				return nil, err
			}
			t.Floor = decimal.NewNullDecimal(d)
		}
		snap[t.Exchange] = t
	}
	return snap, rows.Err()
}

var _ port.Repository = (*Repo)(nil)
