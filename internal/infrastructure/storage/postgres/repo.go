package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

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
  current_price NUMERIC NOT NULL,
  high_price NUMERIC NOT NULL,
  low_price NUMERIC NOT NULL,
  floor_price NUMERIC,
  ts_ms BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS selection (
  id SMALLINT PRIMARY KEY DEFAULT 1,
  pair TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
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
		INSERT INTO selection(id, pair, ts_ms) VALUES(1, $1, (extract(epoch from now()) * 1000)::bigint)
		ON CONFLICT(id) DO UPDATE SET pair=excluded.pair, ts_ms=excluded.ts_ms
	`, pair); err != nil {
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
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(exchange) DO UPDATE SET
		symbol=excluded.symbol, current_price=excluded.current_price, high_price=excluded.high_price,
		low_price=excluded.low_price, floor_price=excluded.floor_price, ts_ms=excluded.ts_ms
	`, string(t.Exchange), t.Symbol, t.Current.String(), t.High.String(), t.Low.String(), floor, t.ReceivedAt.UnixMilli())
	return err
}

var _ port.Repository = (*Repo)(nil)
