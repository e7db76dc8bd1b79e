package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

// Repo is the shared symbol database over Postgres plus a latest-value table.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

// symtoken 由外部的合约主数据同步任务写入，这里只建 latest 表
func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest (
  topic TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
);
`)
	return err
}

func (r *Repo) Resolve(ctx context.Context, broker, symbol, exchange string) (model.Instrument, error) {
	var inst model.Instrument
	err := r.db.QueryRowContext(ctx, `
		SELECT token, brexchange FROM symtoken
		WHERE broker=$1 AND exchange=$2 AND symbol=$3
		LIMIT 1
	`, strings.ToLower(broker), strings.ToUpper(exchange), strings.ToUpper(symbol)).
		Scan(&inst.Token, &inst.VenueExchange)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instrument{}, port.ErrSymbolNotFound
	}
	return inst, err
}

func (r *Repo) ForVenue(venue string) port.SymbolResolver {
	return venueResolver{repo: r, venue: venue}
}

type venueResolver struct {
	repo  *Repo
	venue string
}

func (v venueResolver) Resolve(ctx context.Context, symbol, exchange string) (model.Instrument, error) {
	return v.repo.Resolve(ctx, v.venue, symbol, exchange)
}

func (r *Repo) UpsertLatest(ctx context.Context, topic string, payload []byte, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest(topic, payload, ts_ms) VALUES($1, $2, $3)
		ON CONFLICT(topic) DO UPDATE SET payload=excluded.payload, ts_ms=excluded.ts_ms
		WHERE excluded.ts_ms >= latest.ts_ms
	`, topic, string(payload), ts)
	return err
}

var (
	_ port.Repository    = (*Repo)(nil)
	_ port.VenueResolver = (*Repo)(nil)
)
