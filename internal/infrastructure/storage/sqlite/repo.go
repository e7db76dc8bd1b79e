package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

// Repo reads the symtoken table (symbol, exchange, broker → token, brexchange) and keeps
// the latest payload per bus topic.
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

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS symtoken (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  exchange TEXT NOT NULL,
  broker TEXT NOT NULL,
  token TEXT NOT NULL,
  brexchange TEXT NOT NULL,
  brsymbol TEXT,
  UNIQUE(broker, exchange, symbol)
);
CREATE INDEX IF NOT EXISTS idx_symtoken_lookup ON symtoken(broker, exchange, symbol);

CREATE TABLE IF NOT EXISTS latest (
  topic TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
`)
	return err
}

// Resolve looks up (symbol, exchange) for one broker.
func (r *Repo) Resolve(ctx context.Context, broker, symbol, exchange string) (model.Instrument, error) {
	var inst model.Instrument
	err := r.db.QueryRowContext(ctx, `
		SELECT token, brexchange FROM symtoken
		WHERE broker=? AND exchange=? AND symbol=?
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

// UpsertLatest 只保留每个 topic 的最新一条，旧时间戳不覆盖
func (r *Repo) UpsertLatest(ctx context.Context, topic string, payload []byte, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest(topic, payload, ts_ms)
		VALUES(?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
		payload=excluded.payload, ts_ms=excluded.ts_ms
		WHERE excluded.ts_ms >= latest.ts_ms
	`, topic, string(payload), ts)
	return err
}

func (r *Repo) GetLatest(ctx context.Context, topic string) (payload string, ts int64, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT payload, ts_ms FROM latest WHERE topic=?`, topic).
		Scan(&payload, &ts)
	return
}

var (
	_ port.Repository    = (*Repo)(nil)
	_ port.VenueResolver = (*Repo)(nil)
)
