package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mdstream/internal/application/port"
)

func newRepo(t *testing.T) *Repo {
	dbPath := filepath.Join(t.TempDir(), "symbols.db")
	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seed(t *testing.T, repo *Repo, broker, symbol, exchange, token, brexchange string) {
	t.Helper()
	_, err := repo.GetDB().Exec(`INSERT INTO symtoken(symbol, exchange, broker, token, brexchange) VALUES(?, ?, ?, ?, ?)`,
		symbol, exchange, broker, token, brexchange)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestSQLiteRepoResolve(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "kite", "RELIANCE", "NSE", "738561", "NSE")
	seed(t, repo, "upstox", "RELIANCE", "NSE", "INE002A01018", "NSE_EQ")

	ctx := context.Background()
	inst, err := repo.ForVenue("upstox").Resolve(ctx, "reliance", "nse")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if inst.Token != "INE002A01018" || inst.VenueExchange != "NSE_EQ" {
		t.Errorf("unexpected instrument %+v", inst)
	}

	inst, err = repo.ForVenue("kite").Resolve(ctx, "RELIANCE", "NSE")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if inst.Token != "738561" {
		t.Errorf("expected kite token 738561, got %s", inst.Token)
	}
}

func TestSQLiteRepoResolveNotFound(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "kite", "RELIANCE", "NSE", "738561", "NSE")

	_, err := repo.ForVenue("fyers").Resolve(context.Background(), "RELIANCE", "NSE")
	if !errors.Is(err, port.ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestSQLiteRepoUpsertLatest(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if err := repo.UpsertLatest(ctx, "NSE_RELIANCE_LTP", []byte(`{"ltp":2500.5}`), 200); err != nil {
		t.Fatalf("UpsertLatest failed: %v", err)
	}
	// older timestamp is ignored
	if err := repo.UpsertLatest(ctx, "NSE_RELIANCE_LTP", []byte(`{"ltp":2400}`), 100); err != nil {
		t.Fatalf("UpsertLatest failed: %v", err)
	}

	payload, ts, err := repo.GetLatest(ctx, "NSE_RELIANCE_LTP")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if payload != `{"ltp":2500.5}` || ts != 200 {
		t.Errorf("expected latest payload at ts=200, got %s at %d", payload, ts)
	}
}

func TestSQLiteRepoCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "symbols.db")
	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("expected directory to exist: %v", err)
	}
}
