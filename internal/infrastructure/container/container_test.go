package container

import (
	"context"
	"path/filepath"
	"testing"

	"mdstream/internal/infrastructure/config"
)

func TestContainerWithSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_container.db")

	cfg := &config.Config{}
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.Path = dbPath

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer c.Close()

	repo := c.SQLiteRepo()
	if repo == nil {
		t.Fatalf("expected SQLiteRepo, got nil")
	}
	if len(c.Bridges()) != 0 {
		t.Errorf("expected no bridges, got %d", len(c.Bridges()))
	}

	ctx := context.Background()
	if err := c.Latest().UpsertLatest(ctx, "NSE_RELIANCE_LTP", []byte(`{"ltp":1}`), 1); err != nil {
		t.Fatalf("UpsertLatest failed: %v", err)
	}
	payload, _, err := repo.GetLatest(ctx, "NSE_RELIANCE_LTP")
	if err != nil || payload != `{"ltp":1}` {
		t.Errorf("expected payload in sqlite, got %q (%v)", payload, err)
	}
}

func TestContainerResolverChain(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_chain.db")

	cfg := &config.Config{}
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.Path = dbPath
	cfg.Symbols = []config.Symbol{
		{Broker: "kite", Symbol: "RELIANCE", Exchange: "NSE", Token: "738561", VenueExchange: "NSE"},
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer c.Close()

	_, err = c.SQLiteRepo().GetDB().Exec(`INSERT INTO symtoken(symbol, exchange, broker, token, brexchange) VALUES('TCS', 'NSE', 'kite', '2953217', 'NSE')`)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	r := c.Resolvers().ForVenue("kite")
	ctx := context.Background()

	inst, err := r.Resolve(ctx, "RELIANCE", "NSE")
	if err != nil || inst.Token != "738561" {
		t.Errorf("expected static hit, got %+v (%v)", inst, err)
	}
	inst, err = r.Resolve(ctx, "TCS", "NSE")
	if err != nil || inst.Token != "2953217" {
		t.Errorf("expected sqlite hit, got %+v (%v)", inst, err)
	}
}

func TestContainerMemoryFallback(t *testing.T) {
	c, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer c.Close()

	if err := c.Latest().UpsertLatest(context.Background(), "T", []byte("x"), 1); err != nil {
		t.Errorf("memory UpsertLatest failed: %v", err)
	}
}
