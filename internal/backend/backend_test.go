package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/config"
	"github.com/bcnelson/stack-traffic-manager/internal/directory"
	"github.com/bcnelson/stack-traffic-manager/internal/records"
	"github.com/bcnelson/stack-traffic-manager/internal/weights"
	"github.com/go-logr/logr"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite3"},
		Backend: config.BackendConfig{
			Records:   config.BackendSQL,
			Directory: config.BackendSQL,
		},
		Traffic: config.TrafficConfig{
			Strategy:          "compensating",
			OptimisticLocking: true,
			OptimisticRetries: 3,
			RetryInterval:     time.Millisecond,
			RecordType:        "CNAME",
			RecordTTL:         20,
		},
	}
}

func TestOpen_SQL(t *testing.T) {
	cfg := testConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "nested", "traffic.db")

	b, err := Open(context.Background(), cfg, logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Storage == nil {
		t.Fatal("expected the database to be opened")
	}
	if b.Inventory(cfg) == nil {
		t.Error("expected the database to serve as inventory")
	}
	if _, err := os.Stat(cfg.Database.DSN); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	set, err := b.Records.ReadRecords(context.Background(), "myapp.example.org")
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(set.Records) != 0 {
		t.Errorf("expected an empty zone, got %d records", len(set.Records))
	}
}

func TestOpen_Files(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Backend.Records = config.BackendFile
	cfg.Backend.Directory = config.BackendFile
	cfg.Backend.ZoneFile = filepath.Join(dir, "zone.json")
	cfg.Backend.Inventory = filepath.Join(dir, "inventory.yaml")

	b, err := Open(context.Background(), cfg, logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Storage != nil {
		t.Error("no database expected for file backends")
	}
	if b.Inventory(cfg) != nil {
		t.Error("file inventory is not writable through the API")
	}
	if _, ok := b.Records.(*records.FileStore); !ok {
		t.Errorf("records backend is %T", b.Records)
	}
	if _, ok := b.Directory.(*directory.FileDirectory); !ok {
		t.Errorf("directory backend is %T", b.Directory)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "traffic.db")
	cfg.Backend.Records = "bind"

	if _, err := Open(context.Background(), cfg, logr.Discard()); err == nil {
		t.Error("expected an error for an unknown record backend")
	}
}

func TestServiceOptions(t *testing.T) {
	cfg := testConfig().Traffic
	cfg.Strategy = "proportional"

	opts, err := ServiceOptions(&cfg)
	if err != nil {
		t.Fatalf("ServiceOptions: %v", err)
	}
	if opts.Strategy != weights.Proportional {
		t.Errorf("strategy = %s", opts.Strategy)
	}
	if opts.Retries != 3 || opts.TTL != 20 || !opts.OptimisticLocking {
		t.Errorf("unexpected options: %+v", opts)
	}

	cfg.Strategy = "random"
	if _, err := ServiceOptions(&cfg); err == nil {
		t.Error("expected an error for an unknown strategy")
	}
}
