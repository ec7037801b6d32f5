package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/livepilot/livepilot-go/internal/config"
	"github.com/livepilot/livepilot-go/internal/database"
	"github.com/livepilot/livepilot-go/internal/database/repositories"
)

func TestPrintBanner(t *testing.T) {
	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	cfg := &config.Config{
		Env:         "test",
		Port:        "4000",
		DatabaseURL: "test.db",
		TargetHost:  "127.0.0.1",
		PollRateHz:  10,
		RulesPath:   "./configs/rules.yaml",
	}

	printBanner(cfg)

	_ = w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	if !strings.Contains(output, "LivePilot Control Loop Server") {
		t.Error("Expected server name in banner")
	}
	if !strings.Contains(output, "Version:") {
		t.Error("Expected 'Version:' in banner")
	}
	if !strings.Contains(output, "Environment: test") {
		t.Error("Expected 'Environment: test' in banner")
	}
	if !strings.Contains(output, "Port:        4000") {
		t.Error("Expected 'Port: 4000' in banner")
	}
	if !strings.Contains(output, "Database:    test.db") {
		t.Error("Expected 'Database: test.db' in banner")
	}
}

// setupTestDB opens an in-memory database through the CGO sqlite driver to
// verify the schema works on both drivers.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	return db
}

func TestMigrationOnAlternateDriver(t *testing.T) {
	db := setupTestDB(t)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	for _, table := range []string{"trigger_events", "sweep_sessions", "settings"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("Expected table %s after migration", table)
		}
	}

	// A saved Target host round-trips through the settings repository.
	repo := repositories.NewSettingRepository(db)
	ctx := context.Background()
	if _, err := repo.Upsert(ctx, "target_host", "10.0.0.42"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	saved, err := repo.FindByKey(ctx, "target_host")
	if err != nil {
		t.Fatalf("FindByKey failed: %v", err)
	}
	if saved == nil || saved.Value != "10.0.0.42" {
		t.Errorf("Saved target host mismatch: %+v", saved)
	}
}
