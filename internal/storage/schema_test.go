package storage

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalhouse/msgvault/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openRaw opens a second handle for inspecting the database directly.
func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func enabledStore(t *testing.T, path string, maxHistory int) *Store {
	t.Helper()
	s := NewStore(Options{
		Path:       path,
		MaxHistory: maxHistory,
		Available:  true,
		Logger:     testLogger(),
	})
	if err := s.Enable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEnsureSchema_FreshInstall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.sqlite3")

	s := enabledStore(t, path, 100)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	db := openRaw(t, path)

	var value string
	err := db.QueryRow("SELECT value FROM options WHERE name = 'schema_version'").Scan(&value)
	if err != nil {
		t.Fatal(err)
	}
	if value != "1" {
		t.Errorf("schema_version = %q, want %q", value, "1")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.sqlite3")

	for i := 0; i < 2; i++ {
		s := enabledStore(t, path, 100)
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}

	db := openRaw(t, path)

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM options WHERE name = 'schema_version'").Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("schema_version row count = %d, want 1", count)
	}
}

func TestEnsureSchema_NewerVersionKeepsServing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.sqlite3")

	s := enabledStore(t, path, 100)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	db := openRaw(t, path)
	if _, err := db.Exec("UPDATE options SET value = '999' WHERE name = 'schema_version'"); err != nil {
		t.Fatal(err)
	}

	// Reopen: no migration attempted, store stays usable on the old schema.
	s = enabledStore(t, path, 100)
	defer s.Close()

	if !s.CanProvideMessages() {
		t.Fatal("store should be enabled despite newer schema version")
	}

	network := types.Network{UUID: "net-1"}
	channel := types.Channel{Name: "#go"}
	s.Index(network, channel, types.Message{
		Time: time.UnixMilli(100),
		Type: types.MessageTypeMessage,
		Text: "still works",
	})
	s.Flush()

	messages, err := s.GetMessages(context.Background(), network, channel)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}

	var value string
	err = db.QueryRow("SELECT value FROM options WHERE name = 'schema_version'").Scan(&value)
	if err != nil {
		t.Fatal(err)
	}
	if value != "999" {
		t.Errorf("schema_version = %q, want untouched %q", value, "999")
	}
}

func TestEnsureSchema_OlderVersionMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.sqlite3")

	s := enabledStore(t, path, 100)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	db := openRaw(t, path)
	if _, err := db.Exec("UPDATE options SET value = '0' WHERE name = 'schema_version'"); err != nil {
		t.Fatal(err)
	}

	s = enabledStore(t, path, 100)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	var value string
	err := db.QueryRow("SELECT value FROM options WHERE name = 'schema_version'").Scan(&value)
	if err != nil {
		t.Fatal(err)
	}
	if value != "1" {
		t.Errorf("schema_version after migration = %q, want %q", value, "1")
	}
}
