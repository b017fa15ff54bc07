package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"sessions", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterruptedSessions(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO sessions (id, status, format, width, height, fps, created_at, updated_at)
		VALUES ('s-processing', 'processing', 'mjpeg', 640, 360, 30, datetime('now'), datetime('now')),
		       ('s-uploading', 'uploading', 'mjpeg', 640, 360, 30, datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert session error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	if got := db2.Interrupted(); got != 1 {
		t.Errorf("Interrupted() = %d, want 1", got)
	}

	var status, errMsg string
	err = db2.Conn().QueryRow("SELECT status, error FROM sessions WHERE id = 's-processing'").Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("query session error = %v", err)
	}

	if status != "error" {
		t.Errorf("session status = %s, want error", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("session error = %s, want 'interrupted by restart'", errMsg)
	}

	err = db2.Conn().QueryRow("SELECT status FROM sessions WHERE id = 's-uploading'").Scan(&status)
	if err != nil {
		t.Fatalf("query session error = %v", err)
	}
	if status != "uploading" {
		t.Errorf("uploading session status = %s, want uploading", status)
	}
}

func TestNew_Pragmas(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		wantJournal string
		wantBusy    int
	}{
		{"default", nil, "wal", 5000},
		{"busy timeout", []Option{WithBusyTimeout(250 * time.Millisecond)}, "wal", 250},
		{"ephemeral", []Option{WithEphemeral()}, "memory", 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, err := New(filepath.Join(t.TempDir(), "test.db"), nil, tt.opts...)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer database.Close()

			var journal string
			if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
				t.Fatalf("PRAGMA journal_mode error = %v", err)
			}
			if journal != tt.wantJournal {
				t.Errorf("journal_mode = %s, want %s", journal, tt.wantJournal)
			}

			var busy int
			if err := database.Conn().QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
				t.Fatalf("PRAGMA busy_timeout error = %v", err)
			}
			if busy != tt.wantBusy {
				t.Errorf("busy_timeout = %d, want %d", busy, tt.wantBusy)
			}

			var fk int
			if err := database.Conn().QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
				t.Fatalf("PRAGMA foreign_keys error = %v", err)
			}
			if fk != 1 {
				t.Errorf("foreign_keys = %d, want 1", fk)
			}
		})
	}
}
