package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Durability selects the fsync policy of a partition.
type Durability string

const (
	// Relaxed syncs the WAL only at checkpoints. An OS crash or power loss
	// may drop the last committed batch.
	Relaxed Durability = "relaxed"
	// Strict syncs on every commit.
	Strict Durability = "strict"
)

const (
	partitionFile = "samples.db"
	lockFile      = "writer.lock"
)

// PartitionName maps an address to a safe directory name. Names made only
// of dots, and the empty name, never resolve to the data dir or its parent.
func PartitionName(address string) string {
	if strings.Trim(address, ".") == "" {
		return "_" + strings.Repeat("_", len(address))
	}
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		"\\", "_",
		" ", "_",
		"%", "_",
	)
	return replacer.Replace(address)
}

// PartitionPath returns the database file for an address.
func PartitionPath(dataDir, address string) string {
	return filepath.Join(dataDir, PartitionName(address), partitionFile)
}

func writerDSN(path string, mode Durability) string {
	sync := "NORMAL"
	if mode == Strict {
		sync = "FULL"
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous("+sync+")")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}

func readerDSN(path string) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}

// openWriter opens (creating if needed) the partition database for writing.
// The pool is pinned to one connection: a partition has exactly one writer.
func openWriter(path string, mode Durability) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("partition dir: %w", err)
	}
	db, err := sql.Open("sqlite", writerDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openReader opens an existing partition read-only. It never creates files.
func openReader(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", readerDSN(path))
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS samples (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp TEXT NOT NULL,
        latency_ms REAL NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_timestamp ON samples(timestamp);

    CREATE TABLE IF NOT EXISTS target_info (
        address TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL
    );
    `

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}

	return nil
}
