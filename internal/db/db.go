package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateDir      = ".shopfloor"
	defaultDBName = "shopfloor.db"

	defaultBusyTimeout = 5 * time.Second
)

type Config struct {
	Workspace string
	// Path overrides the workspace-derived database location.
	Path string
	// BusyTimeout is how long a writer waits for the lock; zero means 5s.
	BusyTimeout time.Duration
}

// EnsureWorkspace creates the .shopfloor state directory under workspace.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(orDot(workspace), stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// Open opens the site database with foreign keys enforced and WAL journaling,
// so the API server and CLI commands can share one workspace.
func Open(cfg Config) (*sql.DB, error) {
	file := cfg.Path
	if file == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		file = Path(cfg.Workspace)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	conn, err := sql.Open("sqlite", "file:"+file+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	return conn, nil
}

// Path returns the database file for workspace.
func Path(workspace string) string {
	return filepath.Join(orDot(workspace), stateDir, defaultDBName)
}

func orDot(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}
