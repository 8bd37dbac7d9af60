package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mask_runs (
			id TEXT PRIMARY KEY,
			original_name TEXT NOT NULL,
			input_path TEXT NOT NULL,
			masked_name TEXT NOT NULL,
			masked_path TEXT,
			status TEXT NOT NULL CHECK(status IN ('masked','failed')),
			error_code TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			pii_word_count INTEGER NOT NULL DEFAULT 0,
			masked_box_count INTEGER NOT NULL DEFAULT 0,
			detection TEXT NOT NULL DEFAULT '',
			detection_error TEXT,
			matcher TEXT NOT NULL DEFAULT 'exact',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mask_runs_created ON mask_runs(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_mask_runs_original ON mask_runs(original_name);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	return nil
}
