package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "nodes: memory facts with embedding vectors",
		SQL: `
CREATE TABLE nodes (
    id             INTEGER PRIMARY KEY,
    memory         TEXT NOT NULL,
    embedding      BLOB NOT NULL,
    dimensions     INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,
    last_active_at INTEGER NOT NULL
);

CREATE INDEX idx_nodes_last_active ON nodes(last_active_at DESC);
`,
	},
	{
		Version:     2,
		Description: "edges: co-activation associations between node pairs",
		SQL: `
CREATE TABLE edges (
    id                  INTEGER PRIMARY KEY,
    node1_id            INTEGER NOT NULL,
    node2_id            INTEGER NOT NULL,
    active_count        INTEGER NOT NULL DEFAULT 1,
    similarity          REAL NOT NULL,
    created_at          INTEGER NOT NULL,
    last_propagation_at INTEGER NOT NULL,

    CHECK (node1_id <> node2_id),
    FOREIGN KEY (node1_id) REFERENCES nodes(id),
    FOREIGN KEY (node2_id) REFERENCES nodes(id)
);

-- One edge per unordered pair.
CREATE UNIQUE INDEX idx_edges_pair ON edges(min(node1_id, node2_id), max(node1_id, node2_id));
CREATE INDEX idx_edges_node1 ON edges(node1_id);
CREATE INDEX idx_edges_node2 ON edges(node2_id);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
