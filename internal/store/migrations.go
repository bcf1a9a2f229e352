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
		Description: "atoms: knowledge units with sensitivity threshold",
		SQL: `
CREATE TABLE atoms (
    id                TEXT PRIMARY KEY,
    atom_type         TEXT NOT NULL CHECK (atom_type IN ('INGREDIENT', 'PRODUCT', 'BRAND', 'COMPANY',
                          'REGULATION', 'TREND', 'SCIENTIFIC_CONCEPT', 'MARKET_DATA')),
    title             TEXT NOT NULL,
    summary           TEXT,
    threshold         INTEGER NOT NULL CHECK (threshold BETWEEN 1 AND 8),
    tensor_components TEXT,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX idx_atoms_type      ON atoms(atom_type);
CREATE INDEX idx_atoms_threshold ON atoms(threshold);
`,
	},
	{
		Version:     2,
		Description: "relationships: directed typed edges between atoms",
		SQL: `
CREATE TABLE relationships (
    id                   TEXT PRIMARY KEY,
    from_atom_id         TEXT NOT NULL,
    to_atom_id           TEXT NOT NULL,
    relationship_type    TEXT NOT NULL,
    strength             REAL NOT NULL CHECK (strength >= 0 AND strength <= 1),
    evidence_description TEXT,
    threshold            INTEGER NOT NULL CHECK (threshold BETWEEN 1 AND 8),
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL,

    UNIQUE (from_atom_id, to_atom_id, relationship_type),
    FOREIGN KEY (from_atom_id) REFERENCES atoms(id) ON DELETE CASCADE,
    FOREIGN KEY (to_atom_id)   REFERENCES atoms(id) ON DELETE CASCADE
);

CREATE INDEX idx_rel_from ON relationships(from_atom_id);
CREATE INDEX idx_rel_to   ON relationships(to_atom_id);
`,
	},
	{
		Version:     3,
		Description: "evidence: claims backing atoms",
		SQL: `
CREATE TABLE evidence (
    id             TEXT PRIMARY KEY,
    atom_id        TEXT NOT NULL,
    claim          TEXT NOT NULL,
    evidence_level INTEGER NOT NULL CHECK (evidence_level BETWEEN 1 AND 7),
    sample_size    INTEGER NOT NULL DEFAULT 0,
    source         TEXT,
    year           INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    FOREIGN KEY (atom_id) REFERENCES atoms(id) ON DELETE CASCADE
);

CREATE INDEX idx_evidence_atom ON evidence(atom_id);
`,
	},
	{
		Version:     4,
		Description: "atom_embeddings: one vector per atom per space",
		SQL: `
CREATE TABLE atom_embeddings (
    atom_id    TEXT NOT NULL,
    space      TEXT NOT NULL CHECK (space IN ('semantic', 'tensor')),
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (atom_id, space),
    FOREIGN KEY (atom_id) REFERENCES atoms(id) ON DELETE CASCADE
);

CREATE INDEX idx_embeddings_space ON atom_embeddings(space);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
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
