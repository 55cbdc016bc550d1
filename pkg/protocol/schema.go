package protocol

// SchemaDDL defines the SQLite schema for the operation journal.
// Tables: operations, patterns, preferences.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Every dispatched tool call, successful or not
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL,
    tool TEXT NOT NULL,
    operation TEXT,
    args TEXT,
    success INTEGER NOT NULL,
    error_kind TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_operations_session ON operations(session_id, id);

-- Three-step tool sequences observed in the recent operation window
CREATE TABLE IF NOT EXISTS patterns (
    id INTEGER PRIMARY KEY,
    sequence TEXT NOT NULL UNIQUE,
    frequency INTEGER NOT NULL DEFAULT 1,
    success_rate REAL NOT NULL DEFAULT 1.0,
    avg_duration_ms REAL NOT NULL DEFAULT 0,
    last_used TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

-- Learned user preferences (default sizes, preferred workbench, ...)
CREATE TABLE IF NOT EXISTS preferences (
    id INTEGER PRIMARY KEY,
    key TEXT NOT NULL UNIQUE,
    value TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.5,
    learned_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`
