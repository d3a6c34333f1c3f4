package archive

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the trace archive tables.
const Schema = `
-- One row per execution trace; body holds the full JSON record
CREATE TABLE IF NOT EXISTS traces (
    execution_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    status TEXT NOT NULL,
    outcome TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_updated_at ON traces(updated_at);
CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status);
CREATE INDEX IF NOT EXISTS idx_traces_outcome ON traces(outcome);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

// GetSchemaVersion reads the newest schema version.
const GetSchemaVersion = `SELECT MAX(version) FROM schema_version`

// upsertTrace writes a trace unless the stored row is already terminal.
const upsertTrace = `
INSERT INTO traces (execution_id, state, status, outcome, created_at, updated_at, body)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (execution_id) DO UPDATE SET
    state = excluded.state,
    status = excluded.status,
    outcome = excluded.outcome,
    updated_at = excluded.updated_at,
    body = excluded.body
WHERE traces.status IN ('RUNNING', 'PENDING')
`
