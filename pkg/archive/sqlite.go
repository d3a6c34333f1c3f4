package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"armouriq/armour/pkg/trace"
)

const sqliteBackend = "sqlite"

// SQLiteConfig contains configuration for the SQLite archive.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/traces.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	upsert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStore opens the archive database and creates the schema.
func NewSQLiteStore(config *SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive.sqlite")

	busy := config.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// Busy timeout is per connection, so it goes in the DSN rather than a
	// one-off PRAGMA.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", config.Path, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, NewStorageError(sqliteBackend, "open", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStore{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.upsert, err = db.Prepare(upsertTrace)
	if err != nil {
		db.Close()
		return nil, NewStorageError(sqliteBackend, "prepare", err)
	}

	logger.Info("trace archive initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError(sqliteBackend, "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError(sqliteBackend, "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError(sqliteBackend, "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return NewStorageError(sqliteBackend, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError(sqliteBackend, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Save upserts t unless a terminal version is already stored.
func (s *SQLiteStore) Save(ctx context.Context, t *trace.Trace) error {
	body, err := json.Marshal(t)
	if err != nil {
		return NewStorageError(sqliteBackend, "marshal", err)
	}

	res, err := s.upsert.ExecContext(ctx,
		t.ExecutionID,
		string(t.State),
		string(t.Status),
		OutcomeOf(t),
		t.CreatedAt.UTC().UnixNano(),
		t.UpdatedAt.UTC().UnixNano(),
		string(body),
	)
	if err != nil {
		return NewStorageError(sqliteBackend, "save", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NewStorageError(sqliteBackend, "save", err)
	}
	if n == 0 {
		return ErrImmutable
	}
	return nil
}

// Get returns the stored trace.
func (s *SQLiteStore) Get(ctx context.Context, executionID string) (*trace.Trace, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM traces WHERE execution_id = ?`, executionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStorageError(sqliteBackend, "get", err)
	}
	return decode(body)
}

// List returns matching traces, oldest update first.
func (s *SQLiteStore) List(ctx context.Context, q *Query) ([]*trace.Trace, error) {
	where, args := buildWhere(q)
	query := `SELECT body FROM traces` + where + ` ORDER BY updated_at ASC, execution_id ASC`
	if q != nil && q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	} else if q != nil && q.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError(sqliteBackend, "list", err)
	}
	defer rows.Close()

	out := []*trace.Trace{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, NewStorageError(sqliteBackend, "scan", err)
		}
		t, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(sqliteBackend, "list", err)
	}
	return out, nil
}

// Count returns the number of matching traces.
func (s *SQLiteStore) Count(ctx context.Context, q *Query) (int64, error) {
	where, args := buildWhere(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`+where, args...).Scan(&n); err != nil {
		return 0, NewStorageError(sqliteBackend, "count", err)
	}
	return n, nil
}

// DeleteBefore removes terminal traces last updated before cutoff.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM traces WHERE updated_at < ? AND status IN ('COMPLETED', 'ABANDONED')`,
		cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return 0, NewStorageError(sqliteBackend, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError(sqliteBackend, "delete", err)
	}
	if n > 0 {
		s.logger.Debug("deleted archived traces", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.upsert != nil {
		s.upsert.Close()
	}
	if err := s.db.Close(); err != nil {
		return NewStorageError(sqliteBackend, "close", err)
	}
	return nil
}

func buildWhere(q *Query) (string, []interface{}) {
	if q == nil {
		return "", nil
	}
	var conds []string
	var args []interface{}

	if len(q.ExecutionIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(q.ExecutionIDs)), ",")
		conds = append(conds, "execution_id IN ("+marks+")")
		for _, id := range q.ExecutionIDs {
			args = append(args, id)
		}
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, q.Outcome)
	}
	if q.StartTime != nil {
		conds = append(conds, "updated_at >= ?")
		args = append(args, q.StartTime.UTC().UnixNano())
	}
	if q.EndTime != nil {
		conds = append(conds, "updated_at < ?")
		args = append(args, q.EndTime.UTC().UnixNano())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func decode(body string) (*trace.Trace, error) {
	var t trace.Trace
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, NewStorageError(sqliteBackend, "unmarshal", err)
	}
	return &t, nil
}
