package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"armouriq/armour/pkg/intent"
)

const sqliteBackend = "sqlite"

// SQLiteStore persists approvals in SQLite. Resolution is a conditional
// UPDATE on status, so at most one decision wins per approval.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.Mutex
	closeOnce sync.Once

	insertStmt  *sql.Stmt
	getStmt     *sql.Stmt
	pendingStmt *sql.Stmt
	resolveStmt *sql.Stmt
	outcomeStmt *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (and if needed creates) the approvals database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// modernc.org/sqlite takes pragmas as repeated _pragma parameters.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newStorageError(sqliteBackend, "open", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, newStorageError(sqliteBackend, "init_schema", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, newStorageError(sqliteBackend, "prepare", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		token TEXT NOT NULL,
		triggered_rules TEXT NOT NULL,
		reasons TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER,
		approver TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		outcome_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_approvals_execution ON approvals(execution_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const approvalColumns = `id, execution_id, tool, token, triggered_rules, reasons, status,
	created_at, resolved_at, approver, comment, reference, outcome_reason`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO approvals (id, execution_id, tool, token, triggered_rules, reasons, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`SELECT ` + approvalColumns + ` FROM approvals WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.pendingStmt, err = s.db.Prepare(`SELECT ` + approvalColumns + ` FROM approvals WHERE status = 'PENDING' ORDER BY created_at ASC`)
	if err != nil {
		return fmt.Errorf("failed to prepare pending statement: %w", err)
	}

	s.resolveStmt, err = s.db.Prepare(`
		UPDATE approvals
		SET status = ?, resolved_at = ?, approver = ?, comment = ?
		WHERE id = ? AND status = 'PENDING'
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare resolve statement: %w", err)
	}

	s.outcomeStmt, err = s.db.Prepare(`UPDATE approvals SET reference = ?, outcome_reason = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome statement: %w", err)
	}
	return nil
}

// Create stores a new approval.
func (s *SQLiteStore) Create(ctx context.Context, a *Approval) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("approval must have an id")
	}
	token, err := json.Marshal(a.Token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	rules, err := json.Marshal(nonNil(a.TriggeredRules))
	if err != nil {
		return fmt.Errorf("failed to marshal triggered rules: %w", err)
	}
	reasons, err := json.Marshal(nonNil(a.Reasons))
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.insertStmt.ExecContext(ctx,
		a.ID, a.ExecutionID, a.Tool, string(token), string(rules), string(reasons),
		string(a.Status), a.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return newStorageError(sqliteBackend, "create", err)
	}
	return nil
}

// Get returns the approval with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*Approval, error) {
	a, err := scanApproval(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newStorageError(sqliteBackend, "get", err)
	}
	return a, nil
}

// ListPending returns pending approvals, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pendingStmt.QueryContext(ctx)
	if err != nil {
		return nil, newStorageError(sqliteBackend, "list_pending", err)
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, newStorageError(sqliteBackend, "list_pending", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError(sqliteBackend, "list_pending", err)
	}
	return out, nil
}

// Resolve records d if the approval is still pending.
func (s *SQLiteStore) Resolve(ctx context.Context, id string, d Decision, at time.Time) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.resolveStmt.ExecContext(ctx, string(d.Status()), at.UTC().UnixNano(), d.Approver, d.Comment, id)
	if err != nil {
		return nil, newStorageError(sqliteBackend, "resolve", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, newStorageError(sqliteBackend, "resolve", err)
	}

	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, a.Status)
	}
	return a, nil
}

// RecordOutcome stores the post-decision result.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, id, reference, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.outcomeStmt.ExecContext(ctx, reference, reason, id)
	if err != nil {
		return newStorageError(sqliteBackend, "record_outcome", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes prepared statements and the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, stmt := range []*sql.Stmt{s.insertStmt, s.getStmt, s.pendingStmt, s.resolveStmt, s.outcomeStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var (
		a          Approval
		token      string
		rules      string
		reasons    string
		status     string
		createdAt  int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ExecutionID, &a.Tool, &token, &rules, &reasons, &status,
		&createdAt, &resolvedAt, &a.Approver, &a.Comment, &a.Reference, &a.OutcomeReason)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	if resolvedAt.Valid {
		t := time.Unix(0, resolvedAt.Int64).UTC()
		a.ResolvedAt = &t
	}

	a.Token = &intent.Token{}
	if err := json.Unmarshal([]byte(token), a.Token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &a.TriggeredRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggered rules: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &a.Reasons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
	}
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
