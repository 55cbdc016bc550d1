package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"cadbridge/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// timeLayout is the fixed-width UTC layout used for created_at columns so
// that string comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// QueryOpts specifies filter criteria for querying operations.
type QueryOpts struct {
	// Tool filters to a specific step name (e.g., "create_box").
	Tool string

	// FailedOnly keeps only unsuccessful operations.
	FailedOnly bool

	// After filters operations created at or after this time.
	After *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to a journal database, for the
// dashboard and the history command.
type Reader struct {
	db *sql.DB
}

// NewReader opens the journal in read-only mode with WAL.
// Returns an error if the database doesn't exist or cannot be opened.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("journal not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the database connection.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// Operations retrieves operations matching opts, newest first.
func (r *Reader) Operations(ctx context.Context, opts QueryOpts) ([]protocol.OperationRow, error) {
	return queryOperations(ctx, r.db, opts)
}

// Patterns retrieves patterns seen at least minFrequency times.
func (r *Reader) Patterns(ctx context.Context, minFrequency int) ([]protocol.PatternRow, error) {
	return queryPatterns(ctx, r.db, minFrequency)
}

func queryOperations(ctx context.Context, db *sql.DB, opts QueryOpts) ([]protocol.OperationRow, error) {
	query, args := buildQuery(opts)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []protocol.OperationRow
	for rows.Next() {
		var o protocol.OperationRow
		var op, kind sql.NullString
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Tool, &op, &o.Args, &o.Success, &kind, &o.DurationMS, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		o.Operation = op.String
		o.ErrorKind = protocol.ErrorKind(kind.String)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, session_id, tool, operation, args, success, error_kind, duration_ms, created_at FROM operations WHERE 1=1"

	if opts.Tool != "" {
		conditions = append(conditions, "tool = ?")
		args = append(args, opts.Tool)
	}
	if opts.FailedOnly {
		conditions = append(conditions, "success = 0")
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(timeLayout))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}

func queryPatterns(ctx context.Context, db *sql.DB, minFrequency int) ([]protocol.PatternRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, sequence, frequency, success_rate, avg_duration_ms, last_used FROM patterns
		 WHERE frequency >= ? ORDER BY frequency DESC, last_used DESC`, minFrequency)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []protocol.PatternRow
	for rows.Next() {
		var p protocol.PatternRow
		if err := rows.Scan(&p.ID, &p.Sequence, &p.Frequency, &p.SuccessRate, &p.AvgDurationMS, &p.LastUsed); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return out, nil
}
