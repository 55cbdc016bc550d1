// Package journal records every dispatched operation in SQLite and mines
// the history for recurring three-step tool sequences and learned
// preferences. It is advisory: dispatch never fails because the journal did.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadbridge/pkg/protocol"

	"github.com/google/uuid"
)

// sequenceSep joins tool names in a pattern sequence.
const sequenceSep = "->"

// sequenceLen is the number of consecutive operations in a pattern.
const sequenceLen = 3

// Store manages the journal tables in SQLite.
type Store struct {
	db      *sql.DB
	session string

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewStore creates a Store backed by db with a fresh session id.
// Call Init before first use on a new database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, session: uuid.NewString(), nowFunc: time.Now}
}

// Init applies the schema. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	return nil
}

// Session returns the id grouping this process's operations.
func (s *Store) Session() string {
	return s.session
}

// Entry is one completed dispatch.
type Entry struct {
	Tool      string
	Operation string
	Args      map[string]any
	Success   bool
	ErrorKind protocol.ErrorKind
	Duration  time.Duration
}

// Record stores e and updates the pattern whose last step is e.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	args, err := json.Marshal(e.Args)
	if err != nil {
		args = []byte("{}")
	}
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO operations (session_id, tool, operation, args, success, error_kind, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, stepName(e.Tool, e.Operation), e.Operation, string(args), e.Success, string(e.ErrorKind),
		e.Duration.Milliseconds(), now,
	)
	if err != nil {
		return 0, fmt.Errorf("journal insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal last insert id: %w", err)
	}

	if err := s.updatePattern(ctx, tx, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal commit: %w", err)
	}
	return id, nil
}

// stepName folds a smart-tool operation into the step name so that
// part_operations/box and part_operations/cut count as different steps.
func stepName(tool, operation string) string {
	if operation == "" {
		return tool
	}
	return tool + "/" + operation
}

type step struct {
	tool     string
	success  bool
	duration int64
}

// updatePattern upserts the sequence formed by the session's last three
// operations. It runs inside the transaction that inserted the last one so
// concurrent records never count the same tail twice.
func (s *Store) updatePattern(ctx context.Context, tx *sql.Tx, now string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT tool, success, duration_ms FROM operations
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, s.session, sequenceLen)
	if err != nil {
		return fmt.Errorf("journal recent steps: %w", err)
	}
	defer rows.Close()

	var steps []step
	for rows.Next() {
		var st step
		if err := rows.Scan(&st.tool, &st.success, &st.duration); err != nil {
			return fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate steps: %w", err)
	}
	if len(steps) < sequenceLen {
		return nil
	}

	names := make([]string, sequenceLen)
	var ok, total float64
	for i, st := range steps {
		names[sequenceLen-1-i] = st.tool
		if st.success {
			ok++
		}
		total += float64(st.duration)
	}
	seq := strings.Join(names, sequenceSep)
	rate := ok / sequenceLen
	avg := total / sequenceLen

	_, err = tx.ExecContext(ctx,
		`INSERT INTO patterns (sequence, frequency, success_rate, avg_duration_ms, last_used)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(sequence) DO UPDATE SET
		   success_rate = (success_rate * frequency + excluded.success_rate) / (frequency + 1),
		   avg_duration_ms = (avg_duration_ms * frequency + excluded.avg_duration_ms) / (frequency + 1),
		   frequency = frequency + 1,
		   last_used = excluded.last_used`,
		seq, rate, avg, now,
	)
	if err != nil {
		return fmt.Errorf("journal upsert pattern: %w", err)
	}
	return nil
}

// Recent returns up to limit operations, newest first, across sessions.
func (s *Store) Recent(ctx context.Context, limit int) ([]protocol.OperationRow, error) {
	return queryOperations(ctx, s.db, QueryOpts{Limit: limit})
}

// CommonPatterns returns patterns seen at least minFrequency times, most
// frequent first.
func (s *Store) CommonPatterns(ctx context.Context, minFrequency int) ([]protocol.PatternRow, error) {
	return queryPatterns(ctx, s.db, minFrequency)
}

// Suggestion is the likely next step given the two most recent steps.
type Suggestion struct {
	Next          string   `json:"operation"`
	After         []string `json:"after"`
	Confidence    float64  `json:"confidence"`
	ExpectedMS    float64  `json:"expected_ms"`
	PatternWeight int      `json:"frequency"`
}

// SuggestNext looks up the most frequent pattern starting with this
// session's last two steps. ok is false when there is no history or no
// matching pattern.
func (s *Store) SuggestNext(ctx context.Context) (sg Suggestion, ok bool, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool FROM operations WHERE session_id = ? ORDER BY id DESC LIMIT 2`, s.session)
	if err != nil {
		return Suggestion{}, false, fmt.Errorf("journal last steps: %w", err)
	}
	var recent []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return Suggestion{}, false, fmt.Errorf("scan step: %w", err)
		}
		recent = append(recent, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Suggestion{}, false, fmt.Errorf("iterate steps: %w", err)
	}
	if len(recent) < 2 {
		return Suggestion{}, false, nil
	}

	prefix := recent[1] + sequenceSep + recent[0] + sequenceSep
	var seq string
	err = s.db.QueryRowContext(ctx,
		`SELECT sequence, success_rate, avg_duration_ms, frequency FROM patterns
		 WHERE substr(sequence, 1, length(?)) = ?
		 ORDER BY frequency DESC, last_used DESC LIMIT 1`, prefix, prefix,
	).Scan(&seq, &sg.Confidence, &sg.ExpectedMS, &sg.PatternWeight)
	if errors.Is(err, sql.ErrNoRows) {
		return Suggestion{}, false, nil
	}
	if err != nil {
		return Suggestion{}, false, fmt.Errorf("journal match pattern: %w", err)
	}
	sg.Next = strings.TrimPrefix(seq, prefix)
	sg.After = []string{recent[1], recent[0]}
	return sg, true, nil
}

// SetPreference stores or replaces a learned preference.
func (s *Store) SetPreference(ctx context.Context, key, value string, confidence float64) error {
	if key == "" {
		return protocol.Errorf(protocol.KindInvalidArgs, "preference key is required")
	}
	if confidence <= 0 || confidence > 1 {
		confidence = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, confidence, learned_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		   confidence = excluded.confidence, learned_at = excluded.learned_at`,
		key, value, confidence, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("journal set preference: %w", err)
	}
	return nil
}

// Preferences returns preferences with confidence above minConfidence,
// most confident first.
func (s *Store) Preferences(ctx context.Context, minConfidence float64) ([]protocol.PreferenceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, confidence, learned_at FROM preferences
		 WHERE confidence > ? ORDER BY confidence DESC, key`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("journal preferences: %w", err)
	}
	defer rows.Close()

	var out []protocol.PreferenceRow
	for rows.Next() {
		var p protocol.PreferenceRow
		if err := rows.Scan(&p.ID, &p.Key, &p.Value, &p.Confidence, &p.LearnedAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return out, nil
}

func (s *Store) timestamp() string {
	return s.nowFunc().UTC().Format(timeLayout)
}
