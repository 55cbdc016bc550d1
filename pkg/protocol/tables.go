package protocol

// OperationRow represents a row in the operations SQLite table.
type OperationRow struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Tool       string    `json:"tool"`
	Operation  string    `json:"operation,omitempty"`
	Args       string    `json:"args"`
	Success    bool      `json:"success"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  string    `json:"created_at"`
}

// PatternRow represents a row in the patterns SQLite table.
// Sequence is the "a->b->c" rendering of three consecutive tools.
type PatternRow struct {
	ID            int64   `json:"id"`
	Sequence      string  `json:"sequence"`
	Frequency     int     `json:"frequency"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	LastUsed      string  `json:"last_used"`
}

// PreferenceRow represents a row in the preferences SQLite table.
type PreferenceRow struct {
	ID         int64   `json:"id"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	LearnedAt  string  `json:"learned_at"`
}
