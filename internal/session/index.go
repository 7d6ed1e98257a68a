package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Index is a SQLite-backed catalogue of session transcripts, sitting
// alongside the JSONL files themselves (internal/timeline.NewTimelineService
// applies the same "open with WAL + busy_timeout pragmas, apply schema"
// pattern for its own event log). session.list/session.get consult it
// instead of opening and re-parsing every *.jsonl file's first line.
type Index struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	key TEXT PRIMARY KEY,
	agent_id TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	turn_count INTEGER NOT NULL DEFAULT 0,
	cumulative_cost_usd REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// NewIndex opens (creating if needed) a SQLite database at dbPath and
// applies the sessions-index schema.
func NewIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Upsert records or refreshes a session's catalogue row. Callers hold
// whatever lock guards the session's fields themselves and pass the values
// through, rather than this taking a *Session and re-locking it.
func (idx *Index) Upsert(key, agentID, status string, turnCount int, cost float64, created, updated time.Time) error {
	if status == "" {
		status = string(StatusActive)
	}

	_, err := idx.db.Exec(`
		INSERT INTO sessions (key, agent_id, status, turn_count, cumulative_cost_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			agent_id = excluded.agent_id,
			status = excluded.status,
			turn_count = excluded.turn_count,
			cumulative_cost_usd = excluded.cumulative_cost_usd,
			updated_at = excluded.updated_at
	`, key, agentID, status, turnCount, cost, created.Format(time.RFC3339), updated.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert session index row: %w", err)
	}
	return nil
}

// IndexedSessionInfo is one catalogue row.
type IndexedSessionInfo struct {
	Key       string
	AgentID   string
	Status    string
	TurnCount int
	CostUSD   float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// List returns every catalogued session, most recently updated first.
// includeEnded controls whether StatusEnded rows are included.
func (idx *Index) List(includeEnded bool) ([]IndexedSessionInfo, error) {
	query := `SELECT key, agent_id, status, turn_count, cumulative_cost_usd, created_at, updated_at FROM sessions`
	if !includeEnded {
		query += ` WHERE status != ?`
	}
	query += ` ORDER BY updated_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if includeEnded {
		rows, err = idx.db.Query(query)
	} else {
		rows, err = idx.db.Query(query, string(StatusEnded))
	}
	if err != nil {
		return nil, fmt.Errorf("query session index: %w", err)
	}
	defer rows.Close()

	var out []IndexedSessionInfo
	for rows.Next() {
		var (
			info               IndexedSessionInfo
			createdRaw, updRaw string
		)
		if err := rows.Scan(&info.Key, &info.AgentID, &info.Status, &info.TurnCount, &info.CostUSD, &createdRaw, &updRaw); err != nil {
			return nil, fmt.Errorf("scan session index row: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339, createdRaw)
		info.UpdatedAt, _ = time.Parse(time.RFC3339, updRaw)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes key's catalogue row, if any.
func (idx *Index) Delete(key string) error {
	_, err := idx.db.Exec(`DELETE FROM sessions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete session index row: %w", err)
	}
	return nil
}
