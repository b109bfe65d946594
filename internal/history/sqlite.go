package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/taskmesh/internal/task"
)

// SQLiteStore persists history records across runs.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Verify SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the history database under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_history (
		task_id TEXT NOT NULL,
		agent_id TEXT,
		type TEXT NOT NULL,
		priority TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		memory_mb REAL NOT NULL DEFAULT 0,
		cpu_percent REAL NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_type ON task_history(type);
	CREATE INDEX IF NOT EXISTS idx_history_agent ON task_history(agent_id, type);
	CREATE INDEX IF NOT EXISTS idx_history_recorded ON task_history(recorded_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Record(rec task.HistoryRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO task_history
			(task_id, agent_id, type, priority, duration_ms, success, memory_mb, cpu_percent, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.AgentID, string(rec.Type), string(rec.Priority),
		rec.Duration.Milliseconds(), boolInt(rec.Success),
		rec.MemoryMB, rec.CPUPercent, rec.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SuccessRate(typ task.Type) (float64, bool) {
	var total, ok int
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM task_history WHERE type = ?`, string(typ)).Scan(&total, &ok)
	if err != nil || total == 0 {
		return 0, false
	}
	return float64(ok) / float64(total), true
}

func (s *SQLiteStore) AvgDuration(typ task.Type) (time.Duration, bool) {
	var avgMs sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT AVG(duration_ms)
		FROM task_history WHERE type = ? AND success = 1`, string(typ)).Scan(&avgMs)
	if err != nil || !avgMs.Valid {
		return 0, false
	}
	return time.Duration(avgMs.Float64) * time.Millisecond, true
}

func (s *SQLiteStore) AgentScore(agentID string, typ task.Type) (float64, bool) {
	var agentOK, agentTotal int
	var agentMs sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0), SUM(CASE WHEN success = 1 THEN duration_ms ELSE 0 END)
		FROM task_history WHERE agent_id = ? AND type = ?`,
		agentID, string(typ)).Scan(&agentTotal, &agentOK, &agentMs)
	if err != nil || agentTotal == 0 {
		return 0, false
	}

	var typeRuns int
	var typeMs sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT COUNT(*), SUM(duration_ms)
		FROM task_history WHERE type = ? AND success = 1`, string(typ)).Scan(&typeRuns, &typeMs)
	if err != nil {
		return 0, false
	}

	agentDur := time.Duration(agentMs.Float64) * time.Millisecond
	typeDur := time.Duration(typeMs.Float64) * time.Millisecond
	return composite(agentOK, agentTotal, agentDur, typeDur, typeRuns), true
}

func (s *SQLiteStore) SuccessRates() map[task.Type]float64 {
	rows, err := s.db.Query(`
		SELECT type, COUNT(*), COALESCE(SUM(success), 0)
		FROM task_history GROUP BY type`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	out := make(map[task.Type]float64)
	for rows.Next() {
		var typ string
		var total, ok int
		if err := rows.Scan(&typ, &total, &ok); err != nil {
			continue
		}
		if total > 0 {
			out[task.Type(typ)] = float64(ok) / float64(total)
		}
	}
	return out
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
