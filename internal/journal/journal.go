// Package journal persists an audit trail of orchestrator activity to
// sqlite: task transitions, registration attempts, delivered messages, and
// health changes. It observes the orchestrator; it never feeds state back.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jobswitch-ai/switchboard/internal/orchestrator"
)

// Config holds journal settings.
type Config struct {
	Enabled bool   `json:"enabled" envconfig:"JOURNAL_ENABLED"`
	Path    string `json:"path" envconfig:"JOURNAL_PATH"`
}

// Service writes orchestrator audit records to sqlite.
type Service struct {
	orchestrator.NopObserver
	db *sql.DB
}

// New opens (or creates) the journal database and applies the schema.
func New(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Close closes the underlying database.
func (s *Service) Close() error {
	return s.db.Close()
}

// DB exposes the handle for read-only CLI queries.
func (s *Service) DB() *sql.DB {
	return s.db
}

// TaskTransition upserts the task row and appends a transition record.
func (s *Service) TaskTransition(t orchestrator.Task) {
	var resultJSON string
	if t.Result != nil {
		if b, err := json.Marshal(t.Result); err == nil {
			resultJSON = string(b)
		}
	}
	_, err := s.db.Exec(`INSERT INTO tasks
		(task_id, agent_id, task_type, status, priority, error_text, result_json, created_at, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			error_text = excluded.error_text,
			result_json = excluded.result_json,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = datetime('now')`,
		t.TaskID, t.AgentID, t.TaskType, t.Status, t.Priority.String(),
		t.Error, resultJSON, t.CreatedAt, nullableTime(t.StartedAt), nullableTime(t.CompletedAt))
	if err != nil {
		slog.Warn("Journal task upsert failed", "task", t.TaskID, "error", err)
		return
	}
	_, err = s.db.Exec(`INSERT INTO task_transitions (task_id, agent_id, status, error_text)
		VALUES (?, ?, ?, ?)`,
		t.TaskID, t.AgentID, t.Status, t.Error)
	if err != nil {
		slog.Warn("Journal transition insert failed", "task", t.TaskID, "error", err)
	}
}

// RegistrationAttempt appends one attempt record.
func (s *Service) RegistrationAttempt(agentID string, rec orchestrator.RegistrationAttempt) {
	_, err := s.db.Exec(`INSERT INTO registration_attempts (agent_id, success, error_text, attempted_at)
		VALUES (?, ?, ?, ?)`,
		agentID, rec.Success, rec.Error, rec.Timestamp)
	if err != nil {
		slog.Warn("Journal registration insert failed", "agent", agentID, "error", err)
	}
}

// MessageDelivered records a delivered message. Payloads are deliberately
// not persisted; the journal tracks flow, not content.
func (s *Service) MessageDelivered(m orchestrator.Message) {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO messages
		(message_id, sender_id, recipient_id, message_type, correlation_id)
		VALUES (?, ?, ?, ?, ?)`,
		m.MessageID, m.SenderID, m.RecipientID, m.Type, m.CorrelationID)
	if err != nil {
		slog.Warn("Journal message insert failed", "message", m.MessageID, "error", err)
	}
}

// HealthChanged upserts the latest derived health for an agent.
func (s *Service) HealthChanged(h orchestrator.HealthStatus) {
	_, err := s.db.Exec(`INSERT INTO agent_health (agent_id, status, success_count, error_count, success_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			success_count = excluded.success_count,
			error_count = excluded.error_count,
			success_rate = excluded.success_rate,
			updated_at = datetime('now')`,
		h.AgentID, h.Status, h.SuccessCount, h.ErrorCount, h.SuccessRate)
	if err != nil {
		slog.Warn("Journal health upsert failed", "agent", h.AgentID, "error", err)
	}
}

// TaskRecord is a row from the tasks table.
type TaskRecord struct {
	TaskID      string     `json:"task_id"`
	AgentID     string     `json:"agent_id"`
	TaskType    string     `json:"task_type"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	ErrorText   string     `json:"error_text,omitempty"`
	ResultJSON  string     `json:"result_json,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TransitionRecord is a row from the task_transitions table.
type TransitionRecord struct {
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	ErrorText  string    `json:"error_text,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecentTasks returns the most recently updated tasks, newest first.
func (s *Service) RecentTasks(limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT task_id, agent_id, COALESCE(task_type,''), status,
		COALESCE(priority,''), COALESCE(error_text,''), COALESCE(result_json,''),
		created_at, completed_at
		FROM tasks ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var completed sql.NullTime
		if err := rows.Scan(&r.TaskID, &r.AgentID, &r.TaskType, &r.Status,
			&r.Priority, &r.ErrorText, &r.ResultJSON, &r.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTaskTransitions returns the transition history for one task, oldest
// first.
func (s *Service) ListTaskTransitions(taskID string) ([]TransitionRecord, error) {
	rows, err := s.db.Query(`SELECT task_id, agent_id, status, COALESCE(error_text,''), recorded_at
		FROM task_transitions WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.TaskID, &r.AgentID, &r.Status, &r.ErrorText, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TaskCounts returns the number of journaled tasks per status.
func (s *Service) TaskCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// RegistrationHistory returns attempt records for an agent, oldest first.
func (s *Service) RegistrationHistory(agentID string) ([]orchestrator.RegistrationAttempt, error) {
	rows, err := s.db.Query(`SELECT success, COALESCE(error_text,''), attempted_at
		FROM registration_attempts WHERE agent_id = ? ORDER BY id ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orchestrator.RegistrationAttempt
	for rows.Next() {
		var rec orchestrator.RegistrationAttempt
		if err := rows.Scan(&rec.Success, &rec.Error, &rec.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
