package journal

// Schema creates the journal tables. The journal is a derived audit store:
// the orchestrator's in-memory maps remain the source of truth.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	task_type TEXT,
	status TEXT NOT NULL,
	priority TEXT,
	error_text TEXT,
	result_json TEXT,
	created_at DATETIME,
	started_at DATETIME,
	completed_at DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id);

CREATE TABLE IF NOT EXISTS task_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error_text TEXT,
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transitions_task ON task_transitions(task_id);

CREATE TABLE IF NOT EXISTS registration_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	error_text TEXT,
	attempted_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registration_agent ON registration_attempts(agent_id);

CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	message_type TEXT NOT NULL,
	correlation_id TEXT,
	delivered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id);

CREATE TABLE IF NOT EXISTS agent_health (
	agent_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 1.0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
