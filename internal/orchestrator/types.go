// Package orchestrator implements the in-process agent coordination core:
// agent registration with retry, a priority task queue with dependency
// resolution, and per-agent message delivery.
package orchestrator

import "time"

// TaskPriority orders tasks in the queue. Higher values dispatch first.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// String returns the lowercase name used in logs and JSON.
func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Task status constants. Lifecycle:
// pending -> assigned -> running -> completed | failed.
// cancelled is reachable from pending or assigned only.
const (
	TaskStatusPending   = "pending"
	TaskStatusAssigned  = "assigned"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// IsTerminalTaskStatus reports whether a task can no longer change state.
func IsTerminalTaskStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Message type constants.
const (
	MessageTypeRequest       = "request"
	MessageTypeResponse      = "response"
	MessageTypeBroadcast     = "broadcast"
	MessageTypeContextUpdate = "context_update"
	MessageTypeHealthCheck   = "health_check"
)

// Task is a unit of work targeting one agent. Once submitted it is owned
// exclusively by the orchestrator and mutated only by the execution loop.
type Task struct {
	TaskID       string         `json:"task_id"`
	AgentID      string         `json:"agent_id"`
	TaskType     string         `json:"task_type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Priority     TaskPriority   `json:"priority"`
	Status       string         `json:"status"`
	Dependencies []string       `json:"dependencies,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`

	// seq breaks priority ties so equal-priority tasks dispatch FIFO.
	seq uint64
}

// Message is a transient inter-agent message, consumed once delivered.
type Message struct {
	MessageID     string         `json:"message_id"`
	SenderID      string         `json:"sender_id"`
	RecipientID   string         `json:"recipient_id"`
	Type          string         `json:"message_type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// WorkflowStep names one task in a workflow DAG. DependsOn refers to the
// StepIDs of other steps in the same workflow.
type WorkflowStep struct {
	StepID    string         `json:"step_id"`
	AgentID   string         `json:"agent_id"`
	TaskType  string         `json:"task_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// Workflow is a DAG of steps coordinated as one logical operation.
type Workflow struct {
	WorkflowID string         `json:"workflow_id,omitempty"`
	Steps      []WorkflowStep `json:"steps"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
}

// WorkflowResult reports the outcome of a coordinated workflow.
type WorkflowResult struct {
	WorkflowID string                    `json:"workflow_id"`
	Success    bool                      `json:"success"`
	Results    map[string]map[string]any `json:"results"`
	Errors     map[string]string         `json:"errors"`
}

// Status aggregates orchestrator state for health checks and fallbacks.
type Status struct {
	Running        bool                          `json:"running"`
	Ready          bool                          `json:"ready"`
	Agents         map[string]AgentSummary       `json:"agents"`
	QueueDepth     int                           `json:"queue_depth"`
	ActiveTasks    int                           `json:"active_tasks"`
	CompletedTasks int                           `json:"completed_tasks"`
	FailedTasks    int                           `json:"failed_tasks"`
	Registrations  map[string]RegistrationStatus `json:"registrations"`
}

// AgentSummary is the per-agent slice of Status.
type AgentSummary struct {
	AgentID     string  `json:"agent_id"`
	Registered  bool    `json:"registered"`
	Health      string  `json:"health"`
	SuccessRate float64 `json:"success_rate"`
}
