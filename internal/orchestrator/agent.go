package orchestrator

import "context"

// Agent is the contract every registered agent must satisfy. The
// orchestrator holds a reference for dispatch only; it never manages the
// agent's lifecycle beyond calling these methods.
type Agent interface {
	// AgentID returns the stable identifier used for registration and
	// task targeting.
	AgentID() string

	// ProcessRequest executes one task. input is the task payload and
	// shared is a snapshot of the orchestrator's shared context store.
	ProcessRequest(ctx context.Context, input, shared map[string]any) (map[string]any, error)

	// GetStatus confirms liveness. Called during registration and by the
	// health probe loop.
	GetStatus(ctx context.Context) (map[string]any, error)

	// GetRecommendations returns agent-specific suggestions for a user
	// profile. Part of the contract for API-layer consumers; the
	// orchestrator itself never calls it.
	GetRecommendations(ctx context.Context, profile map[string]any) ([]map[string]any, error)
}
