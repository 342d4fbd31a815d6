package cli

import (
	"context"
	"fmt"

	"github.com/jobswitch-ai/switchboard/internal/orchestrator"
)

// Built-in fleet agent IDs.
const (
	agentJobDiscovery  = "job_discovery"
	agentResume        = "resume_optimization"
	agentInterviewPrep = "interview_prep"
)

// demoAgent is a self-contained in-process agent used by the run command
// until real agent backends are plugged in.
type demoAgent struct {
	id      string
	handler func(ctx context.Context, input, shared map[string]any) (map[string]any, error)
}

func (a *demoAgent) AgentID() string { return a.id }

func (a *demoAgent) ProcessRequest(ctx context.Context, input, shared map[string]any) (map[string]any, error) {
	return a.handler(ctx, input, shared)
}

func (a *demoAgent) GetStatus(ctx context.Context) (map[string]any, error) {
	return map[string]any{"agent": a.id, "state": "idle"}, nil
}

func (a *demoAgent) GetRecommendations(ctx context.Context, profile map[string]any) ([]map[string]any, error) {
	return []map[string]any{{"agent": a.id, "recommendation": "complete your profile"}}, nil
}

func demoFleet() []orchestrator.Agent {
	return []orchestrator.Agent{
		&demoAgent{id: agentJobDiscovery, handler: discoverJobs},
		&demoAgent{id: agentResume, handler: optimizeResume},
		&demoAgent{id: agentInterviewPrep, handler: prepInterview},
	}
}

func discoverJobs(ctx context.Context, input, shared map[string]any) (map[string]any, error) {
	role := "Software Engineer"
	if profile, ok := shared["user_profile"].(map[string]any); ok {
		if r, ok := profile["target_role"].(string); ok && r != "" {
			role = r
		}
	}
	return map[string]any{
		"matched_jobs": []map[string]any{
			{"title": role, "company": "Acme Corp", "score": 0.92},
			{"title": role, "company": "Initech", "score": 0.81},
		},
		"query": role,
	}, nil
}

func optimizeResume(ctx context.Context, input, shared map[string]any) (map[string]any, error) {
	return map[string]any{
		"sections_rewritten": 3,
		"keywords_added":     []string{"distributed systems", "Go", "Kafka"},
	}, nil
}

func prepInterview(ctx context.Context, input, shared map[string]any) (map[string]any, error) {
	profile, _ := shared["user_profile"].(map[string]any)
	if profile == nil {
		return nil, fmt.Errorf("no user profile in shared context")
	}
	return map[string]any{
		"questions": []string{
			"Walk me through a system you designed end to end.",
			"How do you handle backpressure in a task queue?",
		},
	}, nil
}
