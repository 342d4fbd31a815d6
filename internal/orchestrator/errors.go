package orchestrator

import "fmt"

// AgentError is returned for agent-level failures: unknown agent, failed
// registration, orchestrator not ready. Details carries structured context
// so API callers can build an informative user-facing fallback message.
type AgentError struct {
	AgentID string
	Reason  string
	Details map[string]any
	Err     error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s: %s: %v", e.AgentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("agent %s: %s", e.AgentID, e.Reason)
}

func (e *AgentError) Unwrap() error { return e.Err }

// notRegisteredError builds the structured error shared by CreateTask and
// registration when the target agent is unknown. Callers must hold o.mu.
func (o *Orchestrator) notRegisteredError(agentID, reason string) *AgentError {
	registered := make([]string, 0, len(o.agents))
	for id := range o.agents {
		registered = append(registered, id)
	}
	details := map[string]any{
		"requested_agent":    agentID,
		"registered_agents":  registered,
		"total_registered":   len(registered),
		"orchestrator_ready": o.ready,
	}
	if st, ok := o.registrations[agentID]; ok {
		details["last_registration_status"] = st.clone()
	}
	return &AgentError{AgentID: agentID, Reason: reason, Details: details}
}
