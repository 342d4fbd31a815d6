package orchestrator

// Observer is notified of orchestrator lifecycle events. Implementations
// must return quickly; slow work belongs on the implementation's own
// goroutine. Callbacks are invoked outside the orchestrator's lock but
// from its internal goroutines, so implementations must be safe for
// concurrent use.
type Observer interface {
	// TaskTransition fires on every task status change, with a snapshot
	// of the task after the change.
	TaskTransition(t Task)

	// RegistrationAttempt fires once per registration attempt.
	RegistrationAttempt(agentID string, attempt RegistrationAttempt)

	// RegistrationResolved fires when a registration finishes, either
	// successfully or after exhausting retries.
	RegistrationResolved(status RegistrationStatus)

	// MessageDelivered fires after a message reaches its recipient's
	// delivery callback.
	MessageDelivered(m Message)

	// HealthChanged fires when an agent's derived health status flips.
	HealthChanged(h HealthStatus)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) TaskTransition(Task)                             {}
func (NopObserver) RegistrationAttempt(string, RegistrationAttempt) {}
func (NopObserver) RegistrationResolved(RegistrationStatus)         {}
func (NopObserver) MessageDelivered(Message)                        {}
func (NopObserver) HealthChanged(HealthStatus)                      {}
