package orchestrator

import (
	"math/rand"
	"time"
)

// RegistrationAttempt is one entry in an agent's registration audit trail.
type RegistrationAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// RegistrationStatus records the outcome and history of an agent's
// registration. Attempts is append-only; RetryCount equals the number of
// failed attempts before eventual success or final failure.
type RegistrationStatus struct {
	AgentID          string                `json:"agent_id"`
	Registered       bool                  `json:"is_registered"`
	RegistrationTime *time.Time            `json:"registration_time,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	RetryCount       int                   `json:"retry_count"`
	ValidationPassed bool                  `json:"validation_passed"`
	Attempts         []RegistrationAttempt `json:"registration_attempts"`
}

// clone returns a deep copy safe to hand out after the lock is released.
func (s *RegistrationStatus) clone() RegistrationStatus {
	out := *s
	out.Attempts = make([]RegistrationAttempt, len(s.Attempts))
	copy(out.Attempts, s.Attempts)
	if s.RegistrationTime != nil {
		t := *s.RegistrationTime
		out.RegistrationTime = &t
	}
	return out
}

// registrationBackoff returns the exponential backoff delay before retry
// number attempt (0-based), with up to 50% random jitter added.
func registrationBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
