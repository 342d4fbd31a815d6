// Package events publishes orchestrator lifecycle events to Kafka so
// external consumers (dashboards, the API layer's fallback cache) can track
// task and agent state without polling. Publishing is best-effort: the
// orchestrator never blocks on the broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jobswitch-ai/switchboard/internal/orchestrator"
)

// Config holds event publisher settings.
type Config struct {
	Enabled bool   `json:"enabled" envconfig:"EVENTS_ENABLED"`
	Brokers string `json:"brokers" envconfig:"EVENTS_BROKERS"` // comma-separated host:port list
	Topic   string `json:"topic" envconfig:"EVENTS_TOPIC"`
}

// Event kinds.
const (
	KindTask         = "task"
	KindRegistration = "registration"
	KindMessage      = "message"
	KindHealth       = "health"
)

// Envelope is the JSON document published per event. Exactly one of the
// typed fields is set, matching Kind.
type Envelope struct {
	Kind         string                           `json:"kind"`
	AgentID      string                           `json:"agent_id"`
	Task         *orchestrator.Task               `json:"task,omitempty"`
	Registration *orchestrator.RegistrationStatus `json:"registration,omitempty"`
	Message      *orchestrator.Message            `json:"message,omitempty"`
	Health       *orchestrator.HealthStatus       `json:"health,omitempty"`
	Timestamp    time.Time                        `json:"timestamp"`
}

// writer is the subset of kafka.Writer the publisher needs.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements orchestrator.Observer by forwarding events to a
// Kafka topic through a buffered channel and a single pump goroutine.
// Events are dropped, with a warning, when the buffer is full.
type Publisher struct {
	orchestrator.NopObserver
	w       writer
	ch      chan Envelope
	cancel  context.CancelFunc
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewPublisher creates a Publisher for the configured brokers and topic.
func NewPublisher(cfg Config) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w)
}

func newPublisher(w writer) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		w:      w,
		ch:     make(chan Envelope, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.pump(ctx)
	return p
}

// Close stops the pump, flushes nothing further, and closes the writer.
func (p *Publisher) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	p.cancel()
	<-p.done
	return p.w.Close()
}

func (p *Publisher) pump(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.ch:
			body, err := json.Marshal(env)
			if err != nil {
				slog.Warn("Event marshal failed", "kind", env.Kind, "error", err)
				continue
			}
			err = p.w.WriteMessages(ctx, kafka.Message{
				Key:   []byte(env.AgentID),
				Value: body,
			})
			if err != nil && ctx.Err() == nil {
				slog.Warn("Event publish failed", "kind", env.Kind, "agent", env.AgentID, "error", err)
			}
		}
	}
}

func (p *Publisher) enqueue(env Envelope) {
	env.Timestamp = time.Now()
	select {
	case p.ch <- env:
	default:
		slog.Warn("Event buffer full, dropping", "kind", env.Kind, "agent", env.AgentID)
	}
}

// TaskTransition publishes a task state change.
func (p *Publisher) TaskTransition(t orchestrator.Task) {
	p.enqueue(Envelope{Kind: KindTask, AgentID: t.AgentID, Task: &t})
}

// RegistrationResolved publishes a finished registration.
func (p *Publisher) RegistrationResolved(st orchestrator.RegistrationStatus) {
	p.enqueue(Envelope{Kind: KindRegistration, AgentID: st.AgentID, Registration: &st})
}

// MessageDelivered publishes message flow metadata. The payload is cleared:
// the event stream tracks flow, not content.
func (p *Publisher) MessageDelivered(m orchestrator.Message) {
	m.Payload = nil
	p.enqueue(Envelope{Kind: KindMessage, AgentID: m.RecipientID, Message: &m})
}

// HealthChanged publishes a derived health flip.
func (p *Publisher) HealthChanged(h orchestrator.HealthStatus) {
	p.enqueue(Envelope{Kind: KindHealth, AgentID: h.AgentID, Health: &h})
}
