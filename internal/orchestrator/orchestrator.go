package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config holds orchestrator settings.
type Config struct {
	MaxConcurrency   int           `json:"maxConcurrency" envconfig:"MAX_CONCURRENCY"`
	RegisterAttempts int           `json:"registerAttempts" envconfig:"REGISTER_ATTEMPTS"`
	RegisterBackoff  time.Duration `json:"registerBackoff"`
	AgentTimeout     time.Duration `json:"agentTimeout"`
	ProbeInterval    time.Duration `json:"probeInterval"`
	ProbeRate        float64       `json:"probeRate"` // max health probes per second
	ShutdownTimeout  time.Duration `json:"shutdownTimeout"`
	MessageBuffer    int           `json:"messageBuffer"`
}

// DefaultConfig returns sensible orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   8,
		RegisterAttempts: 3,
		RegisterBackoff:  500 * time.Millisecond,
		AgentTimeout:     60 * time.Second,
		ProbeInterval:    30 * time.Second,
		ProbeRate:        5,
		ShutdownTimeout:  15 * time.Second,
		MessageBuffer:    256,
	}
}

// Orchestrator owns the agent registry, the task queue, the health and
// registration maps, the message queue, and the shared-context store.
// Construct with New, wire observers, then Start.
type Orchestrator struct {
	cfg Config

	mu            sync.Mutex
	agents        map[string]Agent
	subs          map[string]func(Message)
	health        map[string]*healthTracker
	lastHealth    map[string]string
	registrations map[string]*RegistrationStatus
	tasks         map[string]*Task
	queue         taskQueue
	waiting       map[string]*Task
	unmet         map[string]map[string]struct{} // task id -> unmet dep ids
	dependents    map[string][]string            // dep id -> waiting task ids
	sharedCtx     map[string]map[string]any
	observers     []Observer
	completed     int
	failed        int
	seq           uint64
	running       bool
	ready         bool
	readyCh       chan struct{}
	cancel        context.CancelFunc

	msgCh    chan Message
	wakeCh   chan struct{}
	sem      *Semaphore
	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates an Orchestrator. Zero-value config fields fall back to
// DefaultConfig values.
func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.RegisterAttempts <= 0 {
		cfg.RegisterAttempts = def.RegisterAttempts
	}
	if cfg.RegisterBackoff <= 0 {
		cfg.RegisterBackoff = def.RegisterBackoff
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = def.AgentTimeout
	}
	if cfg.ProbeRate <= 0 {
		cfg.ProbeRate = def.ProbeRate
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = def.MessageBuffer
	}

	return &Orchestrator{
		cfg:           cfg,
		agents:        make(map[string]Agent),
		subs:          make(map[string]func(Message)),
		health:        make(map[string]*healthTracker),
		lastHealth:    make(map[string]string),
		registrations: make(map[string]*RegistrationStatus),
		tasks:         make(map[string]*Task),
		waiting:       make(map[string]*Task),
		unmet:         make(map[string]map[string]struct{}),
		dependents:    make(map[string][]string),
		sharedCtx:     make(map[string]map[string]any),
		readyCh:       make(chan struct{}),
		msgCh:         make(chan Message, cfg.MessageBuffer),
		wakeCh:        make(chan struct{}, 1),
		sem:           NewSemaphore(cfg.MaxConcurrency),
	}
}

// AddObserver registers an observer. Call before Start.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Start launches the execution, delivery, and health probe loops and marks
// the orchestrator ready. Idempotent.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true
	o.readyCh = make(chan struct{})
	o.mu.Unlock()

	o.wg.Add(2)
	go o.runTasks(ctx)
	go o.runMessages(ctx)
	if o.cfg.ProbeInterval > 0 {
		o.wg.Add(1)
		go o.runProbes(ctx)
	}

	o.mu.Lock()
	o.ready = true
	ready := o.readyCh
	o.mu.Unlock()
	close(ready)

	slog.Info("Orchestrator started",
		"max_concurrency", o.cfg.MaxConcurrency,
		"probe_interval", o.cfg.ProbeInterval)
	return nil
}

// Stop cancels the background loops and waits, up to ShutdownTimeout, for
// in-flight tasks to finish. Queued tasks and registration history are
// retained for post-mortem status queries.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.ready = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownTimeout):
		slog.Warn("Orchestrator stop timed out waiting for in-flight tasks",
			"timeout", o.cfg.ShutdownTimeout)
		return fmt.Errorf("stop: timed out after %s", o.cfg.ShutdownTimeout)
	}
	slog.Info("Orchestrator stopped")
	return nil
}

// WaitForReady blocks until the orchestrator is ready or the timeout
// elapses.
func (o *Orchestrator) WaitForReady(timeout time.Duration) error {
	o.mu.Lock()
	ready := o.readyCh
	o.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("orchestrator not ready after %s", timeout)
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterAgent validates the agent, then attempts up to RegisterAttempts
// times to insert it into the registry and confirm liveness via GetStatus.
// Every attempt is recorded in the agent's RegistrationStatus. Retries back
// off exponentially with jitter. Re-registering an existing id overwrites
// the registry entry (last write wins) and appends to the audit trail.
func (o *Orchestrator) RegisterAgent(ctx context.Context, agent Agent) error {
	id := strings.TrimSpace(agent.AgentID())
	if id == "" {
		return &AgentError{
			AgentID: id,
			Reason:  "invalid agent id",
			Details: map[string]any{"requested_agent": id},
		}
	}

	o.mu.Lock()
	if !o.ready {
		err := o.notRegisteredError(id, "orchestrator not ready")
		o.mu.Unlock()
		return err
	}
	st, ok := o.registrations[id]
	if !ok {
		st = &RegistrationStatus{AgentID: id}
		o.registrations[id] = st
	}
	st.ValidationPassed = true
	o.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < o.cfg.RegisterAttempts; attempt++ {
		if attempt > 0 {
			delay := registrationBackoff(o.cfg.RegisterBackoff, attempt-1)
			slog.Debug("Registration retry", "agent", id, "attempt", attempt+1, "backoff", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		o.mu.Lock()
		o.agents[id] = agent
		if o.health[id] == nil {
			o.health[id] = newHealthTracker(id)
		}
		o.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
		_, err := agent.GetStatus(cctx)
		cancel()

		rec := RegistrationAttempt{Timestamp: time.Now()}
		o.mu.Lock()
		if err != nil {
			rec.Error = err.Error()
			st.RetryCount++
			st.ErrorMessage = err.Error()
			st.Registered = false
			delete(o.agents, id)
		} else {
			rec.Success = true
			st.Registered = true
			st.ErrorMessage = ""
			now := rec.Timestamp
			st.RegistrationTime = &now
		}
		st.Attempts = append(st.Attempts, rec)
		snap := st.clone()
		o.mu.Unlock()

		o.notifyRegistrationAttempt(id, rec)
		if err == nil {
			o.notifyRegistrationResolved(snap)
			slog.Info("Agent registered", "agent", id, "attempts", attempt+1)
			return nil
		}
		lastErr = err
		slog.Warn("Agent registration attempt failed", "agent", id, "attempt", attempt+1, "error", err)
	}

	o.mu.Lock()
	st.Registered = false
	snap := st.clone()
	agentErr := o.notRegisteredError(id, "registration failed")
	o.mu.Unlock()
	agentErr.Err = lastErr

	o.notifyRegistrationResolved(snap)
	slog.Error("Agent registration exhausted retries", "agent", id, "error", lastErr)
	return agentErr
}

// UnregisterAgent removes an agent from the registry and drops its delivery
// callback. The registration audit trail is retained. Returns false if the
// agent was not registered.
func (o *Orchestrator) UnregisterAgent(agentID string) bool {
	o.mu.Lock()
	_, ok := o.agents[agentID]
	if ok {
		delete(o.agents, agentID)
		delete(o.subs, agentID)
		if st := o.registrations[agentID]; st != nil {
			st.Registered = false
		}
	}
	o.mu.Unlock()
	if ok {
		slog.Info("Agent unregistered", "agent", agentID)
	}
	return ok
}

// Subscribe registers the delivery callback for an agent id. Messages to
// that recipient are delivered to fn in submission order.
func (o *Orchestrator) Subscribe(agentID string, fn func(Message)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs[agentID] = fn
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// CreateTask validates the target agent, assigns a UUID, and enqueues the
// task. Tasks with unmet dependencies wait until every dependency is
// completed; a dependency that already failed or was cancelled fails the
// new task immediately.
func (o *Orchestrator) CreateTask(agentID, taskType string, payload map[string]any, priority TaskPriority, dependencies []string) (string, error) {
	o.mu.Lock()
	if _, ok := o.agents[agentID]; !ok {
		err := o.notRegisteredError(agentID, "agent not registered")
		o.mu.Unlock()
		return "", err
	}
	for _, dep := range dependencies {
		if _, ok := o.tasks[dep]; !ok {
			o.mu.Unlock()
			return "", fmt.Errorf("create task: unknown dependency %q", dep)
		}
	}

	t := &Task{
		TaskID:       uuid.NewString(),
		AgentID:      agentID,
		TaskType:     taskType,
		Payload:      payload,
		Priority:     priority,
		Status:       TaskStatusPending,
		Dependencies: append([]string(nil), dependencies...),
		CreatedAt:    time.Now(),
		seq:          o.seq,
	}
	o.seq++
	o.tasks[t.TaskID] = t

	pendingDeps := make(map[string]struct{})
	failedDep := ""
	for _, dep := range dependencies {
		switch o.tasks[dep].Status {
		case TaskStatusCompleted:
		case TaskStatusFailed, TaskStatusCancelled:
			failedDep = dep
		default:
			pendingDeps[dep] = struct{}{}
		}
	}

	var notify []Task
	switch {
	case failedDep != "":
		o.failTaskLocked(t, fmt.Sprintf("dependency %s %s", failedDep, o.tasks[failedDep].Status), &notify)
	case len(pendingDeps) > 0:
		o.waiting[t.TaskID] = t
		o.unmet[t.TaskID] = pendingDeps
		for dep := range pendingDeps {
			o.dependents[dep] = append(o.dependents[dep], t.TaskID)
		}
		notify = append(notify, t.snapshot())
	default:
		o.queue.push(t)
		notify = append(notify, t.snapshot())
	}
	o.mu.Unlock()

	for _, snap := range notify {
		o.notifyTaskTransition(snap)
	}
	o.wake()
	slog.Debug("Task created", "task", t.TaskID, "agent", agentID, "type", taskType, "priority", priority)
	return t.TaskID, nil
}

// GetTaskStatus returns a snapshot of the task, or false if unknown.
func (o *Orchestrator) GetTaskStatus(taskID string) (Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// CancelTask cancels a pending or assigned task. Returns false for running
// or terminal tasks; tearing down in-flight work is deliberately not
// supported. Tasks waiting on a cancelled task fail without execution.
func (o *Orchestrator) CancelTask(taskID string) bool {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok || (t.Status != TaskStatusPending && t.Status != TaskStatusAssigned) {
		o.mu.Unlock()
		return false
	}
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	delete(o.waiting, t.TaskID)
	delete(o.unmet, t.TaskID)

	notify := []Task{t.snapshot()}
	o.failDependentsLocked(t.TaskID, fmt.Sprintf("dependency %s cancelled", t.TaskID), &notify)
	o.mu.Unlock()

	for _, snap := range notify {
		o.notifyTaskTransition(snap)
	}
	slog.Info("Task cancelled", "task", taskID)
	return true
}

// runTasks is the execution loop. A worker slot is acquired before the
// queue is popped, so the highest-priority ready task at dispatch time wins
// the slot. Already-dispatched tasks are never preempted.
func (o *Orchestrator) runTasks(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wakeCh:
		}

		for {
			o.mu.Lock()
			empty := o.queue.Len() == 0
			o.mu.Unlock()
			if empty {
				break
			}

			if err := o.sem.Acquire(ctx); err != nil {
				return
			}

			o.mu.Lock()
			t := o.queue.pop()
			for t != nil && t.Status != TaskStatusPending {
				// Cancelled while queued.
				t = o.queue.pop()
			}
			if t == nil {
				o.mu.Unlock()
				o.sem.Release()
				break
			}
			t.Status = TaskStatusAssigned
			snap := t.snapshot()
			o.mu.Unlock()
			o.notifyTaskTransition(snap)

			o.inflight.Add(1)
			go o.execute(ctx, t.TaskID)
		}
	}
}

// execute runs one assigned task on a worker slot. Errors are stored on the
// task and counted against the agent's health; they never propagate to the
// loop.
func (o *Orchestrator) execute(ctx context.Context, taskID string) {
	defer o.inflight.Done()
	defer o.sem.Release()

	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok || t.Status != TaskStatusAssigned {
		// Cancelled between assignment and execution.
		o.mu.Unlock()
		return
	}
	agent := o.agents[t.AgentID]
	started := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &started
	input := t.Payload
	shared := o.sharedContextSnapshotLocked()
	snap := t.snapshot()
	o.mu.Unlock()
	o.notifyTaskTransition(snap)

	var (
		result map[string]any
		err    error
	)
	if agent == nil {
		err = fmt.Errorf("agent %s unregistered before execution", t.AgentID)
	} else {
		// Detached from the loop context so Stop can wait for in-flight
		// work instead of killing it; AgentTimeout still bounds the call.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AgentTimeout)
		result, err = agent.ProcessRequest(cctx, input, shared)
		cancel()
	}
	elapsed := time.Since(started)

	var notify []Task
	o.mu.Lock()
	now := time.Now()
	t.CompletedAt = &now
	if err != nil {
		t.Status = TaskStatusFailed
		t.Error = err.Error()
		o.failed++
		notify = append(notify, t.snapshot())
		o.failDependentsLocked(t.TaskID, fmt.Sprintf("dependency %s failed", t.TaskID), &notify)
	} else {
		t.Status = TaskStatusCompleted
		t.Result = result
		o.completed++
		notify = append(notify, t.snapshot())
		o.releaseDependentsLocked(t.TaskID, &notify)
	}
	o.mu.Unlock()

	o.recordAgentResult(t.AgentID, err == nil, elapsed)
	for _, s := range notify {
		o.notifyTaskTransition(s)
	}
	o.wake()

	if err != nil {
		slog.Warn("Task failed", "task", t.TaskID, "agent", t.AgentID, "error", err)
	} else {
		slog.Debug("Task completed", "task", t.TaskID, "agent", t.AgentID, "elapsed", elapsed)
	}
}

// releaseDependentsLocked moves tasks whose last unmet dependency just
// completed from the waiting set to the ready queue.
func (o *Orchestrator) releaseDependentsLocked(depID string, notify *[]Task) {
	for _, id := range o.dependents[depID] {
		deps, ok := o.unmet[id]
		if !ok {
			continue
		}
		delete(deps, depID)
		if len(deps) > 0 {
			continue
		}
		delete(o.unmet, id)
		t := o.waiting[id]
		delete(o.waiting, id)
		if t != nil && t.Status == TaskStatusPending {
			o.queue.push(t)
			*notify = append(*notify, t.snapshot())
		}
	}
	delete(o.dependents, depID)
}

// failDependentsLocked marks every task waiting (transitively) on depID as
// failed without execution.
func (o *Orchestrator) failDependentsLocked(depID, reason string, notify *[]Task) {
	ids := o.dependents[depID]
	delete(o.dependents, depID)
	for _, id := range ids {
		t := o.waiting[id]
		if t == nil || IsTerminalTaskStatus(t.Status) {
			continue
		}
		delete(o.waiting, id)
		delete(o.unmet, id)
		o.failTaskLocked(t, reason, notify)
	}
}

// failTaskLocked finalizes a task as failed without execution and cascades
// to its own dependents.
func (o *Orchestrator) failTaskLocked(t *Task, reason string, notify *[]Task) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.Error = reason
	t.CompletedAt = &now
	o.failed++
	*notify = append(*notify, t.snapshot())
	o.failDependentsLocked(t.TaskID, fmt.Sprintf("dependency %s failed", t.TaskID), notify)
}

// wake nudges the execution loop without blocking.
func (o *Orchestrator) wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// snapshot returns a copy safe to hand out after the lock is released.
// Payload and Result are copied too so callers never alias the live maps.
func (t *Task) snapshot() Task {
	out := *t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.Payload = copyMap(t.Payload)
	out.Result = copyMap(t.Result)
	if t.StartedAt != nil {
		v := *t.StartedAt
		out.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Messaging and shared context
// ---------------------------------------------------------------------------

// SendMessage enqueues a message for delivery. Delivery is fire-and-forget:
// no acknowledgement, no retry. Messages to a given recipient are delivered
// in submission order.
func (o *Orchestrator) SendMessage(senderID, recipientID, messageType string, payload map[string]any, correlationID string) (string, error) {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return "", fmt.Errorf("send message: orchestrator not running")
	}

	m := Message{
		MessageID:     uuid.NewString(),
		SenderID:      senderID,
		RecipientID:   recipientID,
		Type:          messageType,
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}
	o.msgCh <- m
	return m.MessageID, nil
}

// BroadcastContextUpdate merges update into the shared-context store under
// contextKey, then delivers a context_update message to every registered
// agent.
func (o *Orchestrator) BroadcastContextUpdate(update map[string]any, contextKey string) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return fmt.Errorf("broadcast: orchestrator not running")
	}
	entry := o.sharedCtx[contextKey]
	if entry == nil {
		entry = make(map[string]any, len(update))
		o.sharedCtx[contextKey] = entry
	}
	for k, v := range update {
		entry[k] = v
	}
	recipients := make([]string, 0, len(o.agents))
	for id := range o.agents {
		recipients = append(recipients, id)
	}
	o.mu.Unlock()

	sort.Strings(recipients)
	payload := map[string]any{"context_key": contextKey, "update": update}
	for _, id := range recipients {
		if _, err := o.SendMessage("orchestrator", id, MessageTypeContextUpdate, payload, ""); err != nil {
			return err
		}
	}
	return nil
}

// GetSharedContext returns a copy of the shared context stored under key.
func (o *Orchestrator) GetSharedContext(contextKey string) map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.sharedCtx[contextKey]
	out := make(map[string]any, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out
}

// sharedContextSnapshotLocked copies the whole store for handing to agents.
func (o *Orchestrator) sharedContextSnapshotLocked() map[string]any {
	out := make(map[string]any, len(o.sharedCtx))
	for key, entry := range o.sharedCtx {
		inner := make(map[string]any, len(entry))
		for k, v := range entry {
			inner[k] = v
		}
		out[key] = inner
	}
	return out
}

// runMessages is the delivery loop. A single consumer preserves submission
// order per recipient.
func (o *Orchestrator) runMessages(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-o.msgCh:
			o.mu.Lock()
			fn := o.subs[m.RecipientID]
			o.mu.Unlock()
			if fn == nil {
				slog.Debug("Message dropped: no delivery callback", "recipient", m.RecipientID, "type", m.Type)
				continue
			}
			fn(m)
			o.notifyMessageDelivered(m)
		}
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// runProbes periodically confirms agent liveness via GetStatus, paced by a
// rate limiter so a large registry does not burst probes.
func (o *Orchestrator) runProbes(ctx context.Context) {
	defer o.wg.Done()
	limiter := rate.NewLimiter(rate.Limit(o.cfg.ProbeRate), 1)
	ticker := time.NewTicker(o.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		agents := make(map[string]Agent, len(o.agents))
		for id, a := range o.agents {
			agents[id] = a
		}
		o.mu.Unlock()

		for id, a := range agents {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			started := time.Now()
			cctx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
			_, err := a.GetStatus(cctx)
			cancel()
			o.recordAgentResult(id, err == nil, time.Since(started))
			if err != nil {
				slog.Warn("Health probe failed", "agent", id, "error", err)
			}
		}
	}
}

// recordAgentResult feeds the agent's health tracker and notifies observers
// when the derived status flips.
func (o *Orchestrator) recordAgentResult(agentID string, success bool, elapsed time.Duration) {
	o.mu.Lock()
	tr := o.health[agentID]
	if tr == nil {
		tr = newHealthTracker(agentID)
		o.health[agentID] = tr
	}
	o.mu.Unlock()

	if success {
		tr.RecordSuccess(elapsed)
	} else {
		tr.RecordFailure()
	}
	snap := tr.Snapshot()

	o.mu.Lock()
	changed := o.lastHealth[agentID] != snap.Status
	o.lastHealth[agentID] = snap.Status
	o.mu.Unlock()

	if changed {
		slog.Info("Agent health changed", "agent", agentID, "status", snap.Status,
			"success_rate", fmt.Sprintf("%.2f", snap.SuccessRate))
		o.notifyHealthChanged(snap)
	}
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status aggregates the running flag, readiness, per-agent summaries, queue
// depth, and task counters.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Running:        o.running,
		Ready:          o.ready,
		Agents:         make(map[string]AgentSummary, len(o.agents)),
		QueueDepth:     len(o.waiting),
		CompletedTasks: o.completed,
		FailedTasks:    o.failed,
		Registrations:  make(map[string]RegistrationStatus, len(o.registrations)),
	}
	// Tasks cancelled while queued stay in the heap until the loop drains
	// them; they no longer count toward depth.
	for _, t := range o.queue {
		if t.Status == TaskStatusPending {
			st.QueueDepth++
		}
	}
	for _, t := range o.tasks {
		if t.Status == TaskStatusAssigned || t.Status == TaskStatusRunning {
			st.ActiveTasks++
		}
	}
	for id := range o.agents {
		summary := AgentSummary{AgentID: id, Registered: true, Health: HealthHealthy, SuccessRate: 1}
		if tr := o.health[id]; tr != nil {
			h := tr.Snapshot()
			summary.Health = h.Status
			summary.SuccessRate = h.SuccessRate
		}
		st.Agents[id] = summary
	}
	for id, reg := range o.registrations {
		st.Registrations[id] = reg.clone()
	}
	return st
}

// GetAgentStatus returns the agent's current health snapshot.
func (o *Orchestrator) GetAgentStatus(agentID string) (HealthStatus, bool) {
	o.mu.Lock()
	tr := o.health[agentID]
	o.mu.Unlock()
	if tr == nil {
		return HealthStatus{}, false
	}
	return tr.Snapshot(), true
}

// GetAgentRegistrationStatus returns the registration audit trail for one
// agent.
func (o *Orchestrator) GetAgentRegistrationStatus(agentID string) (RegistrationStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.registrations[agentID]
	if !ok {
		return RegistrationStatus{}, false
	}
	return st.clone(), true
}

// GetAllAgentRegistrationStatus returns every known registration record,
// including agents that later unregistered or never succeeded.
func (o *Orchestrator) GetAllAgentRegistrationStatus() map[string]RegistrationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]RegistrationStatus, len(o.registrations))
	for id, st := range o.registrations {
		out[id] = st.clone()
	}
	return out
}

// RegisteredAgents returns the sorted ids of currently registered agents.
func (o *Orchestrator) RegisteredAgents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.agents))
	for id := range o.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Observer fan-out
// ---------------------------------------------------------------------------

func (o *Orchestrator) snapshotObservers() []Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Observer(nil), o.observers...)
}

func (o *Orchestrator) notifyTaskTransition(t Task) {
	for _, obs := range o.snapshotObservers() {
		obs.TaskTransition(t)
	}
}

func (o *Orchestrator) notifyRegistrationAttempt(agentID string, rec RegistrationAttempt) {
	for _, obs := range o.snapshotObservers() {
		obs.RegistrationAttempt(agentID, rec)
	}
}

func (o *Orchestrator) notifyRegistrationResolved(st RegistrationStatus) {
	for _, obs := range o.snapshotObservers() {
		obs.RegistrationResolved(st)
	}
}

func (o *Orchestrator) notifyMessageDelivered(m Message) {
	for _, obs := range o.snapshotObservers() {
		obs.MessageDelivered(m)
	}
}

func (o *Orchestrator) notifyHealthChanged(h HealthStatus) {
	for _, obs := range o.snapshotObservers() {
		obs.HealthChanged(h)
	}
}
