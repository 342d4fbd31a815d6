package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeAgent is a scriptable Agent for tests.
type fakeAgent struct {
	id string

	mu          sync.Mutex
	statusErrs  []error // consumed one per GetStatus call, then nil
	statusCalls int
	gate        chan struct{} // if set, ProcessRequest blocks until closed
	failTypes   map[string]bool
	delay       time.Duration
	order       *executionLog
}

type executionLog struct {
	mu    sync.Mutex
	types []string
}

func (l *executionLog) append(taskType string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, taskType)
}

func (l *executionLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.types...)
}

func (a *fakeAgent) AgentID() string { return a.id }

func (a *fakeAgent) ProcessRequest(ctx context.Context, input, shared map[string]any) (map[string]any, error) {
	a.mu.Lock()
	gate := a.gate
	delay := a.delay
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	taskType, _ := input["task_type"].(string)
	if a.order != nil {
		a.order.append(taskType)
	}
	if a.failTypes[taskType] {
		return nil, fmt.Errorf("scripted failure for %s", taskType)
	}
	return map[string]any{"echo": taskType}, nil
}

func (a *fakeAgent) GetStatus(ctx context.Context) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusCalls++
	if len(a.statusErrs) > 0 {
		err := a.statusErrs[0]
		a.statusErrs = a.statusErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"status": "ok"}, nil
}

func (a *fakeAgent) GetRecommendations(ctx context.Context, profile map[string]any) ([]map[string]any, error) {
	return nil, nil
}

func testConfig() Config {
	return Config{
		MaxConcurrency:   4,
		RegisterAttempts: 3,
		RegisterBackoff:  time.Millisecond,
		AgentTimeout:     time.Second,
		ProbeInterval:    -1, // probes disabled unless a test opts in
		ShutdownTimeout:  5 * time.Second,
	}
}

func startOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o := New(cfg)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { o.Stop() })
	if err := o.WaitForReady(time.Second); err != nil {
		t.Fatalf("wait for ready: %v", err)
	}
	return o
}

func mustRegister(t *testing.T, o *Orchestrator, a Agent) {
	t.Helper()
	if err := o.RegisterAgent(context.Background(), a); err != nil {
		t.Fatalf("register %s: %v", a.AgentID(), err)
	}
}

func mustCreateTask(t *testing.T, o *Orchestrator, agentID, taskType string, deps []string) string {
	t.Helper()
	id, err := o.CreateTask(agentID, taskType, map[string]any{"task_type": taskType}, PriorityMedium, deps)
	if err != nil {
		t.Fatalf("create task %s: %v", taskType, err)
	}
	return id
}

func waitForStatus(t *testing.T, o *Orchestrator, taskID, want string) Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := o.GetTaskStatus(taskID)
		if ok && task.Status == want {
			return task
		}
		if ok && IsTerminalTaskStatus(task.Status) && task.Status != want {
			t.Fatalf("task %s reached %s (error %q), want %s", taskID, task.Status, task.Error, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := o.GetTaskStatus(taskID)
	t.Fatalf("task %s stuck in %s, want %s", taskID, task.Status, want)
	return Task{}
}

func TestRegisterAgentBeforeStart(t *testing.T) {
	o := New(testConfig())
	err := o.RegisterAgent(context.Background(), &fakeAgent{id: "a"})
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected AgentError, got %v", err)
	}
	if ready, _ := agentErr.Details["orchestrator_ready"].(bool); ready {
		t.Error("details should report orchestrator not ready")
	}
}

func TestRegisterAgentEmptyID(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	err := o.RegisterAgent(context.Background(), &fakeAgent{id: "  "})
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected AgentError, got %v", err)
	}
}

func TestRegisterRetriesThenSucceeds(t *testing.T) {
	o := startOrchestrator(t, testConfig())

	b := &fakeAgent{id: "b", statusErrs: []error{errors.New("warming up")}}
	mustRegister(t, o, b)

	st, ok := o.GetAgentRegistrationStatus("b")
	if !ok {
		t.Fatal("expected registration status for b")
	}
	if !st.Registered {
		t.Error("b should be registered")
	}
	if st.RetryCount < 1 {
		t.Errorf("retry_count = %d, want >= 1", st.RetryCount)
	}
	if len(st.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(st.Attempts))
	}
	if st.Attempts[0].Success || !st.Attempts[1].Success {
		t.Errorf("attempt pattern wrong: %+v", st.Attempts)
	}
}

func TestRegisterExhaustsRetries(t *testing.T) {
	o := startOrchestrator(t, testConfig())

	bad := &fakeAgent{id: "bad", statusErrs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	err := o.RegisterAgent(context.Background(), bad)
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected AgentError, got %v", err)
	}
	if agentErr.Details["requested_agent"] != "bad" {
		t.Errorf("requested_agent = %v", agentErr.Details["requested_agent"])
	}
	if len(o.RegisteredAgents()) != 0 {
		t.Errorf("registry should be empty, got %v", o.RegisteredAgents())
	}
	st, _ := o.GetAgentRegistrationStatus("bad")
	if st.Registered {
		t.Error("bad should not be registered")
	}
	if st.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", st.RetryCount)
	}
}

func TestReregisterSameIDLastWriteWins(t *testing.T) {
	o := startOrchestrator(t, testConfig())

	mustRegister(t, o, &fakeAgent{id: "a"})
	mustRegister(t, o, &fakeAgent{id: "a"})

	if got := o.RegisteredAgents(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("registry = %v, want exactly [a]", got)
	}
	st, _ := o.GetAgentRegistrationStatus("a")
	if len(st.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(st.Attempts))
	}
}

func TestCreateTaskUnknownAgent(t *testing.T) {
	o := startOrchestrator(t, testConfig())

	_, err := o.CreateTask("ghost", "discover", nil, PriorityMedium, nil)
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected AgentError, got %v", err)
	}
	if agentErr.Details["requested_agent"] != "ghost" {
		t.Errorf("requested_agent = %v, want ghost", agentErr.Details["requested_agent"])
	}
	if agentErr.Details["total_registered"] != 0 {
		t.Errorf("total_registered = %v, want 0", agentErr.Details["total_registered"])
	}
	if ready, _ := agentErr.Details["orchestrator_ready"].(bool); !ready {
		t.Error("orchestrator_ready should be true")
	}
	if st := o.Status(); st.QueueDepth != 0 {
		t.Errorf("queue depth = %d, want 0 (nothing enqueued)", st.QueueDepth)
	}
}

func TestTaskExecutesAndRecordsResult(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a"})

	id := mustCreateTask(t, o, "a", "discover", nil)
	task := waitForStatus(t, o, id, TaskStatusCompleted)

	if task.Result["echo"] != "discover" {
		t.Errorf("result = %v", task.Result)
	}
	if task.StartedAt == nil || task.CompletedAt == nil {
		t.Fatal("timestamps not set")
	}
	health, ok := o.GetAgentStatus("a")
	if !ok || health.SuccessCount < 1 {
		t.Errorf("health not updated: %+v", health)
	}
}

func TestDependencyOrdering(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a", delay: 10 * time.Millisecond})

	t1 := mustCreateTask(t, o, "a", "first", nil)
	t2 := mustCreateTask(t, o, "a", "second", []string{t1})

	done1 := waitForStatus(t, o, t1, TaskStatusCompleted)
	done2 := waitForStatus(t, o, t2, TaskStatusCompleted)

	if done2.StartedAt.Before(*done1.CompletedAt) {
		t.Errorf("task2 started %v before task1 completed %v",
			done2.StartedAt, done1.CompletedAt)
	}
}

func TestPriorityOrderingUnderContention(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	o := startOrchestrator(t, cfg)

	gate := make(chan struct{})
	log := &executionLog{}
	agent := &fakeAgent{id: "a", gate: gate, order: log}
	mustRegister(t, o, agent)

	blocker := mustCreateTask(t, o, "a", "blocker", nil)
	waitForStatus(t, o, blocker, TaskStatusRunning)

	low, _ := o.CreateTask("a", "low", map[string]any{"task_type": "low"}, PriorityLow, nil)
	urgent, _ := o.CreateTask("a", "urgent", map[string]any{"task_type": "urgent"}, PriorityUrgent, nil)
	med, _ := o.CreateTask("a", "medium", map[string]any{"task_type": "medium"}, PriorityMedium, nil)

	agent.mu.Lock()
	agent.gate = nil
	agent.mu.Unlock()
	close(gate)

	for _, id := range []string{low, urgent, med} {
		waitForStatus(t, o, id, TaskStatusCompleted)
	}

	got := log.snapshot()
	want := []string{"blocker", "urgent", "medium", "low"}
	if len(got) != len(want) {
		t.Fatalf("execution log = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestCancelTask(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	gate := make(chan struct{})
	defer close(gate)
	mustRegister(t, o, &fakeAgent{id: "a", gate: gate})

	t1 := mustCreateTask(t, o, "a", "blocked", nil)
	waitForStatus(t, o, t1, TaskStatusRunning)
	t2 := mustCreateTask(t, o, "a", "waiting", []string{t1})
	t3 := mustCreateTask(t, o, "a", "downstream", []string{t2})

	if o.CancelTask(t1) {
		t.Error("cancelling a running task must fail")
	}
	if !o.CancelTask(t2) {
		t.Error("cancelling a pending task must succeed")
	}
	if o.CancelTask(t2) {
		t.Error("second cancel must fail")
	}

	task3 := waitForStatus(t, o, t3, TaskStatusFailed)
	if task3.Error == "" {
		t.Error("downstream task should carry a dependency failure reason")
	}
	if o.CancelTask("nope") {
		t.Error("cancelling an unknown task must fail")
	}
}

func TestFailedDependencyCascades(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a", failTypes: map[string]bool{"boom": true}})

	t1 := mustCreateTask(t, o, "a", "boom", nil)
	t2 := mustCreateTask(t, o, "a", "after", []string{t1})
	t3 := mustCreateTask(t, o, "a", "independent", nil)

	waitForStatus(t, o, t1, TaskStatusFailed)
	task2 := waitForStatus(t, o, t2, TaskStatusFailed)
	if task2.StartedAt != nil {
		t.Error("task2 must never start")
	}
	waitForStatus(t, o, t3, TaskStatusCompleted)
}

func TestCreateTaskUnknownDependency(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a"})
	if _, err := o.CreateTask("a", "x", nil, PriorityMedium, []string{"missing"}); err == nil {
		t.Error("expected error for unknown dependency")
	}
}

func TestMessageDeliveryOrder(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a"})

	var mu sync.Mutex
	var got []string
	delivered := make(chan struct{}, 16)
	o.Subscribe("a", func(m Message) {
		mu.Lock()
		got = append(got, m.Payload["n"].(string))
		mu.Unlock()
		delivered <- struct{}{}
	})

	for _, n := range []string{"1", "2", "3"} {
		if _, err := o.SendMessage("x", "a", MessageTypeRequest, map[string]any{"n": n}, ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("delivery timed out")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range []string{"1", "2", "3"} {
		if got[i] != n {
			t.Fatalf("delivery order = %v", got)
		}
	}
}

func TestBroadcastContextUpdateMerges(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a"})

	delivered := make(chan Message, 4)
	o.Subscribe("a", func(m Message) { delivered <- m })

	if err := o.BroadcastContextUpdate(map[string]any{"k1": "v1"}, "profile"); err != nil {
		t.Fatal(err)
	}
	if err := o.BroadcastContextUpdate(map[string]any{"k2": "v2"}, "profile"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case m := <-delivered:
			if m.Type != MessageTypeContextUpdate {
				t.Errorf("message type = %s", m.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("context update not delivered")
		}
	}

	got := o.GetSharedContext("profile")
	if got["k1"] != "v1" || got["k2"] != "v2" {
		t.Errorf("shared context = %v, want merged k1+k2", got)
	}
}

func TestUnregisterKeepsAuditTrail(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a"})

	aMsgs := make(chan Message, 1)
	o.Subscribe("a", func(m Message) { aMsgs <- m })

	if !o.UnregisterAgent("a") {
		t.Fatal("unregister should succeed")
	}
	if o.UnregisterAgent("a") {
		t.Error("second unregister should fail")
	}
	if _, err := o.CreateTask("a", "x", nil, PriorityMedium, nil); err == nil {
		t.Error("create task for unregistered agent should fail")
	}
	st, ok := o.GetAgentRegistrationStatus("a")
	if !ok {
		t.Fatal("audit trail should survive unregistration")
	}
	if st.Registered {
		t.Error("status should show not registered")
	}

	// Messages sent after unregistration are dropped. The single delivery
	// consumer processes in order, so once a sentinel to a still-subscribed
	// agent arrives, the earlier message to "a" has already been handled.
	if _, err := o.SendMessage("x", "a", MessageTypeRequest, nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	mustRegister(t, o, &fakeAgent{id: "b"})
	bMsgs := make(chan Message, 1)
	o.Subscribe("b", func(m Message) { bMsgs <- m })
	if _, err := o.SendMessage("x", "b", MessageTypeRequest, nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-bMsgs:
	case <-time.After(time.Second):
		t.Fatal("sentinel message not delivered")
	}
	select {
	case m := <-aMsgs:
		t.Errorf("unregistered agent received message %+v", m)
	default:
	}
}

func TestStatusAggregates(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a", failTypes: map[string]bool{"bad": true}})

	ok := mustCreateTask(t, o, "a", "good", nil)
	bad := mustCreateTask(t, o, "a", "bad", nil)
	waitForStatus(t, o, ok, TaskStatusCompleted)
	waitForStatus(t, o, bad, TaskStatusFailed)

	st := o.Status()
	if !st.Running || !st.Ready {
		t.Error("status should report running and ready")
	}
	if st.CompletedTasks != 1 || st.FailedTasks != 1 {
		t.Errorf("counters = %d completed / %d failed", st.CompletedTasks, st.FailedTasks)
	}
	if _, ok := st.Agents["a"]; !ok {
		t.Error("agent summary missing")
	}
	if _, ok := st.Registrations["a"]; !ok {
		t.Error("registration summary missing")
	}
}

func TestHealthProbesAdvanceCounters(t *testing.T) {
	cfg := testConfig()
	cfg.ProbeInterval = 20 * time.Millisecond
	cfg.ProbeRate = 100
	o := startOrchestrator(t, cfg)

	mustRegister(t, o, &fakeAgent{id: "a"})

	// Registration does not feed the health tracker, so any success counts
	// here come from the probe loop alone.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h, ok := o.GetAgentStatus("a"); ok && h.SuccessCount >= 2 {
			if h.Status != HealthHealthy {
				t.Errorf("status = %s, want healthy", h.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h, _ := o.GetAgentStatus("a")
	t.Fatalf("probes did not advance health counters: %+v", h)
}

func TestStatusQueueDepthSkipsCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	o := startOrchestrator(t, cfg)
	gate := make(chan struct{})
	defer close(gate)
	mustRegister(t, o, &fakeAgent{id: "a", gate: gate})

	blocker := mustCreateTask(t, o, "a", "blocker", nil)
	waitForStatus(t, o, blocker, TaskStatusRunning)

	queued := mustCreateTask(t, o, "a", "queued", nil)
	if st := o.Status(); st.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1", st.QueueDepth)
	}
	if !o.CancelTask(queued) {
		t.Fatal("cancel of a queued task should succeed")
	}
	// The cancelled entry stays in the heap until the loop drains it; depth
	// must not count it.
	if st := o.Status(); st.QueueDepth != 0 {
		t.Errorf("queue depth = %d after cancel, want 0", st.QueueDepth)
	}
}

func TestTaskSnapshotsDetached(t *testing.T) {
	o := startOrchestrator(t, testConfig())
	mustRegister(t, o, &fakeAgent{id: "a"})

	id, err := o.CreateTask("a", "discover",
		map[string]any{"task_type": "discover", "q": "orig"}, PriorityMedium, nil)
	if err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, o, id, TaskStatusCompleted)

	done.Payload["q"] = "mutated"
	done.Result["echo"] = "mutated"

	again, ok := o.GetTaskStatus(id)
	if !ok {
		t.Fatal("task vanished")
	}
	if again.Payload["q"] != "orig" {
		t.Errorf("payload mutated through snapshot: %v", again.Payload)
	}
	if again.Result["echo"] != "discover" {
		t.Errorf("result mutated through snapshot: %v", again.Result)
	}
}

func TestStopWaitsForInflight(t *testing.T) {
	o := New(testConfig())
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	mustRegister(t, o, &fakeAgent{id: "a", delay: 50 * time.Millisecond})
	id := mustCreateTask(t, o, "a", "slow", nil)
	waitForStatus(t, o, id, TaskStatusRunning)

	if err := o.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	task, _ := o.GetTaskStatus(id)
	if task.Status != TaskStatusCompleted {
		t.Errorf("in-flight task finished as %s, want completed", task.Status)
	}
	if o.Status().Running {
		t.Error("status should report stopped")
	}
}
