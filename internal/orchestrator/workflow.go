package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// defaultWorkflowTimeout bounds CoordinateAgents when the workflow does not
// set its own timeout.
const defaultWorkflowTimeout = 2 * time.Minute

// workflowPollInterval is how often the coordinator re-checks step states.
const workflowPollInterval = 25 * time.Millisecond

// CoordinateAgents translates workflow steps into tasks, wires their
// dependencies by step id, submits them, and awaits terminal states up to
// the workflow timeout. A failed step only fails the branches that depend
// on it; independent branches still run.
//
// The returned error covers invalid workflows (empty, duplicate step ids,
// unknown dependencies, cycles). Step-level failures are reported in the
// result, not as an error.
func (o *Orchestrator) CoordinateAgents(ctx context.Context, wf Workflow) (WorkflowResult, error) {
	res := WorkflowResult{
		WorkflowID: wf.WorkflowID,
		Results:    make(map[string]map[string]any),
		Errors:     make(map[string]string),
	}
	if res.WorkflowID == "" {
		res.WorkflowID = uuid.NewString()
	}
	if len(wf.Steps) == 0 {
		return res, fmt.Errorf("workflow: no steps")
	}

	order, err := topoSortSteps(wf.Steps)
	if err != nil {
		return res, err
	}

	timeout := wf.Timeout
	if timeout <= 0 {
		timeout = defaultWorkflowTimeout
	}

	// Submit in dependency order so every step can reference the task ids
	// of its dependencies. Steps whose submission fails (or whose
	// dependency failed to submit) are reported failed without execution.
	stepTask := make(map[string]string, len(wf.Steps))
	unsubmitted := make(map[string]string)
	for _, step := range order {
		depTasks := make([]string, 0, len(step.DependsOn))
		blocked := ""
		for _, dep := range step.DependsOn {
			if reason, bad := unsubmitted[dep]; bad {
				blocked = fmt.Sprintf("dependency %s not submitted: %s", dep, reason)
				break
			}
			depTasks = append(depTasks, stepTask[dep])
		}
		if blocked != "" {
			unsubmitted[step.StepID] = blocked
			res.Errors[step.StepID] = blocked
			continue
		}

		taskID, err := o.CreateTask(step.AgentID, step.TaskType, step.Payload, PriorityMedium, depTasks)
		if err != nil {
			unsubmitted[step.StepID] = err.Error()
			res.Errors[step.StepID] = err.Error()
			slog.Warn("Workflow step submission failed",
				"workflow", res.WorkflowID, "step", step.StepID, "error", err)
			continue
		}
		stepTask[step.StepID] = taskID
	}

	slog.Info("Workflow submitted", "workflow", res.WorkflowID,
		"steps", len(wf.Steps), "submitted", len(stepTask), "timeout", timeout)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(workflowPollInterval)
	defer ticker.Stop()

	done := make(map[string]bool, len(stepTask))
	for len(done) < len(stepTask) {
		select {
		case <-ctx.Done():
			o.abandonWorkflow(stepTask, done, &res, ctx.Err().Error())
			return o.finishWorkflow(res), nil
		case <-deadline.C:
			o.abandonWorkflow(stepTask, done, &res, "workflow timeout")
			return o.finishWorkflow(res), nil
		case <-ticker.C:
		}

		for stepID, taskID := range stepTask {
			if done[stepID] {
				continue
			}
			t, ok := o.GetTaskStatus(taskID)
			if !ok || !IsTerminalTaskStatus(t.Status) {
				continue
			}
			done[stepID] = true
			switch t.Status {
			case TaskStatusCompleted:
				res.Results[stepID] = t.Result
			case TaskStatusCancelled:
				res.Errors[stepID] = "task cancelled"
			default:
				res.Errors[stepID] = t.Error
			}
		}
	}

	return o.finishWorkflow(res), nil
}

// abandonWorkflow cancels what it can and records a reason for every step
// that did not reach a terminal state.
func (o *Orchestrator) abandonWorkflow(stepTask map[string]string, done map[string]bool, res *WorkflowResult, reason string) {
	for stepID, taskID := range stepTask {
		if done[stepID] {
			continue
		}
		o.CancelTask(taskID)
		res.Errors[stepID] = reason
	}
	slog.Warn("Workflow abandoned", "workflow", res.WorkflowID, "reason", reason)
}

func (o *Orchestrator) finishWorkflow(res WorkflowResult) WorkflowResult {
	res.Success = len(res.Errors) == 0
	slog.Info("Workflow finished", "workflow", res.WorkflowID,
		"success", res.Success, "completed", len(res.Results), "failed", len(res.Errors))
	return res
}

// topoSortSteps validates the step DAG and returns a dependency-first
// ordering.
func topoSortSteps(steps []WorkflowStep) ([]WorkflowStep, error) {
	byID := make(map[string]WorkflowStep, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		if s.StepID == "" {
			return nil, fmt.Errorf("workflow: step with empty id")
		}
		if _, dup := byID[s.StepID]; dup {
			return nil, fmt.Errorf("workflow: duplicate step id %q", s.StepID)
		}
		byID[s.StepID] = s
		indegree[s.StepID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("workflow: step %q depends on unknown step %q", s.StepID, dep)
			}
			indegree[s.StepID]++
			dependents[dep] = append(dependents[dep], s.StepID)
		}
	}

	// Kahn's algorithm, seeded in declaration order for stable output.
	var frontier []string
	for _, s := range steps {
		if indegree[s.StepID] == 0 {
			frontier = append(frontier, s.StepID)
		}
	}
	ordered := make([]WorkflowStep, 0, len(steps))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		ordered = append(ordered, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}
	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("workflow: dependency cycle")
	}
	return ordered, nil
}
