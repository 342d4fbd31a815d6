package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobswitch-ai/switchboard/internal/alert"
	"github.com/jobswitch-ai/switchboard/internal/config"
	"github.com/jobswitch-ai/switchboard/internal/events"
	"github.com/jobswitch-ai/switchboard/internal/journal"
	"github.com/jobswitch-ai/switchboard/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the orchestrator with the built-in JobSwitch agent fleet",
	Run:   runOrchestrator,
}

var (
	runSignalNotify = signal.Notify
	runSignalStop   = signal.Stop
)

func init() {
	runCmd.Flags().Bool("demo", false, "Run the job search demo workflow and exit")
}

func runOrchestrator(cmd *cobra.Command, args []string) {
	printHeader("🎛️ Switchboard Orchestrator")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	orch := orchestrator.New(cfg.Orchestrator)

	if cfg.Journal.Enabled {
		svc, err := journal.New(cfg.Journal.Path)
		if err != nil {
			fmt.Printf("Failed to open journal: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()
		orch.AddObserver(svc)
		fmt.Println("Journal: " + cfg.Journal.Path)
	}
	if cfg.Events.Enabled {
		pub := events.NewPublisher(cfg.Events)
		defer pub.Close()
		orch.AddObserver(pub)
		fmt.Printf("Events:  Kafka %s topic=%s\n", cfg.Events.Brokers, cfg.Events.Topic)
	}
	if cfg.Alerts.Enabled {
		orch.AddObserver(alert.NewNotifier(cfg.Alerts))
		fmt.Printf("Alerts:  Slack %s\n", cfg.Alerts.Channel)
	}

	if err := orch.Start(); err != nil {
		fmt.Printf("Failed to start orchestrator: %v\n", err)
		os.Exit(1)
	}
	defer orch.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, agent := range demoFleet() {
		if err := orch.RegisterAgent(ctx, agent); err != nil {
			fmt.Printf("Register %s failed: %v\n", agent.AgentID(), err)
			os.Exit(1)
		}
		fmt.Printf("Agent:   ✓ %s registered\n", agent.AgentID())
	}

	if demo, _ := cmd.Flags().GetBool("demo"); demo {
		if err := runDemoWorkflow(ctx, orch); err != nil {
			fmt.Printf("Demo workflow failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	runSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer runSignalStop(sigChan)

	fmt.Println("Status:  Ready (Ctrl+C to stop)")
	<-sigChan
	fmt.Println("\nShutting down...")
}

// runDemoWorkflow submits a full job search pipeline and prints the outcome.
func runDemoWorkflow(ctx context.Context, orch *orchestrator.Orchestrator) error {
	profile := map[string]any{
		"target_role": "Senior Backend Engineer",
		"location":    "remote",
	}
	if err := orch.BroadcastContextUpdate(profile, "user_profile"); err != nil {
		return err
	}

	wf := orchestrator.Workflow{
		WorkflowID: "job-search-demo",
		Timeout:    30 * time.Second,
		Steps: []orchestrator.WorkflowStep{
			{StepID: "discover", AgentID: agentJobDiscovery, TaskType: "search_jobs", Payload: profile},
			{StepID: "optimize", AgentID: agentResume, TaskType: "optimize_resume", DependsOn: []string{"discover"}},
			{StepID: "prep", AgentID: agentInterviewPrep, TaskType: "generate_questions", DependsOn: []string{"optimize"}},
		},
	}

	res, err := orch.CoordinateAgents(ctx, wf)
	if err != nil {
		return err
	}
	fmt.Printf("\nWorkflow %s: success=%v\n", res.WorkflowID, res.Success)
	for step, out := range res.Results {
		fmt.Printf("  ✓ %s: %v\n", step, out)
	}
	for step, msg := range res.Errors {
		fmt.Printf("  ✗ %s: %s\n", step, msg)
	}

	st := orch.Status()
	fmt.Printf("\nAgents: %d registered, tasks completed=%d failed=%d\n",
		len(st.Agents), st.CompletedTasks, st.FailedTasks)
	if !res.Success {
		return fmt.Errorf("workflow finished with %d step errors", len(res.Errors))
	}
	return nil
}
