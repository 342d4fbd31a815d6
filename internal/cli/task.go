package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jobswitch-ai/switchboard/internal/config"
	"github.com/jobswitch-ai/switchboard/internal/journal"
)

var (
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Task journal utilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskHistoryCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the recorded transitions for a task",
		RunE:  runTaskHistory,
	}

	taskRecentCmd = &cobra.Command{
		Use:   "recent",
		Short: "List recently updated tasks",
		RunE:  runTaskRecent,
	}
)

func init() {
	taskHistoryCmd.Flags().String("id", "", "Task ID")
	taskHistoryCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	taskRecentCmd.Flags().Int("limit", 20, "Maximum tasks to list")
	taskRecentCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	taskCmd.AddCommand(taskHistoryCmd)
	taskCmd.AddCommand(taskRecentCmd)
	rootCmd.AddCommand(taskCmd)
}

func openJournal() (*journal.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled in config")
	}
	return journal.New(cfg.Journal.Path)
}

func runTaskHistory(cmd *cobra.Command, args []string) error {
	taskID, _ := cmd.Flags().GetString("id")
	asJSON, _ := cmd.Flags().GetBool("json")
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("--id is required")
	}

	svc, err := openJournal()
	if err != nil {
		return err
	}
	defer svc.Close()

	transitions, err := svc.ListTaskTransitions(taskID)
	if err != nil {
		return err
	}
	out := map[string]any{
		"taskId":          taskID,
		"transitionCount": len(transitions),
		"transitions":     transitions,
	}
	return printTaskOutput(cmd.OutOrStdout(), out, asJSON, func(w io.Writer) {
		fmt.Fprintf(w, "Task: %s\n", taskID)
		if len(transitions) == 0 {
			fmt.Fprintln(w, "No transitions recorded.")
			return
		}
		for i, tr := range transitions {
			line := fmt.Sprintf("  %d. %s %s", i+1, tr.RecordedAt.Format("15:04:05"), tr.Status)
			if tr.ErrorText != "" {
				line += " (" + tr.ErrorText + ")"
			}
			fmt.Fprintln(w, line)
		}
	})
}

func runTaskRecent(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, err := openJournal()
	if err != nil {
		return err
	}
	defer svc.Close()

	tasks, err := svc.RecentTasks(limit)
	if err != nil {
		return err
	}
	out := map[string]any{
		"taskCount": len(tasks),
		"tasks":     tasks,
	}
	return printTaskOutput(cmd.OutOrStdout(), out, asJSON, func(w io.Writer) {
		if len(tasks) == 0 {
			fmt.Fprintln(w, "No tasks recorded.")
			return
		}
		for _, t := range tasks {
			fmt.Fprintf(w, "  %-36s %-12s %-8s %s\n", t.TaskID, t.AgentID, t.Status, t.TaskType)
		}
	})
}

func printTaskOutput(w io.Writer, payload any, asJSON bool, human func(io.Writer)) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	human(w)
	return nil
}
