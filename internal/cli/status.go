package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobswitch-ai/switchboard/internal/config"
	"github.com/jobswitch-ai/switchboard/internal/journal"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Switchboard Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator status from the local journal",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Switchboard Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			return
		}

		if !cfg.Journal.Enabled {
			fmt.Println("Journal: ✗ Disabled")
			return
		}
		if _, err := os.Stat(cfg.Journal.Path); err != nil {
			fmt.Println("Journal: ✗ No database yet (" + cfg.Journal.Path + ")")
			return
		}
		svc, err := journal.New(cfg.Journal.Path)
		if err != nil {
			fmt.Printf("Journal: ✗ Open failed: %v\n", err)
			return
		}
		defer svc.Close()

		fmt.Println("Journal: ✓ " + cfg.Journal.Path)
		counts, err := svc.TaskCounts()
		if err != nil {
			fmt.Printf("Tasks:   ? query failed: %v\n", err)
			return
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		fmt.Printf("Tasks:   %d recorded (completed=%d failed=%d cancelled=%d)\n",
			total, counts["completed"], counts["failed"], counts["cancelled"])

		if cfg.Events.Enabled {
			fmt.Printf("Events:  ✓ Kafka %s topic=%s\n", cfg.Events.Brokers, cfg.Events.Topic)
		} else {
			fmt.Println("Events:  ✗ Disabled")
		}
		if cfg.Alerts.Enabled {
			fmt.Printf("Alerts:  ✓ Slack %s\n", cfg.Alerts.Channel)
		} else {
			fmt.Println("Alerts:  ✗ Disabled")
		}
	},
}
