package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/jobswitch-ai/switchboard/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____          _ _       _     _                         _\n" +
		" / ___|_      _(_) |_ ___| |__ | |__   ___   __ _ _ __ __| |\n" +
		" \\___ \\ \\ /\\ / / | __/ __| '_ \\| '_ \\ / _ \\ / _` | '__/ _` |\n" +
		"  ___) \\ V  V /| | || (__| | | | |_) | (_) | (_| | | | (_| |\n" +
		" |____/ \\_/\\_/ |_|\\__\\___|_| |_|_.__/ \\___/ \\__,_|_|  \\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard - JobSwitch agent orchestrator",
	Long:  color.CyanString(logo) + "\nCoordinates the JobSwitch agent fleet: registration, task queueing, messaging and workflows.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
}
