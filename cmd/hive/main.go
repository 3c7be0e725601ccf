// Command hive runs the multi-agent orchestration engine and inspects
// saved snapshots from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "hive",
	Short:         "Hive - multi-agent task orchestration",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, versionCmd)
	rootCmd.AddCommand(submitCmd, statusCmd, tasksCmd, agentsCmd, treeCmd, cancelCmd)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.hive/config.yaml)")
	// Load .env file if it exists
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
