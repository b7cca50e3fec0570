package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hyperdmabufd daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		pidPath := GetDefaultPidFile()
		pid, running := isProcessRunning(pidPath)
		if !running {
			fmt.Println("hyperdmabufd is not running")
			return nil
		}
		fmt.Printf("hyperdmabufd is running (PID %d)\n", pid)
		fmt.Printf("  PID file: %s\n", pidPath)
		fmt.Printf("  Log file: %s\n", GetDefaultLogFile())
		return nil
	},
}
