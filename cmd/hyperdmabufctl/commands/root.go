// Package commands implements the hyperdmabufctl CLI: peer bootstrap CRUD,
// export/import/channel verbs, and session login/logout, all driven through
// pkg/apiclient against a running hyperdmabufd control plane.
package commands

import (
	"os"

	"github.com/hyperbridge/dmabridge/cmd/hyperdmabufctl/cmdutil"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "hyperdmabufctl",
	Short: "hyperdmabufctl - remote control client for hyperdmabufd",
	Long: `hyperdmabufctl is the command-line client for a hyperdmabufd control
plane: register peers, export/import DMA buffers, and set up ring channels
through the REST control surface.

Use "hyperdmabufctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Token, _ = cmd.Flags().GetString("token")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
		cmdutil.Flags.Verbose, _ = cmd.Flags().GetBool("verbose")
	},
}

// Execute adds all child commands to the root command and executes it.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("server", "", "Control-plane server URL (overrides stored session)")
	rootCmd.PersistentFlags().String("token", "", "Bearer session token (overrides stored session)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(exportsCmd)
	rootCmd.AddCommand(importsCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("hyperdmabufctl %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}
