package commands

import (
	"fmt"

	"github.com/hyperbridge/dmabridge/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample hyperdmabufd configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/hyperdmabufd/config.yaml. Use --config to specify a custom
path.

Examples:
  # Initialize with default location
  hyperdmabufd init

  # Initialize with custom path
  hyperdmabufd init --config /etc/hyperdmabufd/config.yaml

  # Force overwrite existing config
  hyperdmabufd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file: set vm.self_vm, vm.arena_path, and directory.path")
	fmt.Println("  2. Start the daemon with: hyperdmabufd start")
	fmt.Printf("  3. Or specify custom config: hyperdmabufd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random JWT signing secret has been generated for development use.")
	fmt.Println("  For production, replace controlplane.jwt.secret with a securely generated value:")
	fmt.Println("    openssl rand -hex 32")

	return nil
}
