package commands

import (
	"fmt"

	"github.com/hyperbridge/dmabridge/cmd/hyperdmabufctl/cmdutil"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Set up ring channels with a peer",
}

var channelsTxCmd = &cobra.Command{
	Use:   "tx <peer-vm>",
	Short: "Set up the outbound (tx) ring with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmID, err := parseVMID(args[0])
		if err != nil {
			return err
		}
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		if err := client.SetupTx(vmID); err != nil {
			return fmt.Errorf("failed to set up tx channel to peer %d: %w", vmID, err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("tx channel to peer %d ready", vmID))
		return nil
	},
}

var channelsRxCmd = &cobra.Command{
	Use:   "rx <peer-vm>",
	Short: "Set up the inbound (rx) ring with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmID, err := parseVMID(args[0])
		if err != nil {
			return err
		}
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		if err := client.SetupRx(vmID); err != nil {
			return fmt.Errorf("failed to set up rx channel from peer %d: %w", vmID, err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("rx channel from peer %d ready", vmID))
		return nil
	},
}

func init() {
	channelsCmd.AddCommand(channelsTxCmd, channelsRxCmd)
}
