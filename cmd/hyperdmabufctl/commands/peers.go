package commands

import (
	"fmt"
	"os"

	"github.com/hyperbridge/dmabridge/cmd/hyperdmabufctl/cmdutil"
	"github.com/hyperbridge/dmabridge/pkg/apiclient"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Manage bootstrap peer entries",
}

// peerList renders []apiclient.Peer as a table.
type peerList []apiclient.Peer

func (pl peerList) Headers() []string { return []string{"VM_ID", "NAME", "TRANSPORT_ADDR", "ENABLED"} }

func (pl peerList) Rows() [][]string {
	rows := make([][]string, 0, len(pl))
	for _, p := range pl {
		enabled := "no"
		if p.Enabled {
			enabled = "yes"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", p.VMID), cmdutil.EmptyOr(p.Name, "-"), p.TransportAddr, enabled})
	}
	return rows
}

var peersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		peers, err := client.ListPeers()
		if err != nil {
			return fmt.Errorf("failed to list peers: %w", err)
		}
		return cmdutil.PrintOutput(os.Stdout, peers, len(peers) == 0, "No peers registered.", peerList(peers))
	},
}

var peersGetCmd = &cobra.Command{
	Use:   "get <vm-id>",
	Short: "Get one peer",
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
		peer, err := client.GetPeer(vmID)
		if err != nil {
			return fmt.Errorf("failed to get peer %d: %w", vmID, err)
		}
		return cmdutil.PrintOutput(os.Stdout, peer, false, "", peerList{*peer})
	},
}

var (
	peerCreateName          string
	peerCreateTransportAddr string
)

var peersCreateCmd = &cobra.Command{
	Use:   "create <vm-id>",
	Short: "Register a peer",
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
		peer, err := client.CreatePeer(apiclient.CreatePeerRequest{
			VMID:          vmID,
			Name:          peerCreateName,
			TransportAddr: peerCreateTransportAddr,
		})
		if err != nil {
			return fmt.Errorf("failed to create peer: %w", err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("peer %d registered", peer.VMID))
		return cmdutil.PrintOutput(os.Stdout, peer, false, "", peerList{*peer})
	},
}

var peersDeleteCmd = &cobra.Command{
	Use:   "delete <vm-id>",
	Short: "Remove a peer",
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
		if err := client.DeletePeer(vmID); err != nil {
			return fmt.Errorf("failed to delete peer %d: %w", vmID, err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("peer %d removed", vmID))
		return nil
	},
}

func init() {
	peersCreateCmd.Flags().StringVar(&peerCreateName, "name", "", "Human-readable peer name")
	peersCreateCmd.Flags().StringVar(&peerCreateTransportAddr, "transport-addr", "", "Transport dial address (e.g. host:port for the grpc backend)")

	peersCmd.AddCommand(peersListCmd, peersGetCmd, peersCreateCmd, peersDeleteCmd)
}

func parseVMID(s string) (uint32, error) {
	var vmID uint32
	if _, err := fmt.Sscanf(s, "%d", &vmID); err != nil || vmID == 0 {
		return 0, fmt.Errorf("invalid VM id %q", s)
	}
	return vmID, nil
}
