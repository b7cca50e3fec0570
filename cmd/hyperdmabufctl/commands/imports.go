package commands

import (
	"fmt"
	"os"

	"github.com/hyperbridge/dmabridge/cmd/hyperdmabufctl/cmdutil"
	"github.com/hyperbridge/dmabridge/pkg/apiclient"
	"github.com/spf13/cobra"
)

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "Materialize imported buffers as local DMA-buf fds",
}

type exportFdResult apiclient.ExportFdResponse

func (r exportFdResult) Headers() []string { return []string{"HANDLE", "NENTS"} }
func (r exportFdResult) Rows() [][]string {
	return [][]string{{r.Handle, fmt.Sprintf("%d", r.Nents)}}
}

var importFdPeerVM uint32

var importsFdCmd = &cobra.Command{
	Use:   "fd <handle>",
	Short: "Map a handle's shadow buffer into a local DMA-buf fd",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFdPeerVM == 0 {
			return fmt.Errorf("--peer-vm is required")
		}
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		resp, err := client.ExportFd(args[0], importFdPeerVM)
		if err != nil {
			return fmt.Errorf("failed to materialize fd for %s: %w", args[0], err)
		}
		return cmdutil.PrintOutput(os.Stdout, resp, false, "", exportFdResult(*resp))
	},
}

func init() {
	importsFdCmd.Flags().Uint32Var(&importFdPeerVM, "peer-vm", 0, "Owning VM id of the handle (required)")
	importsCmd.AddCommand(importsFdCmd)
}
