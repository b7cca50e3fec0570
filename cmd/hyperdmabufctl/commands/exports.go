package commands

import (
	"fmt"
	"os"

	"github.com/hyperbridge/dmabridge/cmd/hyperdmabufctl/cmdutil"
	"github.com/hyperbridge/dmabridge/pkg/apiclient"
	"github.com/spf13/cobra"
)

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "Export, query, and revoke cross-VM DMA buffers",
}

type exportResult apiclient.ExportResponse

func (r exportResult) Headers() []string { return []string{"HANDLE"} }
func (r exportResult) Rows() [][]string  { return [][]string{{r.Handle}} }

var (
	exportFD     int
	exportPeerVM uint32
)

var exportsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Export a local DMA-buf fd to a peer VM",
	Long: `Export a local DMA-buf file descriptor to a peer VM, extracting its
backing pages and minting a cross-VM handle the peer can import.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFD < 0 {
			return fmt.Errorf("--fd is required")
		}
		if exportPeerVM == 0 {
			return fmt.Errorf("--peer-vm is required")
		}
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		resp, err := client.CreateExport(apiclient.CreateExportRequest{FD: exportFD, PeerVM: exportPeerVM})
		if err != nil {
			return fmt.Errorf("failed to export buffer: %w", err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("exported as handle %s", resp.Handle))
		return cmdutil.PrintOutput(os.Stdout, resp, false, "", exportResult(*resp))
	},
}

var exportQueryItem string

var exportsQueryCmd = &cobra.Command{
	Use:   "query <handle>",
	Short: "Query an attribute of an exported buffer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		resp, err := client.QueryExport(args[0], exportQueryItem)
		if err != nil {
			return fmt.Errorf("failed to query export %s: %w", args[0], err)
		}
		return cmdutil.PrintOutput(os.Stdout, resp, false, "", queryResult(*resp))
	},
}

type queryResult apiclient.QueryResponse

func (r queryResult) Headers() []string { return []string{"ITEM", "VALUE"} }
func (r queryResult) Rows() [][]string  { return [][]string{{r.Item, fmt.Sprintf("%v", r.Value)}} }

var unexportDelayMs int

var exportsUnexportCmd = &cobra.Command{
	Use:   "unexport <handle>",
	Short: "Revoke an exported buffer's grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		if err := client.Unexport(args[0], unexportDelayMs); err != nil {
			return fmt.Errorf("failed to unexport %s: %w", args[0], err)
		}
		cmdutil.PrintSuccess(fmt.Sprintf("handle %s unexported", args[0]))
		return nil
	},
}

func init() {
	exportsCreateCmd.Flags().IntVar(&exportFD, "fd", -1, "Local DMA-buf file descriptor (required)")
	exportsCreateCmd.Flags().Uint32Var(&exportPeerVM, "peer-vm", 0, "Destination VM id (required)")

	exportsQueryCmd.Flags().StringVar(&exportQueryItem, "item", "", "Attribute to query (e.g. size, busy); omit to query type")

	exportsUnexportCmd.Flags().IntVar(&unexportDelayMs, "delay-ms", 0, "Delay before revoking grants, to let in-flight remote ops settle")

	exportsCmd.AddCommand(exportsCreateCmd, exportsQueryCmd, exportsUnexportCmd)
}
