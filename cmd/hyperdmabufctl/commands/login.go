package commands

import (
	"fmt"
	"net/url"

	"github.com/hyperbridge/dmabridge/internal/cli/credentials"
	"github.com/hyperbridge/dmabridge/pkg/apiclient"
	"github.com/spf13/cobra"
)

var (
	loginServer  string
	loginOwnerVM uint32
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Mint and store a control-plane session token",
	Long: `Mint a session token from a hyperdmabufd control plane and store it
for subsequent commands.

Without Kerberos configured on the server, a session is minted for the
given --owner-vm directly (the anonymous dev path). With Kerberos enabled,
run a SPNEGO exchange out of band and pass the resulting session token via
--token on each command instead.

Examples:
  # First login
  hyperdmabufctl login --server http://localhost:8443 --owner-vm 2

  # Re-login to the stored server
  hyperdmabufctl login --owner-vm 2`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "Control-plane server URL (required on first login)")
	loginCmd.Flags().Uint32Var(&loginOwnerVM, "owner-vm", 0, "VM id to mint the session for (required)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginOwnerVM == 0 {
		return fmt.Errorf("--owner-vm is required")
	}

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	serverURLStr := loginServer
	if serverURLStr == "" {
		if existing, err := store.Get(); err == nil && existing.ServerURL != "" {
			serverURLStr = existing.ServerURL
		} else {
			return fmt.Errorf("no server URL specified and no saved session found\n\n" +
				"Specify server URL:\n" +
				"  hyperdmabufctl login --server http://localhost:8443 --owner-vm <vm>")
		}
	}

	parsedURL, err := url.Parse(serverURLStr)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "http"
		serverURLStr = parsedURL.String()
	}

	client := apiclient.New(serverURLStr)

	fmt.Printf("Logging in to %s as VM %d...\n", serverURLStr, loginOwnerVM)
	resp, err := client.CreateSession(loginOwnerVM)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	session := &credentials.Session{
		ServerURL: serverURLStr,
		OwnerVM:   resp.OwnerVM,
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
	}
	if err := store.Save(session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fmt.Printf("Logged in as VM %d, session expires %s\n", resp.OwnerVM, resp.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
