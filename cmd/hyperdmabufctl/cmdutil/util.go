// Package cmdutil provides shared utilities for hyperdmabufctl commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/hyperbridge/dmabridge/internal/cli/credentials"
	"github.com/hyperbridge/dmabridge/internal/cli/output"
	"github.com/hyperbridge/dmabridge/pkg/apiclient"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global --server/--token/--output/--no-color/--verbose values.
type GlobalFlags struct {
	ServerURL string
	Token     string
	Output    string
	NoColor   bool
	Verbose   bool
}

// GetAuthenticatedClient returns an apiclient.Client configured from the
// --server/--token flags, falling back to the stored login session.
func GetAuthenticatedClient() (*apiclient.Client, error) {
	if Flags.ServerURL != "" && Flags.Token != "" {
		return apiclient.New(Flags.ServerURL).WithToken(Flags.Token), nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	session, err := store.Get()
	if err != nil {
		return nil, fmt.Errorf("not logged in. Run 'hyperdmabufctl login' first")
	}

	url := session.ServerURL
	if Flags.ServerURL != "" {
		url = Flags.ServerURL
	}
	if url == "" {
		return nil, fmt.Errorf("no server URL configured. Run 'hyperdmabufctl login --server <url>' first")
	}

	tok := session.Token
	if Flags.Token != "" {
		tok = Flags.Token
	}
	if tok == "" {
		return nil, fmt.Errorf("no session token. Run 'hyperdmabufctl login' first")
	}
	if session.IsExpired() {
		return nil, fmt.Errorf("session expired. Run 'hyperdmabufctl login' to re-authenticate")
	}

	return apiclient.New(url).WithToken(tok), nil
}

func GetOutputFormat() string { return Flags.Output }

func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

func IsColorDisabled() bool { return Flags.NoColor }
func IsVerbose() bool       { return Flags.Verbose }

// PrintOutput prints data in the configured format. For table format it
// falls back to emptyMsg when isEmpty is true.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !IsColorDisabled()).Success(msg)
}

// EmptyOr returns value if non-empty, otherwise fallback. Useful for table
// cells where an empty field should render as "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
