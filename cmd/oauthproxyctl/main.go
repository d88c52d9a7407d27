// Command oauthproxyctl manages consumer keys and proxy configuration files
// and signs test requests.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=<version>".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oauthproxyctl",
		Short:         "Manage OAuth proxy keys and configuration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetVersionTemplate(`{{printf "oauthproxyctl version %s\n" .Version}}`)
	root.AddCommand(newKeygenCmd(), newCheckCmd(), newSignCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
