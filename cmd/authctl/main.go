// Command authctl is the operator CLI for the auth server: key generation,
// emergency session revocation and one-off retention purges.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "authctl",
		Short:        "Operate the Gatekeeper auth server",
		SilenceUsage: true,
	}
	root.AddCommand(newKeygenCmd(), newRevokeUserCmd(), newPurgeCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
