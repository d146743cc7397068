// Package commands builds the resolver CLI's command tree, grounded
// on the teacher pack's cobra usage (orbas1-Synnergy/synnergy-network's
// cmd/synnergy) rather than the teacher's own flag-free main(), since
// spec.md §6 names a full operator command surface.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the resolver CLI's command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "resolver",
		Short:         "cross-chain HTLC atomic-swap coordinator",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newListActiveSwapsCmd())
	root.AddCommand(newGetSwapCmd())
	root.AddCommand(newForceRefundCmd())

	return root
}
