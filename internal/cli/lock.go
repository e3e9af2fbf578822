package cli

import "github.com/spf13/cobra"

type lockOptions = resolveOptions

func newLockCommand() *cobra.Command {
	opts := lockOptions{}
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Alias of resolve (rewrites the declaration without comments)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd.Context(), cmd, opts)
		},
	}
	addResolveFlags(cmd, &opts)
	return cmd
}
