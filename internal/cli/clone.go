package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flakepin/internal/app"
)

func newCloneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone [name...]",
		Short: "Check out pinned python sources listed under [clones]",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClone(cmd.Context(), args)
		},
	}
	return cmd
}

func runClone(ctx context.Context, names []string) error {
	service, err := newAppService("", 0)
	if err != nil {
		return err
	}
	result, err := service.Clone(withLogger(ctx), app.CloneRequest{
		DeclarationPath: viper.GetString("declaration"),
		Names:           names,
	})
	if err != nil {
		return err
	}
	for _, name := range result.Cloned {
		fmt.Printf("cloned: %s\n", name)
	}
	for _, name := range result.Skipped {
		fmt.Printf("skipped (exists): %s\n", name)
	}
	return nil
}
