package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flakepin/internal/app"
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show each input as declared and what resolve would discover",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInspect()
		},
	}
	return cmd
}

func runInspect() error {
	service, err := newAppService("", 0)
	if err != nil {
		return err
	}
	result, err := service.Inspect(app.InspectRequest{
		DeclarationPath: viper.GetString("declaration"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("project: %s\n", result.ProjectName)
	for _, entry := range result.Entries {
		origin := "declared"
		if entry.Defaulted {
			origin = "default"
		}
		fmt.Printf("- %s: %s [%s, %s, %s, %s]\n", entry.Name, entry.Locator, entry.Kind, entry.State, entry.Policy, origin)
	}
	return nil
}
