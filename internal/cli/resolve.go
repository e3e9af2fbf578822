package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flakepin/internal/app"
)

type resolveOptions struct {
	ManifestDir    string
	Jobs           int
	DryRun         bool
	HTTPProxy      string
	HTTPTimeoutSec int
}

func newResolveCommand() *cobra.Command {
	opts := resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Pin every input, write pins back and render the manifest (rewrites the declaration without comments)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd.Context(), cmd, opts)
		},
	}
	addResolveFlags(cmd, &opts)

	_ = viper.BindPFlag("manifest_dir", cmd.Flags().Lookup("manifest-dir"))
	_ = viper.BindPFlag("jobs", cmd.Flags().Lookup("jobs"))
	_ = viper.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("http_proxy", cmd.Flags().Lookup("http-proxy"))
	_ = viper.BindPFlag("http_timeout_sec", cmd.Flags().Lookup("http-timeout"))

	return cmd
}

func addResolveFlags(cmd *cobra.Command, opts *resolveOptions) {
	cmd.Flags().StringVar(&opts.ManifestDir, "manifest-dir", "", "Manifest directory (default: flake/ next to the declaration)")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 1, "Inputs resolved in parallel")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Resolve and report without writing anything")
	cmd.Flags().StringVar(&opts.HTTPProxy, "http-proxy", "", "HTTP(S) proxy for API and archive requests")
	cmd.Flags().IntVar(&opts.HTTPTimeoutSec, "http-timeout", 60, "HTTP timeout in seconds")
}

func runResolve(ctx context.Context, cmd *cobra.Command, opts resolveOptions) error {
	service, err := newAppService(
		resolveString(cmd, opts.HTTPProxy, "http_proxy", "http-proxy"),
		resolveInt(cmd, opts.HTTPTimeoutSec, "http_timeout_sec", "http-timeout"),
	)
	if err != nil {
		return err
	}
	result, err := service.Resolve(withLogger(ctx), app.ResolveRequest{
		DeclarationPath: viper.GetString("declaration"),
		ManifestDir:     resolveString(cmd, opts.ManifestDir, "manifest_dir", "manifest-dir"),
		Jobs:            resolveInt(cmd, opts.Jobs, "jobs", "jobs"),
		DryRun:          resolveBool(cmd, opts.DryRun, "dry_run", "dry-run"),
	})
	if err != nil {
		return err
	}
	printResolveResult(result)
	return nil
}

func printResolveResult(result app.ResolveResult) {
	out := os.Stdout
	fmt.Fprintf(out, "resolved: %s (%d inputs)\n", result.ProjectName, len(result.Inputs))
	for _, record := range result.Updates {
		fmt.Fprintf(out, "- %s = %s\n", record.Key(), record.Value)
	}
	switch {
	case result.Written:
		fmt.Fprintf(out, "manifest written: %s (rebuild required)\n", result.ManifestPath)
	case result.Rebuild:
		fmt.Fprintf(out, "manifest would change: %s\n", result.ManifestPath)
	default:
		fmt.Fprintf(out, "manifest unchanged: %s\n", result.ManifestPath)
	}
}
