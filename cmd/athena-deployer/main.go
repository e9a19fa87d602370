// Athena deployer provisions the Athena database and external tables
// declared in a serverless-style manifest.
//
// Usage:
//
//	athena-deployer [--config serverless.yml] [--stage S] [--region R] [--policy P] <command>
//
// Commands:
//
//	deploy  Create the database and provision every table
//	plan    Print the statements a deploy would submit
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/config"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/deploy"
)

type rootOptions struct {
	configPath string
	overrides  config.Overrides
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "athena-deployer",
		Short:         "Provision Athena databases and external tables",
		Version:       fmt.Sprintf("%s (%s)", deploy.Version, deploy.GitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "serverless.yml", "Deployment manifest")
	flags.StringVar(&opts.overrides.Stage, "stage", "", "Override provider.stage")
	flags.StringVar(&opts.overrides.Region, "region", "", "Override provider.region")
	flags.StringVar(&opts.overrides.Policy, "policy", "", "Table policy: recreate or idempotent")

	rootCmd.AddCommand(
		newDeployCmd(opts),
		newPlanCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the manifest and applies command-line overrides.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg.Apply(opts.overrides)
}
