package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/config"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/deploy"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the statements a deploy would submit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), cfg)
		},
	}
}

// printPlan writes every statement of the deployment without submitting any.
func printPlan(w io.Writer, cfg config.Config) error {
	plan, err := deploy.New(cfg, nil).Plan()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "-- database: %s\n", plan.Database)
	fmt.Fprintf(w, "-- policy:   %s\n", plan.Policy)
	fmt.Fprintf(w, "-- output:   %s\n", plan.OutputLocation)
	for _, st := range plan.Statements() {
		if st.Table == "" {
			fmt.Fprintf(w, "\n-- %s\n", st.Step)
		} else {
			fmt.Fprintf(w, "\n-- %s %s\n", st.Step, st.Table)
		}
		fmt.Fprintf(w, "%s;\n", st.SQL)
	}
	return nil
}
