package root

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/assemblyline/cmd/assemblyline/run"
	"github.com/GriffinCanCode/assemblyline/cmd/assemblyline/version"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemblyline",
		Short: "Run a source, transform and sink pipeline over worker pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(version.NewCmd())
	cmd.AddCommand(run.NewCmd())

	return cmd
}

// Execute runs the root command with args
func Execute(args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}
