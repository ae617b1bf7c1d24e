package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "dmsyncctl"

// NewRootCmd builds the dmsyncctl command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Inspect and manage dmsync profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("profile", "", "profile name (overrides config default)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewStatusCmd(),
		NewPendingCmd(),
		NewConfigCmd(),
	)
	return cmd
}
