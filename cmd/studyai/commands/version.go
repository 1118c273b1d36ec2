package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/version"
)

// NewVersionCmd constructs the `studyai version` subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the studyai version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
