package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Show the current version of netxpf`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "netxpf %s\n", version.Version)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
