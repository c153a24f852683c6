package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sccpilot/sccpilot/internal/version"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := version.GetInfo()
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), info.Short())
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)
}
