package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spigell/autoapply/internal/profile"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the profile schema version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s (profile schema %s)\n", app, version, profile.SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
