package cmd

import (
	"fmt"

	"github.com/conneroisu/assetpipe/internal/version"
	"github.com/spf13/cobra"
)

var (
	versionOutput = newOutputFormat("text", "text", "json", "yaml")
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for assetpipe including:

- Version number
- Git commit hash
- Build timestamp
- Go version used for compilation
- Target platform (OS/architecture)

Examples:
  assetpipe version              # Show version details
  assetpipe version --short      # Show short version
  assetpipe version -o json      # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	addOutputFlag(versionCmd.Flags(), versionOutput)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, _ []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch format := versionOutput.String(); format {
	case "text":
		if versionShort {
			fmt.Fprintln(out, info.Short())
			return nil
		}
		fmt.Fprintln(out, info.String())
		return nil
	default:
		return writeStructured(out, format, info)
	}
}
