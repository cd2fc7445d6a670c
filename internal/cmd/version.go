package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
	versionCmd.Flags().Bool("extended", false, "Include library versions")
}

type versionOutput struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

func currentVersion(extended bool) versionOutput {
	v := versionOutput{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if extended {
		lib := crucible.GetVersion()
		v.Gofulmen = lib.Gofulmen
		v.Crucible = lib.Crucible
	}
	return v
}

func runVersion(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	extended, _ := cmd.Flags().GetBool("extended")

	v := currentVersion(extended)
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, v)
	}

	_, _ = fmt.Fprintf(out, "%s %s\n", binaryName, v.Version)
	_, _ = fmt.Fprintf(out, "  commit:  %s\n", v.Commit)
	_, _ = fmt.Fprintf(out, "  built:   %s\n", v.BuildDate)
	_, _ = fmt.Fprintf(out, "  go:      %s (%s)\n", v.GoVersion, v.Platform)
	if extended {
		_, _ = fmt.Fprintf(out, "  gofulmen: %s\n", v.Gofulmen)
		_, _ = fmt.Fprintf(out, "  crucible: %s\n", v.Crucible)
	}
	return nil
}
