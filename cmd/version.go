package cmd

import (
	"fmt"
	"runtime"

	"github.com/bnema/portal-input/internal/eis"
	"github.com/bnema/portal-input/internal/ui"
	"github.com/spf13/cobra"
)

// Build metadata, stamped by release builds with
// -ldflags "-X github.com/bnema/portal-input/cmd.Version=...".
var (
	Version = "0.1.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build and protocol information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if short, _ := cmd.Flags().GetBool("short"); short {
			fmt.Fprintln(out, Version)
			return nil
		}
		fmt.Fprintln(out, ui.FormatHeader("portal-input "+Version))
		fmt.Fprintln(out, ui.FormatKeyValue("Commit", Commit))
		fmt.Fprintln(out, ui.FormatKeyValue("Built", Date))
		fmt.Fprintln(out, ui.FormatKeyValue("Go", runtime.Version()))
		fmt.Fprintln(out, ui.SubtleStyle.Render("EIS interfaces:"))
		for _, iv := range eis.ClientInterfaces() {
			fmt.Fprintln(out, ui.FormatListItem(fmt.Sprintf("%s v%d", iv.Name, iv.Version)))
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolP("short", "s", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}
