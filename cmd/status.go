package cmd

import (
	"fmt"

	"github.com/bnema/portal-input/internal/portal"
	"github.com/bnema/portal-input/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check portal availability",
	Long:  `Check that the RemoteDesktop and ScreenCast portals are reachable on the session bus and show their versions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(ui.FormatHeader("Portal Status"))

		p, err := portal.Open()
		if err != nil {
			fmt.Println(ui.FormatCheck(false, "Session bus", err.Error()))
			return err
		}
		defer p.Close()
		fmt.Println(ui.FormatCheck(true, "Session bus", ""))

		info, err := p.Status()
		if info == nil {
			fmt.Println(ui.FormatCheck(false, "RemoteDesktop portal", "not available"))
			return err
		}
		fmt.Println(ui.FormatCheck(true, "RemoteDesktop portal available", fmt.Sprintf("version %d", info.RemoteDesktopVersion)))
		fmt.Println(ui.FormatKeyValue("Device types", info.DeviceTypes))
		if info.RemoteDesktopVersion < 2 {
			fmt.Println(ui.FormatWarning("RemoteDesktop version 2 is needed for ConnectToEIS, use --backend portal"))
		}

		if err != nil {
			fmt.Println(ui.FormatCheck(false, "Screencast portal", "not available"))
			return err
		}
		fmt.Println(ui.FormatCheck(true, "Screencast portal available", fmt.Sprintf("version %d", info.ScreenCastVersion)))
		fmt.Println(ui.FormatKeyValue("Source types", info.SourceTypes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
