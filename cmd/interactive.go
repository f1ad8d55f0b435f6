package cmd

import (
	"os"

	"github.com/bnema/portal-input/internal/config"
	"github.com/bnema/portal-input/internal/interactive"
	"github.com/spf13/cobra"
)

// interactiveShakeCount is the number of cycles for the shake command
// inside the loop, shorter than the standalone test.
const interactiveShakeCount = 5

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start interactive session",
	Long:  `Open a portal session and read commands from stdin: move, rel, click, rclick, key, shake and quit.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		cfg := config.Get()
		return interactive.Run(ctx, os.Stdin, os.Stdout, conn.injector, interactive.Settings{
			PrimaryButton:   cfg.Input.PrimaryButton,
			SecondaryButton: cfg.Input.SecondaryButton,
			ShakeCount:      interactiveShakeCount,
			ShakeDistance:   cfg.Input.ShakeDistance,
			ShakeInterval:   cfg.Input.ShakeInterval,
		})
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
