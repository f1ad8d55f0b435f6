package cmd

import (
	"fmt"
	"time"

	"github.com/bnema/portal-input/internal/config"
	"github.com/bnema/portal-input/internal/inject"
	"github.com/bnema/portal-input/internal/ui"
	"github.com/spf13/cobra"
)

var shakeLinger time.Duration

var shakeCmd = &cobra.Command{
	Use:   "shake",
	Short: "Quick test - shake cursor to verify input works",
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
		fmt.Println(ui.FormatHeader("Shake Test"))
		err = inject.Shake(ctx, conn.injector, inject.ShakeOptions{
			Count:    cfg.Input.ShakeCount,
			Distance: cfg.Input.ShakeDistance,
			Interval: cfg.Input.ShakeInterval,
			OnStep: func(i int) {
				fmt.Println(ui.SubtleStyle.Render(fmt.Sprintf("Shake %d/%d", i, cfg.Input.ShakeCount)))
			},
		})
		if err != nil {
			return err
		}
		fmt.Println(ui.FormatAction("Shake test complete!"))

		// Keep the session open so the compositor processes the tail.
		select {
		case <-ctx.Done():
		case <-time.After(shakeLinger):
		}
		return nil
	},
}

func init() {
	shakeCmd.Flags().DurationVar(&shakeLinger, "linger", 2*time.Second, "How long to keep the session open afterwards")
	rootCmd.AddCommand(shakeCmd)
}
