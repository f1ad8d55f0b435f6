package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/portal-input/internal/config"
	"github.com/bnema/portal-input/internal/inject"
	"github.com/bnema/portal-input/internal/ui"
	"github.com/spf13/cobra"
)

// sendAction is one-shot input parsed from the send flags.
type sendAction struct {
	move       bool
	x, y       float64
	click      bool
	rightClick bool
	keys       []uint
	shake      bool
}

var sendFlags sendAction

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one-shot input",
	Long: `Open a portal session, optionally move the pointer to --x/--y, then click,
press keys or shake, and close the session.`,
	Example: `  portal-input send --x 960 --y 540 --click
  portal-input send --key 28
  portal-input --backend portal send --shake`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := parseSendFlags(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		return action.run(ctx, conn.injector, config.Get())
	},
}

func parseSendFlags(cmd *cobra.Command) (sendAction, error) {
	a := sendFlags
	xSet, ySet := cmd.Flags().Changed("x"), cmd.Flags().Changed("y")
	if xSet != ySet {
		return a, errors.New("--x and --y must be given together")
	}
	a.move = xSet
	if !a.move && !a.click && !a.rightClick && len(a.keys) == 0 && !a.shake {
		return a, errors.New("nothing to send: use --x/--y, --click, --rclick, --key or --shake")
	}
	return a, nil
}

func (a sendAction) run(ctx context.Context, inj inject.Injector, cfg *config.Config) error {
	if a.move {
		if err := inj.MoveAbsolute(ctx, a.x, a.y); err != nil {
			return fmt.Errorf("move: %w", err)
		}
		fmt.Println(ui.FormatAction("Moved to (%g, %g)", a.x, a.y))
	}
	if a.click {
		if err := inj.Click(ctx, cfg.Input.PrimaryButton); err != nil {
			return fmt.Errorf("click: %w", err)
		}
		fmt.Println(ui.FormatAction("Clicked!"))
	}
	if a.rightClick {
		if err := inj.Click(ctx, cfg.Input.SecondaryButton); err != nil {
			return fmt.Errorf("right click: %w", err)
		}
		fmt.Println(ui.FormatAction("Right-clicked!"))
	}
	for _, k := range a.keys {
		if err := inj.Key(ctx, uint32(k)); err != nil {
			return fmt.Errorf("key %d: %w", k, err)
		}
		fmt.Println(ui.FormatAction("Key %d sent", k))
	}
	if a.shake {
		err := inject.Shake(ctx, inj, inject.ShakeOptions{
			Count:    cfg.Input.ShakeCount,
			Distance: cfg.Input.ShakeDistance,
			Interval: cfg.Input.ShakeInterval,
		})
		if err != nil {
			return fmt.Errorf("shake: %w", err)
		}
		fmt.Println(ui.FormatAction("Shook %d times", cfg.Input.ShakeCount))
	}
	return nil
}

func init() {
	sendCmd.Flags().Float64Var(&sendFlags.x, "x", 0, "Absolute X position")
	sendCmd.Flags().Float64Var(&sendFlags.y, "y", 0, "Absolute Y position")
	sendCmd.Flags().BoolVar(&sendFlags.click, "click", false, "Left click")
	sendCmd.Flags().BoolVar(&sendFlags.rightClick, "rclick", false, "Right click")
	sendCmd.Flags().UintSliceVar(&sendFlags.keys, "key", nil, "Evdev keycode to press (repeatable)")
	sendCmd.Flags().BoolVar(&sendFlags.shake, "shake", false, "Shake the cursor")
	rootCmd.AddCommand(sendCmd)
}
