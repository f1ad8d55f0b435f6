// Package interactive implements the line based command loop.
package interactive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/portal-input/internal/eis"
	"github.com/bnema/portal-input/internal/inject"
	"github.com/bnema/portal-input/internal/logger"
	"github.com/bnema/portal-input/internal/ui"
)

// Kind identifies a parsed command
type Kind int

const (
	Move Kind = iota
	Rel
	Click
	RightClick
	Key
	Shake
	Help
	Quit
)

// Command is one parsed input line
type Command struct {
	Kind Kind
	X, Y float64
	Code uint32
}

// ErrUnknownCommand is returned by Parse for an unrecognised verb
var ErrUnknownCommand = errors.New("unknown command")

// Parse reads one line. ok is false for blank lines.
func Parse(line string) (cmd Command, ok bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false, nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "move", "rel":
		if len(args) < 2 {
			return Command{}, true, fmt.Errorf("usage: %s X Y", verb)
		}
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return Command{}, true, fmt.Errorf("bad X %q", args[0])
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, true, fmt.Errorf("bad Y %q", args[1])
		}
		kind := Move
		if verb == "rel" {
			kind = Rel
		}
		return Command{Kind: kind, X: x, Y: y}, true, nil
	case "click":
		return Command{Kind: Click}, true, nil
	case "rclick":
		return Command{Kind: RightClick}, true, nil
	case "key":
		if len(args) < 1 {
			return Command{}, true, fmt.Errorf("usage: key CODE")
		}
		code, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return Command{}, true, fmt.Errorf("bad key code %q", args[0])
		}
		return Command{Kind: Key, Code: uint32(code)}, true, nil
	case "shake":
		return Command{Kind: Shake}, true, nil
	case "help", "?":
		return Command{Kind: Help}, true, nil
	case "quit", "exit", "q":
		return Command{Kind: Quit}, true, nil
	}
	return Command{}, true, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
}

// Settings for the loop
type Settings struct {
	PrimaryButton   uint32
	SecondaryButton uint32
	ShakeCount      int
	ShakeDistance   float64
	ShakeInterval   time.Duration
	Sleep           func(time.Duration)
}

// PrintHelp writes the command list.
func PrintHelp(out io.Writer) {
	fmt.Fprintln(out, ui.FormatHeader("Interactive Mode"))
	fmt.Fprintln(out, ui.FormatControl("move X Y ", "Move pointer (absolute)"))
	fmt.Fprintln(out, ui.FormatControl("rel DX DY", "Move pointer (relative)"))
	fmt.Fprintln(out, ui.FormatControl("click    ", "Left click"))
	fmt.Fprintln(out, ui.FormatControl("rclick   ", "Right click"))
	fmt.Fprintln(out, ui.FormatControl("key CODE ", "Keycode (28=Enter, 57=Space, 1=Esc)"))
	fmt.Fprintln(out, ui.FormatControl("shake    ", "Shake cursor"))
	fmt.Fprintln(out, ui.FormatControl("quit     ", "Exit"))
	fmt.Fprintln(out)
}

// line is one read from the input, or the error that ended it.
type line struct {
	text string
	err  error
}

// readLines scans in on its own goroutine so a blocked read cannot hold
// up cancellation. The channel closes at EOF. A read that never returns
// keeps the goroutine alive until in is closed.
func readLines(in io.Reader, stop <-chan struct{}) <-chan line {
	lines := make(chan line)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- line{text: scanner.Text()}:
			case <-stop:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- line{err: err}:
			case <-stop:
			}
		}
	}()
	return lines
}

// Run reads commands from in until quit, EOF, ctx ends or a connection
// failure. Bad input and rejected emissions are reported and the loop
// goes on.
func Run(ctx context.Context, in io.Reader, out io.Writer, inj inject.Injector, s Settings) error {
	PrintHelp(out)
	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(in, stop)
	for {
		fmt.Fprint(out, ui.PromptStyle.Render("> "))
		var l line
		var open bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, open = <-lines:
		}
		if !open || l.err != nil {
			fmt.Fprintln(out)
			return l.err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, ok, err := Parse(l.text)
		if !ok {
			continue
		}
		if err != nil {
			fmt.Fprintln(out, ui.FormatError(err))
			continue
		}
		if cmd.Kind == Quit {
			fmt.Fprintln(out, ui.SubtleStyle.Render("Closing session..."))
			return nil
		}

		err = execute(ctx, out, inj, s, cmd)
		if err == nil {
			continue
		}
		if fatal(err) {
			return err
		}
		logger.Debug("interactive command failed", "error", err)
		fmt.Fprintln(out, ui.FormatError(err))
	}
}

func execute(ctx context.Context, out io.Writer, inj inject.Injector, s Settings, cmd Command) error {
	switch cmd.Kind {
	case Move:
		if err := inj.MoveAbsolute(ctx, cmd.X, cmd.Y); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.FormatAction("Moved to (%g, %g)", cmd.X, cmd.Y))
	case Rel:
		if err := inj.MoveRelative(ctx, cmd.X, cmd.Y); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.FormatAction("Moved by (%g, %g)", cmd.X, cmd.Y))
	case Click:
		if err := inj.Click(ctx, s.PrimaryButton); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.FormatAction("Clicked!"))
	case RightClick:
		if err := inj.Click(ctx, s.SecondaryButton); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.FormatAction("Right-clicked!"))
	case Key:
		if err := inj.Key(ctx, cmd.Code); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.FormatAction("Key %d sent", cmd.Code))
	case Shake:
		fmt.Fprintln(out, ui.InfoStyle.Render("Shaking..."))
		err := inject.Shake(ctx, inj, inject.ShakeOptions{
			Count:    s.ShakeCount,
			Distance: s.ShakeDistance,
			Interval: s.ShakeInterval,
			Sleep:    s.Sleep,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.FormatAction("Done!"))
	case Help:
		PrintHelp(out)
	}
	return nil
}

// fatal reports errors after which no further input can be sent.
func fatal(err error) bool {
	var terr *eis.TransportError
	return errors.Is(err, eis.ErrDisconnected) ||
		errors.Is(err, eis.ErrTooManyProtocolErrors) ||
		errors.Is(err, inject.ErrInjectorClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &terr)
}
