// Package inject sends pointer and keyboard input through the portal,
// either with the RemoteDesktop Notify calls or over an EIS connection.
package inject

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInjectorClosed is returned when operating on a closed injector
	ErrInjectorClosed = errors.New("injector is closed")
	// ErrOutsideRegion is returned for absolute moves no device region covers
	ErrOutsideRegion = errors.New("position outside every device region")
)

// Injector emulates input on the desktop
type Injector interface {
	// MoveAbsolute warps the pointer to logical coordinates
	MoveAbsolute(ctx context.Context, x, y float64) error
	MoveRelative(ctx context.Context, dx, dy float64) error
	// Click presses and releases an evdev button code
	Click(ctx context.Context, button uint32) error
	// Key presses and releases an evdev key code
	Key(ctx context.Context, code uint32) error
	Close() error
}

// Options shared by both backends
type Options struct {
	// ClickDelay is the hold time between press and release
	ClickDelay time.Duration
	Sleep      func(time.Duration)
}

func (o *Options) applyDefaults() {
	if o.ClickDelay <= 0 {
		o.ClickDelay = 50 * time.Millisecond
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
}

// ShakeOptions describes a back-and-forth pointer test
type ShakeOptions struct {
	Count    int
	Distance float64
	Interval time.Duration
	Sleep    func(time.Duration)
	// OnStep is called before each cycle with its 1-based index
	OnStep func(i int)
}

// Shake moves the pointer right and back Count times.
func Shake(ctx context.Context, inj Injector, opts ShakeOptions) error {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	for i := 1; i <= opts.Count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.OnStep != nil {
			opts.OnStep(i)
		}
		if err := inj.MoveRelative(ctx, opts.Distance, 0); err != nil {
			return err
		}
		opts.Sleep(opts.Interval)
		if err := inj.MoveRelative(ctx, -opts.Distance, 0); err != nil {
			return err
		}
		opts.Sleep(opts.Interval)
	}
	return nil
}
