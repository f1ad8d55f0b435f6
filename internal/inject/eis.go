package inject

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/portal-input/internal/eis"
	"github.com/bnema/portal-input/internal/logger"
)

// emitter is the part of *eis.Emitter the EIS backend drives.
type emitter interface {
	Begin() error
	Commit(timestampMicros uint64) error
	End() error
	MotionAbsolute(x, y float32) error
	MotionRelative(dx, dy float32) error
	Button(code uint32, state eis.ButtonState) error
	Key(code uint32, state eis.ButtonState) error
}

// eisSession is the part of *eis.Session the EIS backend drives.
type eisSession interface {
	Timestamp() uint64
	Dispatch() ([]eis.Event, error)
	Target(caps ...eis.Capability) (*eis.Device, error)
	Emitter(dev *eis.Device) (emitter, error)
	Devices() []*eis.Device
	Flush() error
	Close() error
}

// liveSession adapts *eis.Session to eisSession.
type liveSession struct{ *eis.Session }

func (s liveSession) Emitter(dev *eis.Device) (emitter, error) {
	em, err := s.Session.Emitter(dev)
	if err != nil {
		return nil, err
	}
	return em, nil
}

// Capability sets each kind of input needs, in order of preference.
var (
	absoluteTarget = [][]eis.Capability{{eis.CapPointerAbsolute}}
	relativeTarget = [][]eis.Capability{{eis.CapPointer}}
	keyboardTarget = [][]eis.Capability{{eis.CapKeyboard}}
	// Buttons go to a pointer device when there is one, absolute first.
	buttonTarget = [][]eis.Capability{
		{eis.CapButton, eis.CapPointerAbsolute},
		{eis.CapButton, eis.CapPointer},
		{eis.CapButton},
	}
)

// EISInjector emulates input over an EIS connection. Compositors may
// split capabilities across devices, so every call picks the device that
// offers what it needs. A Run goroutine keeps the connection serviced
// between emissions; both share one lock since the session is single
// threaded.
type EISInjector struct {
	session eisSession
	opts    Options

	mu     sync.Mutex
	err    error
	closed bool
}

// ConnectEIS completes the handshake on s and waits for a device that
// can take absolute motion. Devices for the other capabilities are used
// as the server announces them.
func ConnectEIS(ctx context.Context, s *eis.Session, opts Options) (*EISInjector, error) {
	if _, err := s.Handshake(ctx); err != nil {
		return nil, err
	}
	if _, err := s.WaitForDevice(ctx, nil); err != nil {
		return nil, err
	}
	return NewEIS(liveSession{s}, opts), nil
}

// NewEIS wraps an existing session.
func NewEIS(s eisSession, opts Options) *EISInjector {
	opts.applyDefaults()
	return &EISInjector{session: s, opts: opts}
}

// Devices lists the devices input can currently go to.
func (e *EISInjector) Devices() []*eis.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Devices()
}

// Run services the connection every interval until ctx ends or the
// connection fails. After a failure every emission returns the error.
func (e *EISInjector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := e.Pump(); err != nil {
			if errors.Is(err, ErrInjectorClosed) {
				return nil
			}
			return err
		}
	}
}

// Pump runs one dispatch pass. Pauses and removals only affect the
// device they name; the next emission picks another target if needed.
func (e *EISInjector) Pump() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return err
	}

	events, err := e.session.Dispatch()
	for _, ev := range events {
		switch ev := ev.(type) {
		case eis.DevicePaused:
			logger.Warn("EIS device paused, input is dropped until resume", "device", ev.Device.Name, "serial", ev.Serial)
		case eis.DeviceResumed:
			logger.Info("EIS device resumed", "device", ev.Device.Name, "serial", ev.Serial)
		case eis.DeviceRemoved:
			logger.Warn("EIS device removed", "device", ev.Device.Name, "remaining", len(e.session.Devices()))
		case eis.Disconnected:
			if err == nil {
				err = fmt.Errorf("%w: %s (%s)", eis.ErrDisconnected, ev.Reason, ev.Explanation)
			}
		}
	}
	if err != nil {
		e.err = err
	}
	return err
}

func (e *EISInjector) usable() error {
	if e.closed {
		return ErrInjectorClosed
	}
	return e.err
}

// target resolves the device and emitter for the first capability set
// some device offers. Callers hold mu.
func (e *EISInjector) target(choices [][]eis.Capability) (*eis.Device, emitter, error) {
	var lastErr error
	for _, caps := range choices {
		dev, err := e.session.Target(caps...)
		if err != nil {
			lastErr = err
			continue
		}
		em, err := e.session.Emitter(dev)
		if err != nil {
			return nil, nil, err
		}
		return dev, em, nil
	}
	return nil, nil, lastErr
}

// emit runs stage inside one bracket and frame on the resolved target,
// then flushes. check may reject the target before anything is sent.
func (e *EISInjector) emit(choices [][]eis.Capability, check func(*eis.Device) error, stage func(emitter) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return err
	}
	dev, em, err := e.target(choices)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(dev); err != nil {
			return err
		}
	}
	if err := em.Begin(); err != nil {
		return err
	}
	if err := stage(em); err != nil {
		return errors.Join(err, em.End())
	}
	if err := em.Commit(e.session.Timestamp()); err != nil {
		return errors.Join(err, em.End())
	}
	if err := em.End(); err != nil {
		return err
	}
	return e.session.Flush()
}

// press sends a press frame, waits and sends a release frame in one
// bracket on the resolved target.
func (e *EISInjector) press(choices [][]eis.Capability, send func(emitter, eis.ButtonState) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return err
	}
	_, em, err := e.target(choices)
	if err != nil {
		return err
	}
	if err := em.Begin(); err != nil {
		return err
	}
	for _, state := range []eis.ButtonState{eis.Press, eis.Release} {
		if state == eis.Release {
			e.opts.Sleep(e.opts.ClickDelay)
		}
		if err := send(em, state); err != nil {
			return errors.Join(err, em.End())
		}
		if err := em.Commit(e.session.Timestamp()); err != nil {
			return errors.Join(err, em.End())
		}
		if err := e.session.Flush(); err != nil {
			return err
		}
	}
	if err := em.End(); err != nil {
		return err
	}
	return e.session.Flush()
}

func (e *EISInjector) MoveAbsolute(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inside := func(dev *eis.Device) error {
		if len(dev.Regions) == 0 {
			return nil
		}
		if _, ok := dev.RegionAt(x, y); !ok {
			return fmt.Errorf("%w: (%.0f, %.0f)", ErrOutsideRegion, x, y)
		}
		return nil
	}
	return e.emit(absoluteTarget, inside, func(em emitter) error {
		return em.MotionAbsolute(float32(x), float32(y))
	})
}

func (e *EISInjector) MoveRelative(ctx context.Context, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.emit(relativeTarget, nil, func(em emitter) error {
		return em.MotionRelative(float32(dx), float32(dy))
	})
}

func (e *EISInjector) Click(ctx context.Context, button uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.press(buttonTarget, func(em emitter, s eis.ButtonState) error { return em.Button(button, s) })
}

func (e *EISInjector) Key(ctx context.Context, code uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.press(keyboardTarget, func(em emitter, s eis.ButtonState) error { return em.Key(code, s) })
}

// Close disconnects from the EIS server.
func (e *EISInjector) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.session.Close()
}
