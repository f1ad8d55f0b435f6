package inject

import (
	"context"
	"sync"

	"github.com/bnema/portal-input/internal/portal"
)

// Notifier is the part of a portal session the Notify backend uses.
// *portal.Session implements it.
type Notifier interface {
	NotifyPointerMotion(ctx context.Context, dx, dy float64) error
	NotifyPointerMotionAbsolute(ctx context.Context, stream uint32, x, y float64) error
	NotifyPointerButton(ctx context.Context, button int32, state uint32) error
	NotifyKeyboardKeycode(ctx context.Context, keycode int32, state uint32) error
	Close() error
}

// PortalInjector sends input with the RemoteDesktop Notify methods.
// Absolute positions are relative to one ScreenCast stream.
type PortalInjector struct {
	n      Notifier
	stream uint32
	opts   Options

	mu     sync.Mutex
	closed bool
}

// NewPortal wraps a started portal session.
func NewPortal(n Notifier, stream uint32, opts Options) *PortalInjector {
	opts.applyDefaults()
	return &PortalInjector{n: n, stream: stream, opts: opts}
}

func (p *PortalInjector) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrInjectorClosed
	}
	return nil
}

func (p *PortalInjector) MoveAbsolute(ctx context.Context, x, y float64) error {
	if err := p.check(); err != nil {
		return err
	}
	return p.n.NotifyPointerMotionAbsolute(ctx, p.stream, x, y)
}

func (p *PortalInjector) MoveRelative(ctx context.Context, dx, dy float64) error {
	if err := p.check(); err != nil {
		return err
	}
	return p.n.NotifyPointerMotion(ctx, dx, dy)
}

func (p *PortalInjector) Click(ctx context.Context, button uint32) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := p.n.NotifyPointerButton(ctx, int32(button), portal.Pressed); err != nil {
		return err
	}
	p.opts.Sleep(p.opts.ClickDelay)
	return p.n.NotifyPointerButton(ctx, int32(button), portal.Released)
}

func (p *PortalInjector) Key(ctx context.Context, code uint32) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := p.n.NotifyKeyboardKeycode(ctx, int32(code), portal.Pressed); err != nil {
		return err
	}
	p.opts.Sleep(p.opts.ClickDelay)
	return p.n.NotifyKeyboardKeycode(ctx, int32(code), portal.Released)
}

// Close ends the portal session.
func (p *PortalInjector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.n.Close()
}
