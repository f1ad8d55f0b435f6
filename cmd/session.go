package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/portal-input/internal/config"
	"github.com/bnema/portal-input/internal/eis"
	"github.com/bnema/portal-input/internal/inject"
	"github.com/bnema/portal-input/internal/logger"
	"github.com/bnema/portal-input/internal/portal"
	"github.com/bnema/portal-input/internal/ui"
	"github.com/spf13/cobra"
)

// connection bundles everything a command needs to send input.
type connection struct {
	injector inject.Injector
	session  *portal.Session
	portal   *portal.Portal
}

func (c *connection) Close() {
	if err := c.injector.Close(); err != nil {
		logger.Debug("Failed to close injector", "error", err)
	}
	if err := c.session.Close(); err != nil {
		logger.Debug("Failed to close portal session", "error", err)
	}
	if err := c.portal.Close(); err != nil {
		logger.Debug("Failed to close bus connection", "error", err)
	}
}

func injectOptions(cfg *config.Config) inject.Options {
	return inject.Options{ClickDelay: cfg.Input.ClickDelay}
}

func sessionOptions(cfg *config.Config) eis.Options {
	return eis.Options{
		Name:              cfg.Session.ClientName,
		PollInterval:      cfg.Session.PollInterval,
		HandshakeTimeout:  cfg.Session.HandshakeTimeout,
		DiscoveryTimeout:  cfg.Session.DiscoveryTimeout,
		MaxProtocolErrors: cfg.Session.MaxProtocolErrors,
		FlushRetries:      cfg.Session.FlushRetries,
	}
}

// connect runs the portal consent flow and sets up the configured
// injection backend. The EIS pump stops with ctx.
func connect(ctx context.Context) (*connection, error) {
	cfg := config.Get()

	p, err := portal.Open()
	if err != nil {
		return nil, err
	}

	fmt.Println(ui.FormatHeader("Creating Portal Session"))
	sess, err := p.Bootstrap(ctx)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start portal session: %w", err)
	}
	printSession(sess)

	c := &connection{session: sess, portal: p}
	switch cfg.Input.Backend {
	case config.BackendPortal:
		var stream uint32
		if len(sess.Streams) > 0 {
			stream = sess.Streams[0].NodeID
		}
		c.injector = inject.NewPortal(sess, stream, injectOptions(cfg))

	case config.BackendEIS:
		inj, err := connectEIS(ctx, sess, cfg)
		if err != nil {
			sess.Close()
			p.Close()
			return nil, err
		}
		c.injector = inj
		go func() {
			if err := inj.Run(ctx, cfg.Session.PollInterval); err != nil {
				logger.Error("EIS connection lost", "error", err)
			}
		}()

	default:
		sess.Close()
		p.Close()
		return nil, fmt.Errorf("unknown backend %q", cfg.Input.Backend)
	}

	logger.Debug("Input backend ready", "backend", cfg.Input.Backend)
	return c, nil
}

func connectEIS(ctx context.Context, sess *portal.Session, cfg *config.Config) (*inject.EISInjector, error) {
	fd, err := sess.ConnectToEIS(ctx)
	if err != nil {
		return nil, err
	}
	t, err := eis.NewFDTransport(fd)
	if err != nil {
		return nil, err
	}
	s := eis.NewSession(t, sessionOptions(cfg))

	inj, err := inject.ConnectEIS(ctx, s, injectOptions(cfg))
	if err != nil {
		s.Close()
		if errors.Is(err, eis.ErrDiscoveryTimeout) {
			return nil, fmt.Errorf("%w (did the consent dialog grant pointer access?)", err)
		}
		return nil, err
	}
	for _, dev := range inj.Devices() {
		fmt.Println(ui.FormatCheck(true, "EIS device", dev.String()))
		for _, r := range dev.Regions {
			fmt.Println(ui.FormatListItem("region " + r.String()))
		}
	}
	fmt.Println()
	return inj, nil
}

func printSession(sess *portal.Session) {
	fmt.Println(ui.FormatCheck(true, "Session active", ""))
	fmt.Println(ui.FormatKeyValue("Devices", sess.Devices))
	for i, st := range sess.Streams {
		fmt.Println(ui.FormatKeyValue(fmt.Sprintf("Stream %d", i), st))
	}
	if len(sess.Streams) == 0 {
		fmt.Fprintln(os.Stderr, ui.FormatWarning("no screencast stream, absolute moves may be rejected"))
	}
	fmt.Println()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
