// Package local provides the builtin "local" protocol channel: a shell on
// the local machine under a PTY. Useful for dry runs and for driving
// tools that insist on a terminal.
package local

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/netpilot/netpilot"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func init() {
	netpilot.RegisterProtocol("local", New)
}

const (
	defaultShell    = "/bin/sh"
	defaultReadWait = 50 * time.Millisecond
)

var _ netpilot.Channel = (*Channel)(nil)

// Channel runs a local shell under a PTY and exposes it as a
// netpilot.Channel.
type Channel struct {
	protocol string
	opts     netpilot.ChannelOptions
	log      *zap.Logger

	cmd       *exec.Cmd
	tty       *os.File
	connected bool
}

// New builds an unconnected local channel. Registered under "local".
func New(protocol string, opts netpilot.ChannelOptions) (netpilot.Channel, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{protocol: protocol, opts: opts, log: log.Named("local")}, nil
}

// Protocol implements netpilot.Channel.
func (c *Channel) Protocol() string { return c.protocol }

// Connect starts the shell under a fresh PTY.
func (c *Channel) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	shell := c.opts.Shell
	if shell == "" {
		shell = defaultShell
	}
	cmd := exec.CommandContext(ctx, shell)
	tty, err := pty.Start(cmd)
	if err != nil {
		return errors.Wrapf(err, "local: starting %s under pty", shell)
	}
	c.cmd = cmd
	c.tty = tty
	c.connected = true
	c.log.Info("local shell started", zap.String("shell", shell))
	return nil
}

// Read returns whatever the shell produced within the configured
// ReadWait, or an empty result when it is quiet.
func (c *Channel) Read() ([]byte, error) {
	if !c.connected {
		return nil, errors.New("local: channel is not connected")
	}
	wait := c.opts.ReadWait
	if wait <= 0 {
		wait = defaultReadWait
	}
	if err := c.tty.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, errors.Wrap(err, "local: setting read deadline")
	}
	buf := make([]byte, 4096)
	n, err := c.tty.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return buf[:n], nil
		}
		return buf[:n], errors.Wrap(err, "local: reading from pty")
	}
	return buf[:n], nil
}

// Write implements netpilot.Channel.
func (c *Channel) Write(p []byte) (int, error) {
	if !c.connected {
		return 0, errors.New("local: channel is not connected")
	}
	n, err := c.tty.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "local: writing to pty")
	}
	return n, nil
}

// Disconnect closes the PTY and reaps the shell. Idempotent.
func (c *Channel) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	var errs error
	if err := c.tty.Close(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "local: closing pty"))
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = multierr.Append(errs, errors.Wrap(err, "local: killing shell"))
	}
	_ = c.cmd.Wait()
	c.log.Info("local shell stopped")
	return errs
}
