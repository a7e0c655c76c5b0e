// Package telnet provides the builtin "telnet" protocol channel on top of
// a telnet-aware TCP connection.
package telnet

import (
	"context"
	"net"
	"strconv"
	"time"

	gote "github.com/morganhein/go-telnet"
	"github.com/netpilot/netpilot"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func init() {
	netpilot.RegisterProtocol("telnet", New)
}

const (
	defaultPort     = 23
	defaultReadWait = 50 * time.Millisecond
)

var _ netpilot.Channel = (*Channel)(nil)

// Channel is a telnet-backed netpilot.Channel. Read uses a short read
// deadline on the connection so a quiet remote yields an empty read
// instead of blocking the poll loop.
type Channel struct {
	protocol string
	opts     netpilot.ChannelOptions
	log      *zap.Logger

	conn      net.Conn
	connected bool
}

// New builds an unconnected telnet channel. Registered under "telnet".
func New(protocol string, opts netpilot.ChannelOptions) (netpilot.Channel, error) {
	if opts.Host == "" {
		return nil, errors.New("telnet: host is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{protocol: protocol, opts: opts, log: log.Named("telnet")}, nil
}

// Protocol implements netpilot.Channel.
func (c *Channel) Protocol() string { return c.protocol }

// Connect dials the remote host.
func (c *Channel) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	port := c.opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(port))

	type dialResult struct {
		conn net.Conn
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := gote.Dial("tcp", addr)
		dialed <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-dialed:
		if r.err != nil {
			return errors.Wrapf(r.err, "telnet: dialing %s", addr)
		}
		c.conn = r.conn
	}
	c.connected = true
	c.log.Info("telnet connection established", zap.String("addr", addr))
	return nil
}

// Read returns whatever arrives within the configured ReadWait, or an
// empty result when the remote is quiet.
func (c *Channel) Read() ([]byte, error) {
	if !c.connected {
		return nil, errors.New("telnet: channel is not connected")
	}
	wait := c.opts.ReadWait
	if wait <= 0 {
		wait = defaultReadWait
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, errors.Wrap(err, "telnet: setting read deadline")
	}
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return buf[:n], nil
		}
		return buf[:n], errors.Wrap(err, "telnet: reading from connection")
	}
	return buf[:n], nil
}

// Write implements netpilot.Channel.
func (c *Channel) Write(p []byte) (int, error) {
	if !c.connected {
		return 0, errors.New("telnet: channel is not connected")
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "telnet: writing to connection")
	}
	return n, nil
}

// Disconnect closes the connection. Idempotent.
func (c *Channel) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	if err := c.conn.Close(); err != nil {
		return errors.Wrap(err, "telnet: closing connection")
	}
	c.log.Info("telnet connection closed")
	return nil
}
