// Package ssh provides the builtin "ssh" protocol channel: an SSH client
// session with a remote PTY and an interactive shell.
package ssh

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/netpilot/netpilot"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
)

func init() {
	netpilot.RegisterProtocol("ssh", New)
}

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultReadWait    = 50 * time.Millisecond
	defaultTerm        = "xterm"
)

var _ netpilot.Channel = (*Channel)(nil)

// Channel is an SSH-backed netpilot.Channel. A background pump drains the
// remote shell's stdout/stderr into a queue so Read can return within a
// bounded wait instead of blocking on the pipe.
type Channel struct {
	protocol string
	opts     netpilot.ChannelOptions
	log      *zap.Logger

	client  *gossh.Client
	session *gossh.Session
	stdin   io.WriteCloser

	out       chan []byte
	pumpErr   chan error
	connected bool
}

// New builds an unconnected SSH channel. Registered under "ssh".
func New(protocol string, opts netpilot.ChannelOptions) (netpilot.Channel, error) {
	if opts.Host == "" {
		return nil, errors.New("ssh: host is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{protocol: protocol, opts: opts, log: log.Named("ssh")}, nil
}

// Protocol implements netpilot.Channel.
func (c *Channel) Protocol() string { return c.protocol }

func (c *Channel) authMethods() ([]gossh.AuthMethod, error) {
	var methods []gossh.AuthMethod
	if c.opts.PrivateKeyPEM != "" {
		signer, err := gossh.ParsePrivateKey([]byte(c.opts.PrivateKeyPEM))
		if err != nil {
			return nil, errors.Wrap(err, "ssh: parsing private key")
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}
	if c.opts.Password != "" {
		methods = append(methods, gossh.Password(c.opts.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("ssh: no authentication material supplied")
	}
	return methods, nil
}

// Connect dials the host, requests a PTY, and starts the remote shell.
func (c *Channel) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	auth, err := c.authMethods()
	if err != nil {
		return err
	}
	dialTimeout := c.opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	port := c.opts.Port
	if port == 0 {
		port = defaultPort
	}
	cfg := &gossh.ClientConfig{
		User:            c.opts.Username,
		Auth:            auth,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // operator tooling; host trust is out of scope
		Timeout:         dialTimeout,
	}
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(port))

	// gossh.Dial has no context support; respect cancellation around it.
	type dialResult struct {
		client *gossh.Client
		err    error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		client, err := gossh.Dial("tcp", addr, cfg)
		dialed <- dialResult{client, err}
	}()

	var client *gossh.Client
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-dialed:
		if r.err != nil {
			return errors.Wrapf(r.err, "ssh: dialing %s", addr)
		}
		client = r.client
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return errors.Wrap(err, "ssh: opening session")
	}

	term := c.opts.Term
	if term == "" {
		term = defaultTerm
	}
	modes := gossh.TerminalModes{
		gossh.ECHO:          1,
		gossh.TTY_OP_ISPEED: 14400,
		gossh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return errors.Wrap(err, "ssh: requesting pty")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return errors.Wrap(err, "ssh: stdin pipe")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return errors.Wrap(err, "ssh: stdout pipe")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return errors.Wrap(err, "ssh: stderr pipe")
	}

	shellErr := func() error {
		if c.opts.Shell != "" {
			return session.Start(c.opts.Shell)
		}
		return session.Shell()
	}()
	if shellErr != nil {
		session.Close()
		client.Close()
		return errors.Wrap(shellErr, "ssh: starting shell")
	}

	c.client = client
	c.session = session
	c.stdin = stdin
	c.out = make(chan []byte, 64)
	c.pumpErr = make(chan error, 2)
	go c.pump(stdout)
	go c.pump(stderr)
	c.connected = true
	c.log.Info("ssh session established", zap.String("addr", addr))
	return nil
}

// pump drains r into the output queue until the stream ends.
func (c *Channel) pump(r io.Reader) {
	out, errc := c.out, c.pumpErr
	for {
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		if n > 0 {
			out <- buf[:n]
		}
		if err != nil {
			errc <- err
			return
		}
	}
}

// Read returns whatever the pumps have queued, waiting up to the
// configured ReadWait for data before returning empty.
func (c *Channel) Read() ([]byte, error) {
	if !c.connected {
		return nil, errors.New("ssh: channel is not connected")
	}
	wait := c.opts.ReadWait
	if wait <= 0 {
		wait = defaultReadWait
	}
	select {
	case chunk := <-c.out:
		return chunk, nil
	case err := <-c.pumpErr:
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "ssh: reading from session")
	case <-time.After(wait):
		return nil, nil
	}
}

// Write implements netpilot.Channel.
func (c *Channel) Write(p []byte) (int, error) {
	if !c.connected {
		return 0, errors.New("ssh: channel is not connected")
	}
	n, err := c.stdin.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "ssh: writing to session")
	}
	return n, nil
}

// Disconnect closes the session and the client connection. Idempotent.
func (c *Channel) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	var errs error
	if err := c.session.Close(); err != nil && err != io.EOF {
		errs = multierr.Append(errs, errors.Wrap(err, "ssh: closing session"))
	}
	if err := c.client.Close(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "ssh: closing connection"))
	}
	c.log.Info("ssh session closed")
	return errs
}
