package netpilot

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Channel is an abstract byte transport to a remote interactive session.
// It knows nothing about prompts or commands; the Client layers those on
// top of raw reads and writes.
type Channel interface {
	// Connect establishes the transport.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down. It must be safe to call more
	// than once.
	Disconnect() error

	// Read returns zero or more newly available bytes. It may block for an
	// implementation-defined duration and may return (nil, nil) without
	// signaling end of stream.
	Read() ([]byte, error)

	// Write transmits the full payload, blocking until the transport has
	// accepted it.
	Write(p []byte) (int, error)

	// Protocol returns the protocol name the channel was registered under.
	Protocol() string
}

// ChannelOptions carries the transport parameters Dispatch forwards
// verbatim to a ChannelFactory. Individual channels ignore fields they
// have no use for.
type ChannelOptions struct {
	// Host is the target hostname or IP address.
	Host string
	// Port is the target TCP port. Zero selects the protocol's default.
	Port int
	// Username is the login username, where the protocol authenticates.
	Username string
	// Password is the login password, where the protocol authenticates.
	Password string
	// PrivateKeyPEM is an optional PEM-encoded private key.
	PrivateKeyPEM string
	// Shell overrides the remote or local shell (empty = default).
	Shell string
	// Term is the terminal type requested for the PTY (empty = "xterm").
	Term string
	// DialTimeout bounds connection establishment. Zero = 10s.
	DialTimeout time.Duration
	// ReadWait bounds one Read call while no data is available. Zero = 50ms.
	ReadWait time.Duration
	// Logger receives transport-level logs. Nil = no logging.
	Logger *zap.Logger
}

// Open connects t and returns a release func for deferred teardown. The
// release always attempts a disconnect and logs rather than returns its
// failure, so a disconnect error can never shadow whatever error is
// already propagating on the caller's path.
func Open(ctx context.Context, t Terminal, logger *zap.Logger) (func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := t.Disconnect(); err != nil {
			logger.Error("failed to gracefully disconnect", zap.Error(err))
		}
	}, nil
}
